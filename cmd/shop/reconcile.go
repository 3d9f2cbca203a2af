package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fjod/go_shop/internal/config"
	"github.com/fjod/go_shop/internal/domain"
)

func loadForCommand(cmd *cobra.Command) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogger(cfg)
	return buildApp(cmd.Context(), cfg)
}

func parsePaymentID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: payment id must be a UUID", domain.ErrValidation)
	}
	return id, nil
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [payment-id]",
		Short: "Query the provider once for a pending payment and apply the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePaymentID(args[0])
			if err != nil {
				return err
			}
			a, err := loadForCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.engine.ReconcilePayment(cmd.Context(), id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"payment_id":      p.ID,
				"order_id":        p.OrderID,
				"status":          p.Status,
				"transaction_ref": p.Ref(),
				"amount":          domain.DecimalAmount(p.AmountCents),
			})
		},
	}
}
