package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func callbacksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callbacks [payment-id]",
		Short: "List archived provider callbacks for a payment",
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

			if a.archive == nil {
				return fmt.Errorf("callback archive not configured, set MONGO_URI")
			}

			records, err := a.archive.ListByPayment(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No callbacks archived.")
				return nil
			}

			showBody, _ := cmd.Flags().GetBool("body")
			fmt.Printf("Callbacks for %s\n", id)
			fmt.Println(strings.Repeat("=", 40))
			for _, rec := range records {
				code := "-"
				if rec.ResultCode != nil {
					code = fmt.Sprintf("%d", *rec.ResultCode)
				}
				fmt.Printf("  %s  %-15s code=%s\n", rec.ReceivedAt.Format("2006-01-02 15:04:05"), rec.RemoteAddr, code)
				if showBody {
					fmt.Printf("    %s\n", rec.Body)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolP("body", "b", false, "Print raw callback bodies")

	return cmd
}
