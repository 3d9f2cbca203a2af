package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fjod/go_shop/internal/archive"
	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/checkout"
	"github.com/fjod/go_shop/internal/config"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/events"
	"github.com/fjod/go_shop/internal/mpesa"
	"github.com/fjod/go_shop/internal/notify"
	"github.com/fjod/go_shop/internal/payment"
	"github.com/fjod/go_shop/internal/receipt"
	"github.com/fjod/go_shop/internal/repository"
	"github.com/fjod/go_shop/internal/repository/memory"
	"github.com/fjod/go_shop/pkg/logger"
)

// shopStore is what both the Postgres repository and the in-memory store provide.
type shopStore interface {
	payment.Store
	receipt.Store
	checkout.Store
	ListOrdersForUser(ctx context.Context, userID string) ([]*domain.Order, error)
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type app struct {
	cfg      *config.Config
	store    shopStore
	tx       txRunner
	engine   *payment.Engine
	receipts *receipt.Issuer
	checkout *checkout.Service
	archive  *archive.CallbackArchive
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close resource", "error", err)
		}
	}
}

func setupLogger(cfg *config.Config) {
	slog.SetDefault(logger.New(cfg.LogLevel))
	// Incoming traceparent headers become the parent of otelhttp server spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func credentials(cfg *config.Config) (*repository.Credentials, error) {
	port, err := strconv.Atoi(cfg.DBPort)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DB_PORT %q", domain.ErrValidation, cfg.DBPort)
	}
	return &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              port,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}, nil
}

// buildApp wires every collaborator. Optional infrastructure is skipped when unconfigured.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	switch cfg.Store {
	case "memory":
		store := memory.NewStore()
		a.store, a.tx = store, store
		slog.Warn("using in-memory store, data is lost on exit")
	default:
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		repo, err := repository.NewRepository(creds)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.RunMigrations(creds); err != nil {
			return nil, err
		}
		slog.Info("database migrations completed")
		a.store, a.tx = repo, repo.TxManager()
	}

	deps := payment.Deps{
		Store:    a.store,
		Tx:       a.tx,
		Notifier: notify.NoopMailer{},
		Gateway: mpesa.NewClient(mpesa.Config{
			BaseURL:        cfg.MpesaBaseURL,
			ConsumerKey:    cfg.MpesaConsumerKey,
			ConsumerSecret: cfg.MpesaConsumerSecret,
			ShortCode:      cfg.MpesaShortCode,
			PassKey:        cfg.MpesaPassKey,
			Timeout:        cfg.MpesaTimeout,
		}, nil),
	}

	a.receipts = receipt.NewIssuer(a.store, a.tx)
	deps.Receipts = a.receipts

	if cfg.EmailEnabled() {
		sender := notify.NewZeptoMailSender(notify.ZeptoConfig{
			APIURL: cfg.ZeptoAPIURL,
			APIKey: cfg.ZeptoAPIKey,
			From:   cfg.EmailFrom,
		}, nil)
		deps.Notifier = notify.NewOrderMailer(sender)
	} else {
		slog.Info("email disabled, ZEPTO_API_URL/ZEPTO_API_KEY/EMAIL_FROM not set")
	}

	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		deps.PollGate = cache.NewPollThrottle(client, cfg.PollThrottle)
		slog.Info("redis poll throttle enabled", "addr", cfg.RedisAddr, "window", cfg.PollThrottle)
	}

	if cfg.MongoURI != "" {
		db, err := archive.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			return db.Client().Disconnect(context.Background())
		})
		a.archive = archive.NewCallbackArchive(db)
		if err := a.archive.CreateIndexes(ctx); err != nil {
			return nil, err
		}
		slog.Info("callback archive enabled", "db", cfg.MongoDBName)
	}

	publisher := events.NewPublisher(nil)
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewPublisher(events.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...))
		a.closers = append(a.closers, publisher.Close)
		slog.Info("kafka events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	deps.Events = publisher

	a.engine = payment.NewEngine(deps, payment.Config{
		CallbackBaseURL: cfg.MpesaCallbackBaseURL,
		PollTimeout:     cfg.MpesaPollTimeout,
	})
	a.checkout = checkout.NewService(a.store, a.tx, a.engine, cfg.Currency)

	ok = true
	return a, nil
}
