package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/EcMarius/numz.ai-sub009/pkg/billing"
	"github.com/EcMarius/numz.ai-sub009/pkg/config"
	"github.com/EcMarius/numz.ai-sub009/pkg/entitlement"
	"github.com/EcMarius/numz.ai-sub009/pkg/httpserver"
	"github.com/EcMarius/numz.ai-sub009/pkg/logger"
	"github.com/EcMarius/numz.ai-sub009/pkg/notification"
	"github.com/EcMarius/numz.ai-sub009/pkg/pg"
	"github.com/EcMarius/numz.ai-sub009/pkg/redis"
	"github.com/EcMarius/numz.ai-sub009/pkg/requestid"
	"github.com/EcMarius/numz.ai-sub009/pkg/subscription"
	"github.com/EcMarius/numz.ai-sub009/pkg/webhookin"
)

type appConfig struct {
	Environment     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	PlanCatalogPath string        `env:"PLAN_CATALOG_PATH" envDefault:"plans.yml"`
	WebhookSecret   string        `env:"BILLING_WEBHOOK_SECRET,required"`
	DedupeTTL       time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"24h"`
	CheckoutSuccess string        `env:"CHECKOUT_SUCCESS_URL,required"`
	CheckoutCancel  string        `env:"CHECKOUT_CANCEL_URL,required"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(cfg.Environment, "billingd"),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var stripeCfg billing.StripeConfig
	config.MustLoad(&stripeCfg)
	provider, err := billing.NewStripeProvider(stripeCfg)
	if err != nil {
		return err
	}

	catalog, err := subscription.NewCatalog(ctx, subscription.NewYAMLPlanSource(cfg.PlanCatalogPath))
	if err != nil {
		return err
	}

	subs := subscription.NewPostgresSubscriptionStore(pool)
	history := subscription.NewPostgresHistoryStore(pool)
	pending := subscription.NewPostgresPendingChangeStore(pool)

	hub := notification.NewHub[subscription.ChangeEvent](64)
	defer hub.Close()

	service := subscription.NewService(subs, history, pending, provider, catalog,
		subscription.WithLogger(log),
		subscription.WithEventPublisher(hub),
		subscription.WithCheckoutURLs(cfg.CheckoutSuccess, cfg.CheckoutCancel),
	)
	counters := entitlement.NewRegistry()
	counters.Register(subscription.ResourceSeats, func(ctx context.Context, customerID uuid.UUID) (int64, error) {
		sub, err := subs.GetByCustomerID(ctx, customerID)
		if err != nil {
			return 0, err
		}
		return int64(sub.SeatsUsed), nil
	})
	ent := entitlement.NewService(subs, counters)

	directory := customerDirectory(pool)

	engine := subscription.NewEngine(subs, history, catalog, provider,
		subscription.WithEngineLogger(log),
		subscription.WithCustomerResolver(directory),
		subscription.WithEngineEventPublisher(hub),
	)

	var mailCfg notification.Config
	config.MustLoad(&mailCfg)
	if sender, err := notification.NewPostmarkSender(mailCfg); err != nil {
		log.WarnContext(ctx, "email notifications disabled", logger.Error(err))
	} else {
		consumer := notification.NewConsumer(hub, sender, directory, catalog, mailCfg.ProductName, log)
		go consumer.Run(ctx)
	}

	deduper := webhookin.NewRedisDeduper(redisClient, cfg.DedupeTTL)
	webhooks := webhookin.NewHandler(cfg.WebhookSecret, engine, deduper, webhookin.WithLogger(log))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Mount("/webhooks", webhookin.Router(webhooks))
	r.Mount("/api", apiRouter(service, ent))
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool),
		redis.Healthcheck(redisClient),
	))

	srv := httpserver.New(
		httpserver.WithAddr(cfg.HTTPAddr),
		httpserver.WithLogger(log),
		httpserver.WithShutdownTimeout(10*time.Second),
	)
	return srv.Run(ctx, r)
}
