package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"roadmap/internal/ai"
	"roadmap/internal/api/handlers"
	"roadmap/internal/auth"
	"roadmap/internal/billing"
	"roadmap/internal/cache"
	"roadmap/internal/config"
	"roadmap/internal/core"
	"roadmap/internal/db"
	"roadmap/internal/docstore"
	"roadmap/internal/external"
	"roadmap/internal/notify"
	"roadmap/internal/store"
	"roadmap/internal/types"
	"roadmap/internal/usage"
	"roadmap/internal/webhooks"
)

// buildServer connects every dependency and returns a server with its route
// groups filled. Resources opened here are closed by srv.Shutdown.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	stores, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	srv.OnShutdown(stores.Close)
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "store", Fn: stores.Ping})

	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	srv.OnShutdown(func(context.Context) error { return rdb.Close() })
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "cache", Fn: cache.Healthcheck(rdb)})

	var regOpts []external.RegistryOption
	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		awsCfg = &loaded
		regOpts = append(regOpts, external.WithAWSConfig(loaded))
	}

	clients, err := external.NewClientRegistry(cfg, logger, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("building external clients: %w", err)
	}

	notifier, err := buildNotifier(cfg, clients.Email, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	authn, err := auth.NewClerkAuthenticator(ctx, cfg.Identity, cfg.Security.TrimmedOrigins(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating clerk authenticator: %w", err)
	}
	srv.Authenticator = authn

	svix, err := auth.NewSvixVerifier(cfg.Identity.ClerkWebhookSecret.Unmask(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating svix verifier: %w", err)
	}

	if cfg.RateLimit.Enabled {
		srv.RateLimits = cache.NewRateLimiter(rdb)
	}

	var (
		clock     types.Clock = types.RealClock{}
		catalog               = billing.NewPlanCatalog(stores.Plans, logger)
		counter               = usage.NewCounter(stores.Users, clock, logger)
		gate                  = usage.NewGate(counter, stores.Users, catalog, logger)
		dedup                 = cache.NewEventDedup(rdb, cfg.Redis.EventDedupTTL)
		subCache              = cache.NewSubscriptionCache(rdb, cfg.Redis.CustomerIDTTL)
		streaks               = cache.NewStreakStore(rdb)
		generator             = ai.NewService(clients.Chat, clients.Gemini, logger)
	)

	stripeReconciler := webhooks.NewStripeReconciler(webhooks.StripeConfig{
		Users:     stores.Users,
		Plans:     catalog,
		Customers: clients.Billing,
		Snapshots: subCache,
		Dedup:     dedup,
		Notifier:  notifier,
		Clock:     clock,
		Logger:    logger.With("component", "stripe_reconciler"),
	})
	clerkReconciler := webhooks.NewClerkReconciler(webhooks.ClerkConfig{
		Users:     stores.Users,
		Plans:     catalog,
		Directory: clients.Identity,
		Dedup:     dedup,
		Notifier:  notifier,
		Clock:     clock,
		Logger:    logger.With("component", "clerk_reconciler"),
	})

	v := srv.Validator
	registerHandlers(srv, handlerSet{
		users:  handlers.NewUserHandler(stores.Users, catalog, gate, streaks, clock, v, logger),
		skills: handlers.NewSkillHandler(stores.Users, stores.Skills, stores.Topics, stores.Tasks, gate, v, logger),
		topics: handlers.NewTopicHandler(stores.Users, stores.Skills, stores.Topics, stores.Tasks, gate, v, logger),
		tasks:  handlers.NewTaskHandler(stores.Users, stores.Skills, stores.Topics, stores.Tasks, v, logger),
		subscription: handlers.NewSubscriptionHandler(stores.Users, catalog, clients.Billing, subCache,
			handlers.SubscriptionConfig{FrontendURL: cfg.Server.FrontendURL, TrialDays: cfg.Billing.TrialDays},
			v, logger),
		ai: handlers.NewAIHandler(stores.Users, stores.Skills, stores.Topics, stores.Tasks, generator, v, logger),
		webhooks: handlers.NewWebhookHandler(stripeReconciler, cfg.Billing.StripeWebhookSecret.Unmask(),
			clerkReconciler, svix, logger),
		admin: handlers.NewAdminHandler(catalog, cfg.Billing.ProPriceID, logger),
	})

	return srv, nil
}

// handlerSet groups the HTTP handlers mounted by the API.
type handlerSet struct {
	users        *handlers.UserHandler
	skills       *handlers.SkillHandler
	topics       *handlers.TopicHandler
	tasks        *handlers.TaskHandler
	subscription *handlers.SubscriptionHandler
	ai           *handlers.AIHandler
	webhooks     *handlers.WebhookHandler
	admin        *handlers.AdminHandler
}

// registerHandlers places each handler in its route group.
func registerHandlers(srv *core.Server, h handlerSet) {
	srv.APIRoutes = append(srv.APIRoutes,
		h.users.RegisterRoutes,
		h.skills.RegisterRoutes,
		h.topics.RegisterRoutes,
		h.tasks.RegisterRoutes,
		h.subscription.RegisterRoutes,
	)
	srv.AIRoutes = append(srv.AIRoutes, h.ai.RegisterRoutes)
	srv.WebhookRoutes = append(srv.WebhookRoutes, h.webhooks.RegisterRoutes)
	srv.AdminRoutes = append(srv.AdminRoutes, h.admin.RegisterRoutes)
}

// openStore connects the configured document store.
func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Set, error) {
	switch cfg.Driver {
	case config.StoreDriverMongo:
		client, err := docstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return docstore.NewSet(client, cfg.MongoDatabase), nil
	default:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db.NewSet(pool), nil
	}
}

func needsAWS(cfg *config.Config) bool {
	if !cfg.Email.Enabled {
		return false
	}
	return cfg.Email.Provider == config.EmailProviderSES || cfg.Email.NotifyMode == config.NotifyModeQueue
}

// buildNotifier returns the inline sender or the SQS publisher depending on
// NOTIFY_MODE. Disabled email still renders, into the stub sender.
func buildNotifier(cfg *config.Config, email external.EmailSender, awsCfg *aws.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.Email.Enabled && cfg.Email.NotifyMode == config.NotifyModeQueue {
		if awsCfg == nil {
			return nil, fmt.Errorf("notify mode queue requires an AWS config")
		}
		client := sqs.NewFromConfig(*awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return notify.NewQueuePublisher(client, cfg.AWS.NotificationQueueURL, logger.With("component", "notify_queue")), nil
	}

	renderer, err := notify.NewRenderer(cfg.Server.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}
	return notify.NewDirectNotifier(renderer, email, notify.Sender{
		Address: cfg.Email.FromAddress,
		Name:    cfg.Email.FromName,
	}, nil, logger.With("component", "notify")), nil
}
