package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/consumer"
	"github.com/creditrail/creditrail/internal/domain/allocation"
	"github.com/creditrail/creditrail/internal/domain/appregistry"
	"github.com/creditrail/creditrail/internal/domain/credit"
	"github.com/creditrail/creditrail/internal/domain/entity"
	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/domain/opconfig"
	"github.com/creditrail/creditrail/internal/domain/purchase"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/rabbitmq"
	"github.com/creditrail/creditrail/internal/reliability"
	"github.com/creditrail/creditrail/internal/repository"
	"github.com/creditrail/creditrail/internal/scheduler"
	"github.com/creditrail/creditrail/internal/service"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/creditrail/creditrail/internal/validator"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
	_ = godotenv.Load()
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			validator.NewValidator,
			config.NewConfig,
			logger.NewLogger,

			// Postgres
			postgres.NewDB,
			provideStorageClient,

			// Broker
			rabbitmq.NewConnection,
			rabbitmq.NewEventPublisher,
			provideRetryScanner,
			provideEventPublisher,

			// Redis stream
			provideRedisClient,
			provideStream,

			// Repositories
			repository.NewCreditRepository,
			repository.NewEntityRepository,
			repository.NewPurchaseRepository,
			repository.NewAllocationRepository,
			repository.NewOperationConfigRepository,
			repository.NewAppRegistryRepository,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			provideServiceParams,
			service.NewLedgerService,
			service.NewConfigResolverService,
			service.NewAllocationService,
			service.NewCreditService,
		),
	)

	// Background loops
	opts = append(opts,
		fx.Provide(
			scheduler.NewExpiryScheduler,
			consumer.NewRuntime,
		),
		fx.Invoke(start),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideStorageClient(db *postgres.DB) postgres.IClient {
	return db
}

// provideRetryScanner re-publishes through the broker publisher directly so a
// retried event is not tracked a second time.
func provideRetryScanner(cfg *config.Configuration, log *logger.Logger, broker *rabbitmq.EventPublisher) *scheduler.RetryScanner {
	return scheduler.NewRetryScanner(cfg, log, broker)
}

// provideEventPublisher hands the rest of the application a publisher that
// registers every confirmed publish with the retry scanner.
func provideEventPublisher(broker *rabbitmq.EventPublisher, scanner *scheduler.RetryScanner) publisher.EventPublisher {
	return scheduler.NewTrackedPublisher(broker, scanner)
}

func provideRedisClient(cfg *config.Configuration) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func provideStream(client redis.UniversalClient) consumer.Stream {
	return consumer.NewRedisStream(client)
}

func provideServiceParams(
	log *logger.Logger,
	cfg *config.Configuration,
	db postgres.IClient,
	pub publisher.EventPublisher,
	creditRepo credit.Repository,
	entityRepo entity.Repository,
	purchaseRepo purchase.Repository,
	allocationRepo allocation.Repository,
	opConfigRepo opconfig.Repository,
	appRegistryRepo appregistry.Repository,
) service.ServiceParams {
	return service.ServiceParams{
		Logger:          log,
		Config:          cfg,
		DB:              db,
		EventPublisher:  pub,
		CreditRepo:      creditRepo,
		EntityRepo:      entityRepo,
		PurchaseRepo:    purchaseRepo,
		AllocationRepo:  allocationRepo,
		OpConfigRepo:    opConfigRepo,
		AppRegistryRepo: appRegistryRepo,
	}
}

func start(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	log *logger.Logger,
	db *postgres.DB,
	pub publisher.EventPublisher,
	expiry *scheduler.ExpiryScheduler,
	retry *scheduler.RetryScanner,
	runtime *consumer.Runtime,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	profile := reliability.Default()
	log.Infow("reliability profile loaded",
		"mode", mode,
		"delivery_success_target", profile.DeliverySuccessTarget,
		"ack_round_trip_target", profile.AckRoundTripTarget,
		"publish_latency_p95", profile.PublishLatencyP95,
		"recovery_time_objective", profile.RecoveryTimeObjective,
		"recovery_point_objective", profile.RecoveryPointObjective,
	)

	switch mode {
	case types.ModeLocal:
		startScheduler(lc, expiry, retry, log)
		startConsumer(lc, cfg, runtime, retry, log)
	case types.ModeServer:
		// The server role only publishes; consumption and sweeps run in
		// their own deployments.
	case types.ModeScheduler:
		startScheduler(lc, expiry, retry, log)
	case types.ModeConsumer:
		startConsumer(lc, cfg, runtime, retry, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down...")
			if err := pub.Close(); err != nil {
				log.Errorw("error closing publisher", "error", err)
			}
			db.Close()
			return nil
		},
	})
}

func startScheduler(lc fx.Lifecycle, expiry *scheduler.ExpiryScheduler, retry *scheduler.RetryScanner, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("Starting background schedulers...")
			go expiry.Start(ctx)
			go retry.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func startConsumer(lc fx.Lifecycle, cfg *config.Configuration, runtime *consumer.Runtime, retry *scheduler.RetryScanner, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	streamKey := cfg.Service.Name + ":events"
	group := cfg.Service.Name
	consumerName := cfg.Service.Name + "-" + types.GenerateShortID()

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("Starting event consumer...", "stream", streamKey, "group", group)
			go func() {
				if err := runtime.Run(ctx, streamKey, group, consumerName, defaultHandler(retry, log)); err != nil {
					log.Errorw("consumer runtime exited", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// defaultHandler routes acknowledgments into the retry scanner and logs every
// other event the service's own stream receives.
func defaultHandler(retry *scheduler.RetryScanner, log *logger.Logger) consumer.Handler {
	return func(ctx context.Context, event *events.InterAppEvent) error {
		if event.EventType == types.EventAcknowledgment {
			ack := &events.AcknowledgmentEvent{}
			if err := json.Unmarshal(event.EventData, ack); err != nil {
				return err
			}
			retry.HandleAck(ack)
			return nil
		}

		data, err := event.DecodeData()
		if err != nil {
			return err
		}
		log.Infow("received inter-app event",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"source", event.SourceApplication,
			"data", data,
		)
		return nil
	}
}
