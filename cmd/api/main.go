package main

import (
	"context"
	"fmt"
	"log"
	"time"

	common_api "go-freight/internal/common/api"
	"go-freight/internal/config"
	"go-freight/internal/database"
	"go-freight/internal/events"
	"go-freight/internal/features/connection"
	"go-freight/internal/features/freight"
	"go-freight/internal/features/sync"
	"go-freight/internal/features/system"
	"go-freight/internal/features/webhook"
	"go-freight/internal/logger"
	"go-freight/internal/middleware"
	"go-freight/internal/providers"
	"go-freight/internal/vault"
	"go-freight/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// stateGuardRetention is how long the monotonic guard remembers the
// last-applied timestamp per entity.
const stateGuardRetention = 24 * time.Hour

// schedulerInterval is how often due connections are checked for a
// frequency-driven sync.
const schedulerInterval = 5 * time.Minute

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Use custom CORS middleware
	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	for _, route := range routes {
		route.Setup(app)
	}
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	utils.SetSecret(cfg.JWTSecret)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// StartWebhookDispatcher runs the background webhook pipeline for the
// lifetime of the app, draining the queue on shutdown.
func StartWebhookDispatcher(lc fx.Lifecycle, svc webhook.WebhookService) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			svc.Stop()
			return nil
		},
	})
}

// StartSyncScheduler periodically kicks off syncs for connections whose
// configured frequency has elapsed.
func StartSyncScheduler(lc fx.Lifecycle, svc sync.SyncService) {
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(schedulerInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						svc.ProcessScheduledSyncs(context.Background())
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
}

// InitializeIndexes ensures that necessary database indexes are created
func InitializeIndexes(lc fx.Lifecycle, connRepo connection.ConnectionRepository, syncRepo sync.SyncOperationRepository, dedupRepo webhook.DedupRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := connRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure connection indexes: %v", err)
				}
				if err := syncRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure sync indexes: %v", err)
				}
				if err := dedupRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure webhook dedup indexes: %v", err)
				}
			}()
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Shared infrastructure
			vault.NewVault,
			events.NewRedisPublisher,
			func() *events.MonotonicGuard { return events.NewMonotonicGuard(stateGuardRetention) },
			providers.NewRegistry,

			// Initialize Repository
			connection.NewConnectionRepository,
			sync.NewSyncOperationRepository,
			webhook.NewDedupRepository,

			// Initialize Service
			connection.NewConnectionService,
			connection.NewRefreshGuard,
			sync.NewSyncService,
			webhook.NewWebhookService,
			freight.NewFreightService,

			// Initialize Controller
			connection.NewConnectionController,
			sync.NewSyncController,
			webhook.NewWebhookController,
			freight.NewFreightController,

			// Initialize API Routes
			AsRoute(connection.NewConnectionApi),
			AsRoute(sync.NewSyncApi),
			AsRoute(webhook.NewWebhookApi),
			AsRoute(freight.NewFreightApi),
			AsRoute(system.NewHealthApi),
			AsRoute(system.NewMetricsApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,

			// The connection service and the orchestrator reference each
			// other; the canceller side is bound after construction.
			func(cs connection.ConnectionService, ss sync.SyncService) {
				cs.SetSyncCanceller(ss)
			},

			StartWebhookDispatcher,
			StartSyncScheduler,
			InitializeIndexes,
		),
	)

	app.Run()
}
