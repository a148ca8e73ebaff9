package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	internalapi "github.com/AnthonyGillesRudolfo/storefront-payments/internal/api"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/authz"
	appconfig "github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/email"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/events"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/gateway"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/lock"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/order"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/payment"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/reconcile"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/secrets"
	postgres "github.com/AnthonyGillesRudolfo/storefront-payments/internal/storage/postgres"
	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/restatedev/sdk-go/server"
	"go.uber.org/fx"
)

func newLogger(cfg appconfig.Config) *log.Logger {
	prefix := ""
	if cfg.ServiceName != "" {
		prefix = fmt.Sprintf("[%s] ", cfg.ServiceName)
	}
	logger := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(os.Stdout)
	log.SetFlags(logger.Flags())
	log.SetPrefix(prefix)
	for _, w := range cfg.Warnings {
		logger.Printf("WARNING: %s", w)
	}
	return logger
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) {
	if !cfg.Telemetry.Enabled {
		logger.Println("Tracing disabled (OTEL_ENABLED=false)")
		return
	}
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Telemetry.Endpoint)
			if err != nil {
				// tracing is best effort; the service runs without it
				logger.Printf("WARNING: tracing not started: %v", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown != nil {
				return shutdown(ctx)
			}
			return nil
		},
	})
}

func newLocker(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) lock.Locker {
	if cfg.Redis.Addr == "" {
		logger.Println("Using in-process order locks (REDIS_ADDR not set)")
		return lock.NewLocal()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
			}
			logger.Printf("Using Redis order locks at %s", cfg.Redis.Addr)
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return lock.NewRedis(client, cfg.Redis.LockTTL)
}

// newSQLDB returns nil when the order store is not postgres.
func newSQLDB(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) (*sql.DB, error) {
	if cfg.Store.Driver != "postgres" {
		return nil, nil
	}
	logger.Printf("Connecting to PostgreSQL database %s@%s:%d", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := postgres.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Printf("Database connection established successfully")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newOrderStore(db *sql.DB, locker lock.Locker, logger *log.Logger) order.Store {
	if db != nil {
		return postgres.NewRepository(db, logger)
	}
	logger.Println("Using in-memory order store with demo orders")
	return order.NewLockedStore(order.NewMemoryStore(order.DemoOrders(time.Now().UTC())...), locker)
}

// newKafkaProducer constructs a shared Kafka producer and binds its lifecycle to Fx.
func newKafkaProducer(lc fx.Lifecycle, cfg appconfig.Config) *events.Producer {
	prod := events.NewProducer(cfg.Kafka.Brokers)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return prod.Close()
		},
	})
	return prod
}

func newNotifier(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) reconcile.Notifier {
	switch cfg.Notify.Mode {
	case "kafka":
		logger.Printf("Customer notifications go to Kafka topic %s", cfg.Kafka.PaymentsTopic)
		return events.NewNotifier(newKafkaProducer(lc, cfg), cfg.Kafka.PaymentsTopic)
	case "smtp":
		logger.Printf("Customer notifications sent via SMTP %s:%s", cfg.Email.SMTPHost, cfg.Email.SMTPPort)
		return email.NewNotifier(email.NewSMTPSender(cfg.Email), cfg.Email.DemoRecipient, logger)
	default:
		return email.NewNotifier(email.LogSender{Logger: logger}, cfg.Email.DemoRecipient, logger)
	}
}

func newReconciler(lc fx.Lifecycle, cfg appconfig.Config, store order.Store, notifier reconcile.Notifier, logger *log.Logger) *reconcile.Reconciler {
	r := reconcile.New(store, notifier, logger, cfg.Notify.Timeout)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			r.Wait()
			return nil
		},
	})
	return r
}

func newGateways(cfg appconfig.Config, logger *log.Logger) (*gateway.Registry, error) {
	var gs []gateway.Gateway
	if cfg.Gateways.VNPay != nil {
		g, err := gateway.NewVNPay(*cfg.Gateways.VNPay)
		if err != nil {
			return nil, err
		}
		gs = append(gs, g)
	}
	if cfg.Gateways.MoMo != nil {
		g, err := gateway.NewMoMo(*cfg.Gateways.MoMo, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, err
		}
		gs = append(gs, g)
	}
	reg := gateway.NewRegistry(gs...)
	logger.Printf("Payment gateways enabled: %s", strings.Join(reg.Names(), ", "))
	return reg, nil
}

// newConfirmer routes verified callbacks through the Restate runtime when it
// is enabled so each transaction is applied exactly once per order key.
func newConfirmer(cfg appconfig.Config, r *reconcile.Reconciler) internalapi.Confirmer {
	if cfg.Restate.Enabled {
		return payment.NewIngressClient(cfg.Restate.RuntimeURL, &http.Client{Timeout: 30 * time.Second})
	}
	return r
}

func registerRestateServer(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, shutdowner fx.Shutdowner, r *reconcile.Reconciler) {
	if !cfg.Restate.Enabled {
		return
	}
	srv := server.NewRestate().Bind(payment.NewObject(r).Definition())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Println("Restate server listening on", cfg.Restate.ListenAddr)
			displayAddr := cfg.Restate.ListenAddr
			if strings.HasPrefix(displayAddr, ":") {
				displayAddr = "localhost" + displayAddr
			}
			logger.Printf("  %s: VIRTUAL OBJECT (keyed by order ID)", payment.ServiceName)
			logger.Printf("  restate deployments register http://%s", displayAddr)

			go func() {
				defer close(done)
				if err := srv.Start(ctx, cfg.Restate.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
					logger.Printf("Restate server error: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, shutdowner fx.Shutdowner,
	gateways *gateway.Registry, confirmer internalapi.Confirmer, store order.Store, r *reconcile.Reconciler) {
	mux := internalapi.NewMux(
		&internalapi.PaymentHandlers{
			Gateways:  gateways,
			Confirmer: confirmer,
			Orders:    store,
			Frontend:  cfg.Frontend,
			Logger:    logger,
		},
		&internalapi.OrderHandlers{
			Orders:    store,
			Authz:     authz.New(cfg.Authz),
			Announcer: r,
			Logger:    logger,
		},
	)
	handler := internalapi.WithCORS(mux)
	if cfg.Authz.AllowActAs {
		logger.Println("WARNING: act_as impersonation cookie is honoured (AUTHZ_ALLOW_ACT_AS=true)")
		handler = authz.ActAs(handler)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Printf("Payments API listening on %s", cfg.HTTP.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("API server error: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

func main() {
	_ = godotenv.Load()

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	n, err := secrets.BootstrapFromOpenBao(bootCtx)
	cancel()
	if err != nil {
		log.Fatalf("load secrets from OpenBao: %v", err)
	}
	if n > 0 {
		log.Printf("Loaded %d settings from OpenBao", n)
	}

	app := fx.New(
		fx.Provide(
			appconfig.Load,
			newLogger,
			newLocker,
			newSQLDB,
			newOrderStore,
			newNotifier,
			newReconciler,
			newGateways,
			newConfirmer,
		),
		fx.Invoke(
			func(logger *log.Logger, cfg appconfig.Config) {
				logger.Printf("Starting %s...", cfg.ServiceName)
			},
			setupTelemetry,
			registerRestateServer,
			registerWebServer,
		),
	)

	app.Run()
}
