/**
 * @description
 * This is the main entry point for the payroll-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * payment gateway adapters, message brokers, repositories, the core application service,
 * the job scheduler, and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for job locks and rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/contractclient, pkg/profileclient: Clients for sibling services.
 * - pkg/gateway: Payment provider adapters.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/workconnect/payroll-service/internal/api"
	"github.com/workconnect/payroll-service/internal/app"
	"github.com/workconnect/payroll-service/internal/config"
	"github.com/workconnect/payroll-service/internal/store"
	"github.com/workconnect/payroll-service/pkg/contractclient"
	"github.com/workconnect/payroll-service/pkg/gateway"
	"github.com/workconnect/payroll-service/pkg/profileclient"
	rmrabbit "github.com/workconnect/payroll-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payroll-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. A missing broker
	// degrades to the fallback publisher rather than blocking startup.
	var producer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Payment provider adapters.
	gateways := map[string]gateway.Gateway{}
	mtn := gateway.NewMTNGateway(gateway.MTNConfig{
		BaseURL:         cfg.MTNAPIBaseURL,
		APIKey:          cfg.MTNAPIKey,
		SubscriptionKey: cfg.MTNSubscriptionKey,
		TargetEnv:       cfg.MTNTargetEnv,
		CallbackURL:     cfg.MTNCallbackURL,
		WebhookSecret:   cfg.MTNWebhookSecret,
		Currency:        cfg.Currency,
	})
	gateways[mtn.Name()] = mtn

	airtel := gateway.NewAirtelGateway(gateway.AirtelConfig{
		BaseURL:       cfg.AirtelAPIBaseURL,
		ClientID:      cfg.AirtelClientID,
		ClientSecret:  cfg.AirtelClientSecret,
		Country:       cfg.AirtelCountry,
		Currency:      cfg.Currency,
		WebhookSecret: cfg.AirtelWebhookSecret,
	})
	gateways[airtel.Name()] = airtel

	flutterwave := gateway.NewFlutterwaveGateway(gateway.FlutterwaveConfig{
		BaseURL:     cfg.FlutterwaveAPIBaseURL,
		SecretKey:   cfg.FlutterwaveSecretKey,
		WebhookHash: cfg.FlutterwaveWebhookHash,
		RedirectURL: cfg.FlutterwaveRedirectURL,
		Currency:    cfg.Currency,
	})
	gateways[flutterwave.Name()] = flutterwave

	// Clients for sibling services.
	contractClient := contractclient.NewClient(cfg.ContractServiceURL, cfg.ContractServiceInternalAPIKey)
	profileClient := profileclient.NewClient(cfg.ProfileServiceURL, cfg.ProfileServiceInternalAPIKey)

	// Redis for distributed job locks and webhook rate limiting.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; job locks and rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; job locks and rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; job locks and rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	pollerCfg := app.PollerConfig{
		Interval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxAttempts: cfg.PollMaxAttempts,
	}

	// Initialize the core application service with its dependencies.
	payrollService := app.NewService(repository, gateways, profileClient, producer, cfg.Currency)
	feeCalculator := app.NewFeeCalculator(repository)

	// The guards tolerate a nil receiver so the service stays usable when
	// Redis is down, at the cost of single-replica-only job safety.
	var jobLock *app.RedisJobLock
	var webhookLimiter *app.RedisWebhookRateLimiter
	if redisClient != nil {
		jobLock = app.NewRedisJobLock(redisClient, cfg.RedisJobLockPrefix)
		webhookLimiter = app.NewRedisWebhookRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, contractClient, payrollService, feeCalculator, jobLock, logger, app.JobsConfig{
		InvoiceDueDays:    cfg.InvoiceDueDays,
		ReconciliationAge: time.Duration(cfg.ReconciliationAgeHours) * time.Hour,
		LockTTL:           time.Duration(cfg.JobLockTTLMinutes) * time.Minute,
		Poller:            pollerCfg,
	})

	scheduler := app.NewScheduler(jobs, logger, app.Schedules{
		InvoiceGeneration: cfg.InvoiceGenerationSchedule,
		Disbursement:      cfg.DisbursementSchedule,
		OverdueSweep:      cfg.OverdueSweepSchedule,
		Reconciliation:    cfg.ReconciliationSchedule,
	})
	scheduler.Start()
	defer scheduler.Stop()

	// Consume disbursement-due events so confirmed invoices are paid out
	// without waiting for the monthly disbursement run.
	disbursementConsumer := app.NewDisbursementConsumer(payrollService, pollerCfg)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; disbursement events disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			rmrabbit.DisbursementDueKey: disbursementConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.PayrollExchange, cfg.DisbursementQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"disbursement consumer start failed\" err=%v", err)
		}
	}

	// Initialize the API handlers and router.
	handlers := api.NewPayrollHandlers(payrollService, jobs, repository, pollerCfg)
	router := api.PayrollRoutes(handlers, api.RouterConfig{
		JWKSURL:               cfg.ClerkJWKSURL,
		AuthAudience:          cfg.AuthAudience,
		AuthIssuer:            cfg.AuthIssuer,
		InternalAPIKey:        cfg.InternalAPIKey,
		WebhookLimiter:        webhookLimiter,
		WebhookLimitPerMinute: cfg.WebhookRateLimitPerMin,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
