package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backsoul/leadquiz/pkg/bank"
	"github.com/backsoul/leadquiz/pkg/config"
	"github.com/backsoul/leadquiz/pkg/database"
	"github.com/backsoul/leadquiz/pkg/event"
	"github.com/backsoul/leadquiz/pkg/handlers"
	"github.com/backsoul/leadquiz/pkg/jobs"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/notify"
	"github.com/backsoul/leadquiz/pkg/redis"
	"github.com/backsoul/leadquiz/pkg/services"
	"github.com/backsoul/leadquiz/pkg/store"
	"github.com/backsoul/leadquiz/pkg/websocket"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

const (
	cleanupInterval = time.Minute
	connectTimeout  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped with error", "error", err)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting lead quiz server", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	b, err := loadBank(cfg)
	if err != nil {
		return err
	}
	log.Info("question bank loaded", "questions", b.Len(), "multiple_choice", b.MultipleChoiceCount(), "version", b.Version())

	st := openStore(ctx, cfg, log)
	defer st.Close()

	publisher, err := event.NewEventPublisher(cfg.RabbitMQURI, cfg.RabbitMQExchange, log)
	if err != nil {
		log.Warn("event publishing disabled", "error", err)
		publisher, _ = event.NewEventPublisher("", cfg.RabbitMQExchange, log)
	}
	defer publisher.Close()

	hub := websocket.NewHub(log)
	webhook := notify.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout)
	if !webhook.Configured() {
		log.Warn("WEBHOOK_URL not set, notifications are disabled")
	}

	questionService := services.NewQuestionService(b, st, log)
	resultService := services.NewResultService(st, publisher, hub, cfg.PersistTimeout, log)
	var retryQueue *jobs.Queue
	if cfg.JobsRedisAddr != "" {
		retryQueue = jobs.NewQueue(cfg.JobsRedisAddr, cfg.JobsRedisPassword, cfg.JobsRedisDB, log)
		defer retryQueue.Close()
		retryQueue.HandleAttempts(resultService.RetryAttempt)
		resultService.UseRetryQueue(retryQueue)
	}
	sessionService := services.NewSessionService(questionService, resultService, hub, cfg.QuizDuration, cfg.SessionRetention, log)
	notificationService := services.NewNotificationService(st, webhook, log)
	dashboardService := services.NewDashboardService(st, questionService, resultService, notificationService, log)
	adminService := services.NewAdminService(cfg.AdminPassword, questionService, sessionService, resultService, webhook)

	seedCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	if err := questionService.SeedCatalog(seedCtx); err != nil {
		log.Warn("question catalog not seeded, dashboard will use the bank", "error", err)
	}
	cancel()

	rt := &router{
		staticDir: cfg.StaticDir,
		log:       log.With("component", "router"),
		questions: handlers.NewQuestionHandler(questionService, cfg.StoreDriver),
		sessions:  handlers.NewSessionHandler(sessionService, hub, log),
		admin:     handlers.NewAdminHandler(adminService, dashboardService, notificationService, hub, log),
	}
	server := &fasthttp.Server{
		Handler: rt.handle,
		Name:    "Lead Quiz Server",
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sessionService.Run(gctx, cleanupInterval)
		return nil
	})
	if retryQueue != nil {
		g.Go(func() error {
			// a dead queue only loses retries, the quiz keeps serving
			if err := retryQueue.Run(gctx); err != nil {
				log.Error("retry queue stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return server.Shutdown()
	})

	err = g.Wait()
	resultService.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadBank(cfg *config.Config) (*bank.Bank, error) {
	if cfg.QuestionBankPath == "" {
		return bank.Default()
	}
	b, err := bank.LoadFile(cfg.QuestionBankPath)
	if err != nil {
		return nil, fmt.Errorf("loading question bank %s: %w", cfg.QuestionBankPath, err)
	}
	return b, nil
}

// openStore connects the configured record store. A store that cannot be
// reached is replaced by store.Unavailable so the quiz keeps running.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) store.Store {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var (
		st  store.Store
		err error
	)
	switch cfg.StoreDriver {
	case config.DriverRedis:
		st, err = redis.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	case config.DriverPostgres:
		st, err = database.Open(ctx, database.DriverPostgres, cfg.PostgresDSN, log)
	case config.DriverSQLite:
		st, err = database.Open(ctx, database.DriverSQLite, cfg.SQLitePath, log)
	case config.DriverMemory:
		log.Warn("using the in-memory record store, results are lost on restart")
		return store.NewMemory()
	default:
		log.Warn("no record store configured, results will not be saved")
		return store.Unavailable{}
	}
	if err != nil {
		log.Error("record store unavailable, results will not be saved", "driver", cfg.StoreDriver, "error", err)
		return store.Unavailable{Reason: err}
	}
	log.Info("record store connected", "driver", cfg.StoreDriver)
	return st
}
