package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-engine/internal/callback"
	"dialer-engine/internal/cdr"
	"dialer-engine/internal/config"
	"dialer-engine/internal/dialer"
	"dialer-engine/internal/gateway"
	"dialer-engine/internal/jobs"
	"dialer-engine/internal/sched"
	"dialer-engine/pkg/logger"
	"dialer-engine/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := dialer.NewPostgresStore(db)
	recorder := cdr.NewRecorder(cdr.NewPostgresRepo(db))

	signer, err := callback.NewSigner(cfg.Callback.Secret, cfg.Callback.TokenTTL)
	if err != nil {
		log.Error("callback signer init failed", "err", err)
		os.Exit(1)
	}

	backend, err := selectBackend(cfg, log)
	if err != nil {
		log.Error("backend init failed", "err", err)
		os.Exit(1)
	}
	log.Info("telephony backend selected", "backend", backend.Name())

	// The dialer and the retry engine reference each other through the
	// queue: retries are submitted as delayed dispatch jobs which the
	// queue hands back to the dialer. The handler closes over d, so queue
	// consumption must not start until d is assigned below.
	var d *dialer.Dialer
	handle := func(ctx context.Context, job jobs.DispatchJob) error {
		return d.HandleJob(ctx, job)
	}

	var (
		queue      jobs.Queue
		closeQueue func()
		amqpQueue  *jobs.AMQPQueue
	)
	if cfg.AMQP.URL != "" {
		aq, err := jobs.NewAMQPQueue(cfg.AMQP.URL, log)
		if err != nil {
			log.Error("amqp init failed", "err", err)
			os.Exit(1)
		}
		amqpQueue = aq
		queue = aq
		closeQueue = func() { _ = aq.Close() }
	} else {
		tq := jobs.NewTimerQueue(handle, log)
		queue = tq
		closeQueue = tq.Close
	}
	defer closeQueue()

	retry := dialer.NewRetryEngine(store, store, store, queue, log)
	d = dialer.NewDialer(store, store, store, backend, retry, queue, dialer.DialerOptions{
		DebugPhoneNumber: cfg.Dialer.DebugPhoneNumber,
		AnswerURL:        cfg.Dialer.AnswerURL,
		SurveyAnswerURL:  cfg.Dialer.SurveyAnswerURL,
		HangupURL:        cfg.Dialer.HangupURL,
		SignURL:          signer.Sign,
	}, log)

	// A durable ready queue can deliver persisted jobs immediately, so
	// consumption starts only now that the handler's dialer exists.
	if amqpQueue != nil {
		if err := amqpQueue.Consume(rootCtx, handle); err != nil {
			log.Error("amqp consume failed", "err", err)
			os.Exit(1)
		}
	}

	processor := dialer.NewEventProcessor(store, store, store, store, recorder, retry, cfg.Dialer.EventBatchSize, log)

	scheduler := sched.New(sched.NewRedisLocker(rdb), log)
	scheduler.Register(sched.Job{
		Name:     "pending_callevent",
		Interval: cfg.Dialer.PollInterval,
		LockTTL:  cfg.Dialer.LockTTL,
		Run:      processor.Run,
	})
	scheduler.Register(sched.Job{
		Name:     "overdue_callrequest",
		Interval: cfg.Dialer.PollInterval,
		LockTTL:  cfg.Dialer.LockTTL,
		Run: func(ctx context.Context) error {
			n, err := d.RecoverOverdue(ctx, 2*cfg.Dialer.PollInterval, cfg.Dialer.EventBatchSize)
			if n > 0 {
				log.Info("overdue call requests resubmitted", "count", n)
			}
			return err
		},
	})
	scheduler.Start(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, store, signer)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("engine listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// selectBackend resolves the closed backend set once at startup.
func selectBackend(cfg config.Config, log *slog.Logger) (gateway.Dispatcher, error) {
	switch cfg.Dialer.Engine {
	case "dummy":
		return gateway.NewDummy(log), nil
	case "plivo":
		return gateway.NewPlivo(cfg.Plivo.URL, cfg.Plivo.AuthID, cfg.Plivo.AuthToken), nil
	case "esl":
		return gateway.NewESL(cfg.ESLAddr(), cfg.ESL.Password, ""), nil
	default:
		return nil, &gateway.Error{Kind: gateway.KindUnsupported, Backend: cfg.Dialer.Engine, Err: fmt.Errorf("unknown backend name")}
	}
}
