package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/handler"
	"corracoins/internal/infrastructure/cache"
	"corracoins/internal/infrastructure/database"
	"corracoins/internal/infrastructure/lock"
	"corracoins/internal/infrastructure/mq"
	"corracoins/internal/job"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"
	"corracoins/internal/service"
	"corracoins/pkg/idgen"
	"corracoins/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config")
	workerID := flag.Int64("worker-id", 1, "snowflake worker id of this instance")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger.Init(cfg.Logging)
	gin.SetMode(cfg.Server.Mode)

	if err := idgen.Init(*workerID); err != nil {
		logrus.WithError(err).Fatal("init id generator")
	}

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		logrus.WithError(err).Fatal("init mysql")
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("init redis")
	}
	defer redisClient.Close()

	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		logrus.WithError(err).Fatal("init kafka")
	}
	defer producer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewLedgerMetrics(registry)

	locker := lock.NewRedisLocker(redisClient, cfg.Redis)
	users := repository.NewUserRepository(db)
	brands := repository.NewBrandRepository(db)

	engine := service.NewBalanceEngine(db, metrics)
	validator := service.NewValidator(db, users, brands, cfg.Ledger)
	rewards := service.NewRewardService(db, locker, validator, users, cfg, metrics)
	approvals := service.NewApprovalService(db, locker, engine, cfg, metrics)
	balances := service.NewBalanceService(db, locker, engine, users, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, producer, cfg, metrics)
	go outboxSender.Start(ctx)

	cleaner := job.NewStaleRequestCleaner(db, approvals, cfg)
	if err := cleaner.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("start stale request cleaner")
	}

	router := handler.SetupRouter(handler.NewHandler(rewards, approvals, balances), metrics, registry)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	cancel()
	cleaner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http server shutdown")
	}
	logrus.Info("server stopped")
}
