// Package app собирает сервис из конфигурации: хранилище, доменные сервисы,
// HTTP API, gRPC health, метрики и outbox worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/erp/internal/auth"
	"github.com/vladislavdragonenkov/erp/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/erp/internal/health"
	"github.com/vladislavdragonenkov/erp/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/erp/internal/metrics"
	"github.com/vladislavdragonenkov/erp/internal/service/inventory"
	"github.com/vladislavdragonenkov/erp/internal/service/orders"
	"github.com/vladislavdragonenkov/erp/internal/service/outbox"
	"github.com/vladislavdragonenkov/erp/internal/service/txn"
	"github.com/vladislavdragonenkov/erp/internal/service/users"
	"github.com/vladislavdragonenkov/erp/internal/tracing"
	"github.com/vladislavdragonenkov/erp/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/erp/internal/version"
)

const shutdownTimeout = 5 * time.Second

// services доменные сервисы, собранные поверх runtimeDependencies.
type services struct {
	orders    *orders.Service
	inventory *inventory.Service
	users     *users.Service
}

func buildServices(deps *runtimeDependencies, domainMetrics *metrics.DomainMetrics, logger *log.Entry) services {
	runner := txn.NewRunner(deps.tx, txn.DefaultRetryConfig(), domainMetrics, logger.WithField("component", "txn"))

	inventoryOpts := []inventory.Option{
		inventory.WithLogger(logger.WithField("component", "inventory-service")),
		inventory.WithMetrics(domainMetrics),
	}
	if deps.cache != nil {
		inventoryOpts = append(inventoryOpts, inventory.WithCache(deps.cache))
	}
	inventorySvc := inventory.NewService(runner, deps.inventory, deps.movements, inventoryOpts...)

	orderSvc := orders.NewService(runner, deps.orders, deps.numbers,
		orders.WithLogger(logger.WithField("component", "order-service")),
		orders.WithMetrics(domainMetrics),
		orders.WithStockInvalidator(inventorySvc),
	)

	userSvc := users.NewService(deps.users,
		users.WithLogger(logger.WithField("component", "user-service")),
		users.WithMetrics(domainMetrics),
	)

	return services{orders: orderSvc, inventory: inventorySvc, users: userSvc}
}

// bootstrapAdmin создаёт первого администратора, если заданы email и пароль.
func bootstrapAdmin(ctx context.Context, cfg Config, userSvc *users.Service, logger *log.Entry) error {
	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPassword == "" {
		return nil
	}
	admin, err := userSvc.EnsureAdmin(ctx, cfg.DefaultOrganizationID, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if admin.Role != domain.RoleAdmin {
		logger.WithField("email", admin.Email).Warn("bootstrap admin email belongs to a non-admin user")
		return nil
	}
	logger.WithField("email", admin.Email).Info("bootstrap admin is ready")
	return nil
}

func newOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	workerLogger := logger.WithField("component", "outbox-worker")
	opts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}

	var publisher domain.OutboxPublisher
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer)
		opts = append(opts, outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)))
	} else {
		publisher = outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))
	}
	return outbox.NewWorker(repo, publisher, opts...)
}

func newOutboxCleanup(cfg Config, purger domain.OutboxPurger, logger *log.Entry) *outbox.CleanupWorker {
	return outbox.NewCleanupWorker(purger,
		outbox.WithCleanupLogger(logger.WithField("component", "outbox-cleanup")),
		outbox.WithCleanupMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)),
		outbox.WithRetention(cfg.OutboxRetention),
		outbox.WithCleanupInterval(cfg.OutboxCleanupInterval),
	)
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Run запускает все серверы и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if cfg.IsProduction() && (cfg.JWTSecret == "" || cfg.JWTSecret == DefaultJWTSecret) {
		return errors.New("ERP_JWT_SECRET must be set in production")
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceVersion: version.Version(),
		Environment:    cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	domainMetrics := metrics.NewDomainMetrics()
	svc := buildServices(deps, domainMetrics, logger)
	if err := bootstrapAdmin(ctx, cfg, svc.users, logger); err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(version.Version())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(kafkaProducer, logger)
	if kafkaProducer != nil {
		healthHandler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", kafkaProducer.Ping))
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	var workerWG sync.WaitGroup
	worker := newOutboxWorker(cfg, deps.outbox, kafkaProducer, logger)
	cleanup := newOutboxCleanup(cfg, deps.purger, logger)
	workerWG.Add(2)
	go func() {
		defer workerWG.Done()
		worker.Run(workerCtx)
	}()
	go func() {
		defer workerWG.Done()
		cleanup.Run(workerCtx)
	}()
	defer func() {
		stopWorker()
		workerWG.Wait()
	}()

	router := httpapi.NewRouter(httpapi.Dependencies{
		Orders:                svc.orders,
		Inventory:             svc.inventory,
		Users:                 svc.users,
		JWT:                   auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, logger.WithField("component", "jwt")),
		Logger:                logger.WithField("component", "http-api"),
		Debug:                 cfg.Debug,
		AllowedOrigins:        splitOrigins(cfg.AllowedOrigins),
		DefaultOrganizationID: cfg.DefaultOrganizationID,
	})
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	apiSrv := &http.Server{Handler: httpapi.NewHandler(router), ReadHeaderTimeout: 10 * time.Second}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)
	return runErr
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
