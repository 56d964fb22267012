// Command dds-server starts the data service gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/catalog"
	"github.com/and161185/dataservice/internal/config"
	"github.com/and161185/dataservice/internal/limiter"
	"github.com/and161185/dataservice/internal/metrics"
	"github.com/and161185/dataservice/internal/migrate"
	"github.com/and161185/dataservice/internal/policy"
	"github.com/and161185/dataservice/internal/repository/postgres"
	grpcserver "github.com/and161185/dataservice/internal/server/grpc"
	"github.com/and161185/dataservice/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, migrates and seeds the database, and serves gRPC
// until SIGINT or SIGTERM.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	bootstrapAdmin := flag.String("bootstrap-admin", "", "create this user as system admin, print a token and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema, err := migrate.Up(ctx, cfg.Database.URL, logger.Named("migrate"))
	if err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	logger.Info("schema ready", zap.Int64("version", schema))

	db, err := postgres.New(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Roles
	roleRepo := postgres.NewRoleRepo(db)
	cat, err := catalog.Load(cfg.RoleCatalogPath)
	if err != nil {
		logger.Fatal("load role catalog", zap.Error(err))
	}
	if err := cat.Seed(ctx, roleRepo); err != nil {
		logger.Fatal("seed roles", zap.Error(err))
	}

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	agentRepo := postgres.NewAgentRepo(db)
	keyRepo := postgres.NewKeyRepo(db)
	grantRepo := postgres.NewGrantRepo(db)
	projectRepo := postgres.NewProjectRepo(db)
	folderRepo := postgres.NewFolderRepo(db)
	refs := postgres.NewRefResolver(db)

	// Policy and audit
	reg, err := policy.DefaultRegistry()
	if err != nil {
		logger.Fatal("policy registry", zap.Error(err))
	}
	engine := policy.NewEngine(grantRepo, reg, logger.Named("policy"))
	trail := audit.NewTrail(postgres.NewAuditRepo(db), userRepo, agentRepo, logger.Named("audit"))
	mut := service.NewMutator(db, trail, logger.Named("mutation"))

	lim := limiter.NewPG(db.Pool, cfg.Limits.ExchangeWindow, cfg.Limits.ExchangeMaxFails, cfg.Limits.ExchangeBlock)

	// Services
	authSvc := service.NewAuthService(userRepo, agentRepo, keyRepo, []byte(cfg.Auth.JWTKey),
		cfg.Auth.AccessTTL, cfg.Auth.AgentTTL, lim)

	if *bootstrapAdmin != "" {
		boot := service.NewBootstrapper(mut, userRepo, grantRepo, roleRepo)
		u, err := boot.Admin(ctx, *bootstrapAdmin, *bootstrapAdmin, cfg.Auth.BootstrapPassword)
		if err != nil {
			logger.Fatal("bootstrap admin", zap.Error(err))
		}
		tok, err := authSvc.IssueUserToken(ctx, u.ID)
		if err != nil {
			logger.Fatal("issue admin token", zap.Error(err))
		}
		fmt.Println(tok.AccessToken)
		return
	}

	app := grpcserver.New(grpcserver.Services{
		Access:   service.NewAccessService(engine, refs, trail),
		Auth:     authSvc,
		Projects: service.NewProjectService(mut, engine, projectRepo, grantRepo, roleRepo),
		Folders:  service.NewFolderService(mut, engine, folderRepo, projectRepo),
		Grants:   service.NewGrantService(mut, engine, grantRepo, roleRepo, userRepo, projectRepo),
		Agents:   service.NewAgentService(mut, engine, agentRepo, keyRepo),
		Users:    service.NewUserService(mut, engine, userRepo),
	}, logger.Named("grpc"))

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.RequestIDUnary(),
			grpcserver.LoggingUnary(logger),
			grpcserver.RateLimitUnary(cfg.Limits.RPS, cfg.Limits.Burst),
			grpcserver.AuthUnary(authSvc, grpcserver.PublicMethods...),
		),
	}
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; serving plaintext gRPC")
	}
	s := grpc.NewServer(opts...)
	grpcserver.RegisterDataServiceServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(promReg); err != nil {
		logger.Fatal("register metrics", zap.Error(err))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promReg))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSEnabled()))
		errCh <- s.Serve(lis)
	}()
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)

		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
