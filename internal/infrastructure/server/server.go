package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	api "github.com/GriffinCanCode/notebookd/internal/api/http"
	"github.com/GriffinCanCode/notebookd/internal/api/middleware"
	"github.com/GriffinCanCode/notebookd/internal/api/ws"
	"github.com/GriffinCanCode/notebookd/internal/domain/dispatch"
	"github.com/GriffinCanCode/notebookd/internal/domain/events"
	"github.com/GriffinCanCode/notebookd/internal/domain/files"
	"github.com/GriffinCanCode/notebookd/internal/domain/kernel"
	"github.com/GriffinCanCode/notebookd/internal/domain/packages"
	"github.com/GriffinCanCode/notebookd/internal/domain/session"
	"github.com/GriffinCanCode/notebookd/internal/domain/usage"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebookd/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/notebookd/internal/shared/paths"
	"github.com/GriffinCanCode/notebookd/internal/shared/utils"
)

// Version is reported by the root endpoint.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	handler    http.Handler
	sessions   *session.Registry
	dispatcher *dispatch.Dispatcher
	tracer     *tracing.Tracer
	metrics    *monitoring.Metrics
	health     *health.Server
	grpc       *grpc.Server
	logger     *logging.Logger
	config     *config.Config
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	root, err := paths.NewRoot(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	logger.Info("Initializing notebookd",
		zap.String("port", cfg.Server.Port),
		zap.String("root", root.Dir()),
		zap.Bool("process_kernel", cfg.Kernel.Command != ""),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("notebookd", logger.Component("trace"))

	hub := events.NewHub(logger.Component("events"), metrics)
	sessions, err := session.NewRegistry(session.Options{
		Root:               root,
		StateDir:           cfg.Workspace.StateDir,
		Runtime:            runtimeFactory(cfg.Kernel, root, logger.Component("kernel")),
		Publisher:          hub,
		Metrics:            metrics,
		Logger:             logger.Component("session"),
		Watch:              cfg.Workspace.Watch,
		BreakerMaxFailures: cfg.Kernel.BreakerMaxFailures,
		BreakerMaxRequests: cfg.Kernel.BreakerMaxRequests,
		BreakerTimeout:     cfg.Kernel.BreakerTimeout,
	})
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("session registry: %w", err)
	}

	model, err := files.New(root, cfg.Workspace.Ignore, logger.Component("files"))
	if err != nil {
		tracer.Close()
		return nil, multierr.Append(fmt.Errorf("file model: %w", err), sessions.Close())
	}

	index := packages.NewIndex(packages.IndexConfig{
		BaseURL: cfg.Packages.IndexURL,
		Timeout: cfg.Packages.Timeout,
		Logger:  logger.Component("index"),
	})
	installer := packages.NewInstaller(index, packages.PtyRunner{Dir: root.Dir()}, logger.Component("packages"))

	opts := dispatch.Options{
		Sessions:       sessions,
		Files:          model,
		Installer:      installer,
		LineLength:     cfg.Format.LineLength,
		PackageManager: cfg.Packages.Manager,
		Metrics:        metrics,
		Logger:         logger.Component("dispatch"),
	}
	if sampler, err := usage.NewSampler("", usage.DefaultInterval); err != nil {
		logger.Warn("Usage statistics unavailable", zap.Error(err))
	} else {
		opts.Usage = sampler
	}
	dispatcher, err := dispatch.New(opts)
	if err != nil {
		tracer.Close()
		return nil, multierr.Append(err, sessions.Close())
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.BodyLimit(utils.MaxJSONSize))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := api.NewHandlers(dispatcher, metrics, logger.Component("http"), Version)
	handlers.Register(router)
	wsHandler := ws.NewHandler(sessions, hub, metrics, logger.Component("ws"))
	router.GET("/ws", wsHandler.HandleConnection)

	// The push channel hijacks its connection, so it bypasses compression.
	mux := http.NewServeMux()
	mux.Handle("/ws", router)
	mux.Handle("/", gzhttp.GzipHandler(router))

	s := &Server{
		router:     router,
		handler:    mux,
		sessions:   sessions,
		dispatcher: dispatcher,
		tracer:     tracer,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
	}

	if cfg.Server.GRPCHealthPort != "" {
		s.health = health.NewServer()
		s.grpc = grpc.NewServer(
			grpc.ChainUnaryInterceptor(
				tracing.GRPCUnaryInterceptor(tracer),
				monitoring.GRPCUnaryInterceptor(metrics),
			),
			grpc.ChainStreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
		)
		healthpb.RegisterHealthServer(s.grpc, s.health)
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// runtimeFactory selects the kernel runtime. Without a command, sessions get
// a null runtime that executes nothing.
func runtimeFactory(cfg config.KernelConfig, root paths.Root, log *zap.Logger) session.RuntimeFactory {
	if cfg.Command == "" {
		return session.NullRuntimeFactory
	}
	return func(spec session.RuntimeSpec) kernel.Runtime {
		dir := root.Dir()
		if spec.Path != "" {
			dir = filepath.Dir(spec.Path)
		}
		return kernel.NewProcessRuntime(kernel.ProcessConfig{
			Command: cfg.Command,
			Dir:     dir,
			Sink:    spec.Sink,
			Logger:  log.With(logging.SessionID(spec.SessionID.String())),
		})
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Dispatcher returns the protocol dispatcher
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Run serves HTTP (and gRPC health when configured) until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpc != nil {
		grpcAddr := net.JoinHostPort(s.config.Server.Host, s.config.Server.GRPCHealthPort)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("grpc health listen: %w", err)
		}
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			s.logger.Info("Starting gRPC health server", zap.String("addr", grpcAddr))
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc health server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.health != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	return runErr
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	err := s.sessions.Close()
	if err != nil {
		s.logger.Error("Failed to close sessions", zap.Error(err))
	}
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return err
}
