package grpcservice

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arkade-os/solverd/internal/config"
	interfaces "github.com/arkade-os/solverd/internal/interface"
	"github.com/arkade-os/solverd/internal/interface/grpc/handlers"
	"github.com/arkade-os/solverd/internal/interface/grpc/interceptors"
	"github.com/arkade-os/solverd/internal/telemetry"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpchealth "google.golang.org/grpc/health/grpc_health_v1"
)

const solverServiceName = "solverd.v1.Solver"

type service struct {
	config        Config
	appConfig     *config.Config
	server        *http.Server
	grpcServer    *grpc.Server
	healthServer  *health.Server
	readinessSvc  *interceptors.ReadinessService
	appSvcStarted atomic.Bool
	otelShutdown  func(context.Context) error
}

func NewService(svcConfig Config, appConfig *config.Config) (interfaces.Service, error) {
	if err := svcConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %s", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}

	if !svcConfig.insecure() {
		if err := generateOperatorTLSKeyCert(
			svcConfig.tlsDatadir(), svcConfig.TLSExtraIPs, svcConfig.TLSExtraDomains,
		); err != nil {
			return nil, err
		}
		log.Debugf("generated TLS key pair at path: %s", svcConfig.tlsDatadir())
	}

	return &service{
		config:    svcConfig,
		appConfig: appConfig,
	}, nil
}

func (s *service) Start() error {
	if err := s.start(); err != nil {
		return err
	}
	log.Infof("started listening at %s", s.config.address())

	return s.startAppServices()
}

func (s *service) Stop() {
	s.stop()
	if s.otelShutdown != nil {
		if err := s.otelShutdown(context.Background()); err != nil {
			log.Errorf("failed to shutdown otel: %s", err)
		}
	}
	if repo := s.appConfig.RepoManager(); repo != nil {
		repo.Close()
	}
	log.Info("shutdown service")
}

func (s *service) start() error {
	tlsConfig, err := s.config.tlsConfig()
	if err != nil {
		return err
	}

	if err := s.newServer(tlsConfig, s.config.EnablePprof); err != nil {
		return err
	}

	if s.config.insecure() {
		// nolint:all
		go s.server.ListenAndServe()
	} else {
		// nolint:all
		go s.server.ListenAndServeTLS("", "")
	}

	return nil
}

func (s *service) stop() {
	if s.appSvcStarted.CompareAndSwap(true, false) {
		if s.healthServer != nil {
			s.healthServer.SetServingStatus(solverServiceName, grpchealth.HealthCheckResponse_NOT_SERVING)
		}
		appSvc, _ := s.appConfig.AppService()
		if appSvc != nil {
			appSvc.Stop()
		}
		if s.readinessSvc != nil {
			s.readinessSvc.MarkAppServiceStopped()
		}
	}

	// Hard-close HTTP listeners/conns first to avoid mixed HTTP/gRPC window.
	if s.server != nil {
		_ = s.server.Close()
	}
	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
}

func (s *service) startAppServices() error {
	if !s.appSvcStarted.CompareAndSwap(false, true) {
		// app already started, skip
		return nil
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to create app service: %w", err)
	}
	if err := appSvc.Start(); err != nil {
		s.appSvcStarted.Store(false)
		return fmt.Errorf("failed to start app service: %w", err)
	}
	log.Info("started app service")

	if s.readinessSvc != nil {
		s.readinessSvc.MarkAppServiceStarted()
	}
	s.healthServer.SetServingStatus("", grpchealth.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(solverServiceName, grpchealth.HealthCheckResponse_SERVING)

	log.Info("solver service is now ready")
	return nil
}

func (s *service) newServer(tlsConfig *tls.Config, withPprof bool) error {
	ctx := context.Background()

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return fmt.Errorf("failed to create app service: %w", err)
	}

	if s.appConfig.OtelCollectorEndpoint != "" {
		pushInteval := time.Duration(s.appConfig.OtelPushInterval) * time.Second
		otelShutdown, err := telemetry.InitOtelSDK(
			ctx,
			s.appConfig.OtelCollectorEndpoint,
			pushInteval,
			appSvc,
		)
		if err != nil {
			return err
		}
		s.otelShutdown = otelShutdown
	}

	otelHandler := otelgrpc.NewServerHandler(
		otelgrpc.WithTracerProvider(otel.GetTracerProvider()),
	)

	s.readinessSvc = interceptors.NewReadinessService(appSvc)

	grpcConfig := []grpc.ServerOption{
		interceptors.UnaryInterceptor(),
		interceptors.StreamInterceptor(),
		grpc.StatsHandler(otelHandler),
	}
	creds := insecure.NewCredentials()
	if !s.config.insecure() {
		creds = credentials.NewTLS(tlsConfig)
	}
	grpcConfig = append(grpcConfig, grpc.Creds(creds))

	grpcServer := grpc.NewServer(grpcConfig...)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpchealth.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(solverServiceName, grpchealth.HealthCheckResponse_NOT_SERVING)
	grpchealth.RegisterHealthServer(grpcServer, healthServer)

	// Creds for grpc gateway reverse proxy.
	gatewayCreds := insecure.NewCredentials()
	if !s.config.insecure() {
		gatewayCreds = credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true, // #nosec
		})
	}
	conn, err := grpc.NewClient(
		s.config.gatewayAddress(), grpc.WithTransportCredentials(gatewayCreds),
	)
	if err != nil {
		return err
	}

	gwmux := runtime.NewServeMux(
		runtime.WithHealthzEndpoint(grpchealth.NewHealthClient(conn)),
	)
	if err := handlers.NewAdminHandler(appSvc).RegisterRoutes(gwmux); err != nil {
		return err
	}
	if err := handlers.NewEventsHandler(s.appConfig.RepoManager().Events()).
		RegisterRoutes(gwmux); err != nil {
		return err
	}

	grpcGateway := readinessGate(s.readinessSvc, gwmux)
	handler := router(grpcServer, grpcGateway)
	mux := http.NewServeMux()

	if registry := s.appConfig.MetricsRegistry(); registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	if withPprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
		log.Info("pprof enabled at /debug/pprof/")
	}

	mux.Handle("/", handler)

	httpServerHandler := http.Handler(mux)
	if s.config.insecure() {
		httpServerHandler = h2c.NewHandler(httpServerHandler, &http2.Server{})
	}

	s.grpcServer = grpcServer
	s.healthServer = healthServer
	s.server = &http.Server{
		Addr:              s.config.address(),
		Handler:           httpServerHandler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// readinessGate rejects admin API calls while the app service is not running.
func readinessGate(readiness *interceptors.ReadinessService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			if err := readiness.Check(r.Context(), r.URL.Path); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func router(
	grpcServer *grpc.Server, grpcGateway http.Handler,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isOptionRequest(r) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Add("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			return
		}

		if isHttpRequest(r) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Add("Access-Control-Allow-Methods", "POST, GET, OPTIONS")

			grpcGateway.ServeHTTP(w, r)
			return
		}
		grpcServer.ServeHTTP(w, r)
	})
}

func isOptionRequest(req *http.Request) bool {
	return req.Method == http.MethodOptions
}

func isHttpRequest(req *http.Request) bool {
	return req.Method == http.MethodGet ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/grpc")
}
