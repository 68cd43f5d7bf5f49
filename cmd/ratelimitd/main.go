// Command ratelimitd starts the rate-limit decision engine as a gRPC
// service: loads config, connects to the backing store, and serves Acquire
// and the standard gRPC health check until a termination signal arrives.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/redis/go-redis/v9"

	"github.com/arcflow/ratelimitd/clock"
	"github.com/arcflow/ratelimitd/config"
	"github.com/arcflow/ratelimitd/global"
	"github.com/arcflow/ratelimitd/lifecycle"
	"github.com/arcflow/ratelimitd/obsmetrics"
	"github.com/arcflow/ratelimitd/ratelimit"
	"github.com/arcflow/ratelimitd/slidingwindow"
	"github.com/arcflow/ratelimitd/store"
	"github.com/arcflow/ratelimitd/transport/grpcapi"
)

// Exit codes per §6.
const (
	exitOK               = 0
	exitInvalidConfig    = 1
	exitStoreUnreachable = 2
	exitFatal            = 3
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	os.Exit(run())
}

func run() int {
	configPath := "./config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return exitInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid config")
		return exitInvalidConfig
	}

	policies, err := cfg.ToPolicySet()
	if err != nil {
		log.Error().Err(err).Msg("failed to build policy set from config")
		return exitInvalidConfig
	}
	global.SetPolicySet(policies)

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr(cfg.Server.RedisURL)})
	adapter := store.NewRedisAdapter(redisClient)
	global.SetStoreAdapter(adapter)

	timeout := time.Duration(cfg.Server.RedisTimeoutMS) * time.Millisecond

	pingCtx, cancel := context.WithTimeout(context.Background(), timeout)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("store unreachable at startup")
		return exitStoreUnreachable
	}

	evaluator := slidingwindow.New(adapter, clock.System{})
	engine := ratelimit.New(global.PolicySource{}, evaluator, timeout)

	registry := prometheus.NewRegistry()
	metrics := obsmetrics.New(registry)

	lis, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		log.Error().Err(err).Str("address", cfg.Server.Address).Msg("failed to bind listener")
		return exitFatal
	}

	gs := grpc.NewServer()
	grpcapi.Register(gs, grpcapi.NewServer(engine, metrics))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthServer)

	prober := grpcapi.NewHealthProber(healthServer, grpcapi.Pinger(global.GetStoreAdapter()), timeout, timeout)

	mgr := lifecycle.New()
	if err := mgr.Register(prober); err != nil {
		log.Error().Err(err).Msg("failed to register health prober")
		return exitFatal
	}
	if err := mgr.Register(newMetricsComponent(registry, ":9090")); err != nil {
		log.Error().Err(err).Msg("failed to register metrics component")
		return exitFatal
	}
	if err := mgr.Register(newGRPCComponent(gs, lis)); err != nil {
		log.Error().Err(err).Msg("failed to register grpc component")
		return exitFatal
	}

	if err := mgr.LoadAll(); err != nil {
		log.Error().Err(err).Msg("failed to start components")
		return exitFatal
	}

	log.Info().Str("address", cfg.Server.Address).Msg("ratelimitd listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

waitLoop:
	for {
		select {
		case <-ctx.Done():
			break waitLoop
		case <-reload:
			reloadPolicies(configPath)
		}
	}

	log.Info().Msg("shutting down")
	if err := mgr.ShutdownAll(); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return exitFatal
	}
	return exitOK
}

// reloadPolicies re-parses configPath and, if valid, atomically swaps the
// process-wide policy set. A bad reload is logged and the old set keeps
// serving; it never partially applies per the PolicySet lifecycle in §3.
func reloadPolicies(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("reload: failed to read config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("reload: invalid config, keeping current policy set")
		return
	}
	policies, err := cfg.ToPolicySet()
	if err != nil {
		log.Error().Err(err).Msg("reload: failed to build policy set, keeping current policy set")
		return
	}
	global.SetPolicySet(policies)
	log.Info().Msg("policy set reloaded")
}

// redisAddr strips a redis:// URL scheme down to a host:port go-redis's
// basic Options.Addr accepts, adding Redis's default port 6379 when the URL
// names none. Full DSN parsing (auth, db index, TLS) is a
// config-loader concern out of scope for the core.
func redisAddr(url string) string {
	const prefix = "redis://"
	addr := url
	if len(addr) >= len(prefix) && addr[:len(prefix)] == prefix {
		addr = addr[len(prefix):]
	}
	for i := 0; i < len(addr); i++ {
		if addr[i] == '/' {
			addr = addr[:i]
			break
		}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil && addr != "" {
		addr = net.JoinHostPort(addr, "6379")
	}
	return addr
}

// metricsComponent serves /metrics for the given registry over plain HTTP,
// the same promhttp.HandlerFor wiring the rest of the retrieved pack uses
// for Prometheus exposition.
type metricsComponent struct {
	srv *http.Server
}

func newMetricsComponent(registry *prometheus.Registry, addr string) *metricsComponent {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &metricsComponent{srv: &http.Server{Addr: addr, Handler: mux}}
}

func (c *metricsComponent) Name() string { return "metrics-server" }

func (c *metricsComponent) Load() error {
	go func() {
		if err := c.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()
	return nil
}

func (c *metricsComponent) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.srv.Shutdown(ctx)
}

type grpcComponent struct {
	server   *grpc.Server
	listener net.Listener
	done     chan struct{}
}

func newGRPCComponent(server *grpc.Server, listener net.Listener) *grpcComponent {
	return &grpcComponent{server: server, listener: listener, done: make(chan struct{})}
}

func (c *grpcComponent) Name() string { return "grpc-server" }

func (c *grpcComponent) Load() error {
	go func() {
		defer close(c.done)
		if err := c.server.Serve(c.listener); err != nil {
			log.Error().Err(err).Msg("grpc server exited")
		}
	}()
	return nil
}

func (c *grpcComponent) Shutdown() error {
	c.server.GracefulStop()
	<-c.done
	return nil
}
