package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rs/zerolog/log"

	"github.com/arcflow/ratelimitd/store"
)

const serviceName = "ratelimitd.RateLimiter"

// HealthProber periodically pings the store and reports the result to a
// standard grpc-go health.Server, so gRPC health checks reflect real store
// reachability rather than just process liveness.
type HealthProber struct {
	health   *health.Server
	ping     func(ctx context.Context) error
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
}

// NewHealthProber builds a prober that calls ping on every tick and flips
// the health service's serving status for serviceName accordingly. timeout
// bounds each ping, mirroring the redis_timeout_ms readiness rule in §6.
func NewHealthProber(hs *health.Server, ping func(ctx context.Context) error, interval, timeout time.Duration) *HealthProber {
	return &HealthProber{health: hs, ping: ping, interval: interval, timeout: timeout, stop: make(chan struct{})}
}

// Name satisfies lifecycle.Component.
func (p *HealthProber) Name() string { return "health-prober" }

// Load starts the background probe loop. It runs one synchronous probe
// first so readiness is accurate before the server starts accepting
// traffic.
func (p *HealthProber) Load() error {
	p.probeOnce()
	go p.loop()
	return nil
}

// Shutdown stops the probe loop.
func (p *HealthProber) Shutdown() error {
	close(p.stop)
	return nil
}

func (p *HealthProber) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.probeOnce()
		}
	}
}

func (p *HealthProber) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.ping(ctx); err != nil {
		log.Warn().Err(err).Msg("store health probe failed, reporting not serving")
		p.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	p.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
}

// Pinger adapts a store.Adapter into the ping function HealthProber needs,
// using a reserved key no real caller can produce (keys are always
// "rl:...") so the probe never collides with real admission state.
func Pinger(adapter store.Adapter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := adapter.Evaluate(ctx, "__healthcheck__", 1, 1000, 0)
		return err
	}
}
