package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness. It is flipped to false when shutdown begins so
// load balancers stop routing new checkout sessions to this instance.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports the current readiness flag.
func IsReady() bool {
	return ready.Load()
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
	PingGateway(ctx context.Context, timeout time.Duration) error
}

// GatewayPinger is satisfied by the payment gateway client.
type GatewayPinger interface {
	Ping(ctx context.Context) error
}

// Probes checks the Redis connection and the payment gateway.
type Probes struct {
	Redis   redis.UniversalClient
	Gateway GatewayPinger
}

// PingRedis issues PING against Redis.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// PingGateway checks that the payment gateway answers HTTP.
func (p Probes) PingGateway(ctx context.Context, timeout time.Duration) error {
	if p.Gateway == nil {
		return errors.New("gateway not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Gateway.Ping(ctx)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	RedisTimeout   time.Duration
	GatewayTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}
	gatewayStatus := "ok"
	if err := h.Checker.PingGateway(ctx, h.gatewayTimeout()); err != nil {
		gatewayStatus = err.Error()
	}
	status := map[string]string{
		"redis":   redisStatus,
		"gateway": gatewayStatus,
	}
	w.Header().Set("Content-Type", "application/json")
	if redisStatus != "ok" || gatewayStatus != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

func (h Handler) gatewayTimeout() time.Duration {
	if h.GatewayTimeout <= 0 {
		return time.Second
	}
	return h.GatewayTimeout
}
