package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// GlobalRate is the overall requests per second for all callers.
	GlobalRate float64

	// PerClientRate is the requests per second per caller.
	PerClientRate float64

	// Burst is the per-caller burst size. The global burst is ten times
	// larger.
	Burst int

	// IdleTimeout drops per-caller limiters unused for this long.
	IdleTimeout time.Duration

	// MaxClients bounds the number of per-caller limiters kept. The least
	// recently seen caller is dropped first.
	MaxClients int

	// ExemptMethods are full method names that bypass rate limiting.
	ExemptMethods []string
}

// DefaultRateLimitConfig returns the rate limiting defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:       false,
		GlobalRate:    1000,
		PerClientRate: 100,
		Burst:         50,
		IdleTimeout:   5 * time.Minute,
		MaxClients:    10000,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits inbound calls globally and per caller. A caller is
// identified by the relay name it sends, or by its peer address.
type RateLimiter struct {
	config  RateLimitConfig
	global  *rate.Limiter
	exempt  map[string]struct{}
	stop    chan struct{}
	stopped sync.Once

	mu      sync.Mutex
	clients *lru.Cache[string, *clientLimiter]
}

// NewRateLimiter creates a new rate limiter. Close stops its cleanup loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRateLimitConfig().IdleTimeout
	}
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultRateLimitConfig().MaxClients
	}
	// Only fails for a non-positive size.
	clients, _ := lru.New[string, *clientLimiter](config.MaxClients)
	rl := &RateLimiter{
		config:  config,
		global:  rate.NewLimiter(rate.Limit(config.GlobalRate), config.Burst*10),
		exempt:  make(map[string]struct{}, len(config.ExemptMethods)),
		stop:    make(chan struct{}),
		clients: clients,
	}
	for _, method := range config.ExemptMethods {
		rl.exempt[method] = struct{}{}
	}
	if config.Enabled {
		go rl.cleanupLoop()
	}
	return rl
}

// UnaryInterceptor returns a unary server interceptor for rate limiting.
func (rl *RateLimiter) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !rl.config.Enabled {
			return handler(ctx, req)
		}
		if err := rl.checkLimit(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (rl *RateLimiter) checkLimit(ctx context.Context, method string) error {
	if _, ok := rl.exempt[method]; ok {
		return nil
	}
	if !rl.global.Allow() {
		return status.Error(codes.ResourceExhausted, "global rate limit exceeded")
	}
	if !rl.client(callerKey(ctx)).Allow() {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (rl *RateLimiter) client(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients.Get(key)
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.PerClientRate), rl.config.Burst)}
		rl.clients.Add(key, c)
	}
	c.lastSeen = time.Now()
	return c.limiter
}

func callerKey(ctx context.Context) string {
	if name := CallerRelay(ctx); name != "" {
		return "relay:" + name
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.IdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep drops limiters idle since before now minus IdleTimeout.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for _, key := range rl.clients.Keys() {
		if c, ok := rl.clients.Peek(key); ok && now.Sub(c.lastSeen) > rl.config.IdleTimeout {
			rl.clients.Remove(key)
		}
	}
}

// Clients returns the number of callers currently tracked.
func (rl *RateLimiter) Clients() int {
	return rl.clients.Len()
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopped.Do(func() { close(rl.stop) })
}
