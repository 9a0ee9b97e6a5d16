package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AuthConfig contains API-key authentication configuration.
type AuthConfig struct {
	// Enabled controls whether authentication is required.
	Enabled bool

	// APIKeys is the list of accepted keys.
	APIKeys []string

	// PublicMethods are full method names that skip authentication,
	// e.g. "/satp.SATP/TransferCommence".
	PublicMethods []string
}

// DefaultAuthConfig returns authentication configuration with auth disabled.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{Enabled: false}
}

// Authenticator checks API keys on inbound calls.
type Authenticator struct {
	config        AuthConfig
	apiKeys       [][]byte
	publicMethods map[string]struct{}
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(config AuthConfig) *Authenticator {
	auth := &Authenticator{
		config:        config,
		publicMethods: make(map[string]struct{}, len(config.PublicMethods)),
	}
	for _, key := range config.APIKeys {
		auth.apiKeys = append(auth.apiKeys, []byte(key))
	}
	for _, method := range config.PublicMethods {
		auth.publicMethods[method] = struct{}{}
	}
	return auth
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.config.Enabled {
			return handler(ctx, req)
		}
		if _, public := a.publicMethods[info.FullMethod]; public {
			return handler(ctx, req)
		}
		if err := a.authenticate(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authenticate accepts "authorization: Bearer <key>" or "x-api-key: <key>".
func (a *Authenticator) authenticate(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	for _, h := range md.Get("authorization") {
		if key, ok := strings.CutPrefix(h, "Bearer "); ok && a.validKey(key) {
			return nil
		}
	}
	for _, key := range md.Get("x-api-key") {
		if a.validKey(key) {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "invalid or missing credentials")
}

// validKey compares key against every accepted key in constant time.
func (a *Authenticator) validKey(key string) bool {
	match := 0
	for _, valid := range a.apiKeys {
		match |= subtle.ConstantTimeCompare([]byte(key), valid)
	}
	return match == 1
}
