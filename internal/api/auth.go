package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"resortwala/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadAvailability = "read:availability"
	permReadBookings     = "read:bookings"
	permWriteBookings    = "write:bookings"
	permManageBookings   = "manage:bookings"
	permManageCalendar   = "manage:calendar"
	permReadExports      = "read:exports"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
)

// apiClient is a configured key with its permissions resolved into a set.
// A nil set grants everything.
type apiClient struct {
	config.APIClientKey
	grants map[string]bool
}

// can reports whether the client holds perm, either exactly, through
// "<verb>:*" or through "*".
func (c *apiClient) can(perm string) bool {
	if perm == "" || c.grants == nil || c.grants["*"] {
		return true
	}
	if c.grants[perm] {
		return true
	}
	verb, _, ok := strings.Cut(perm, ":")
	return ok && c.grants[verb+":*"]
}

// keyring resolves API clients from the key and extra header pair.
type keyring struct {
	apiKeyHeader string
	extraHeader  string
	clients      map[string]*apiClient
}

func headerName(configured, fallback string) string {
	if h := strings.ToLower(strings.TrimSpace(configured)); h != "" {
		return h
	}
	return fallback
}

func newKeyring(cfg config.APIAuthConfig) *keyring {
	k := &keyring{
		apiKeyHeader: headerName(cfg.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader:  headerName(cfg.HeaderExtra, apiExtraHeaderDefault),
		clients:      make(map[string]*apiClient, len(cfg.APIKeys)),
	}
	for _, key := range cfg.APIKeys {
		c := &apiClient{APIClientKey: key}
		// Пустой список прав = полный доступ
		if len(key.Permissions) > 0 {
			c.grants = make(map[string]bool, len(key.Permissions))
			for _, p := range key.Permissions {
				c.grants[strings.TrimSpace(p)] = true
			}
		}
		k.clients[key.Key] = c
	}
	return k
}

func (k *keyring) authenticate(apiKey, extra, required string) (config.APIClientKey, error) {
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingKey
	}
	c, ok := k.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(c.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	if !c.can(required) {
		return c.APIClientKey, errPermissionDenied
	}
	return c.APIClientKey, nil
}

// AuthInterceptor applies API keys and per-client rate limits to gRPC calls.
// The health service is always open.
type AuthInterceptor struct {
	cfg     *config.APIConfig
	keys    *keyring
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.cfg.Enabled || strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := firstValue(md, a.keys.apiKeyHeader)

		if a.cfg.Auth.Enabled {
			if md == nil {
				return nil, status.Error(codes.Unauthenticated, "missing metadata")
			}
			_, err := a.keys.authenticate(apiKey, firstValue(md, a.keys.extraHeader), requiredPermission(info.FullMethod))
			if errors.Is(err, errPermissionDenied) {
				return nil, status.Error(codes.PermissionDenied, err.Error())
			}
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		clientKey := apiKey
		if clientKey == "" {
			clientKey = peerAddr(ctx)
		}
		if !a.limiter.allow(clientKey) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func requiredPermission(fullMethod string) string {
	switch fullMethod {
	case methodCheckAvailability, methodGetCalendar:
		return permReadAvailability
	default:
		return ""
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
