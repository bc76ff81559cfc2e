package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/simple-token/pkg/simpletoken"
)

type contextKey string

const callerContextKey contextKey = "caller"

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller simpletoken.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext returns the caller resolved by the auth middleware.
func CallerFromContext(ctx context.Context) (simpletoken.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(simpletoken.Caller)
	return caller, ok
}

// Authenticator resolves bearer JWTs into callers. The subject becomes the
// caller id; any role listed in elevatedRoles marks the caller elevated.
type Authenticator struct {
	keyfunc       jwt.Keyfunc
	methods       []string
	elevatedRoles map[string]struct{}
	rolesClaim    string
	logger        *slog.Logger
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithElevatedRoles sets the roles that grant elevated access.
func WithElevatedRoles(roles ...string) AuthOption {
	return func(a *Authenticator) {
		a.elevatedRoles = make(map[string]struct{}, len(roles))
		for _, role := range roles {
			if role = strings.TrimSpace(role); role != "" {
				a.elevatedRoles[role] = struct{}{}
			}
		}
	}
}

// WithRolesClaim names the claim holding the caller's roles.
func WithRolesClaim(claim string) AuthOption {
	return func(a *Authenticator) {
		if claim != "" {
			a.rolesClaim = claim
		}
	}
}

// WithAuthLogger sets the logger for rejected tokens.
func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewHMACAuthenticator verifies HS256/HS384/HS512 tokens signed with secret.
func NewHMACAuthenticator(secret []byte, opts ...AuthOption) *Authenticator {
	return newAuthenticator(func(*jwt.Token) (any, error) { return secret, nil },
		[]string{"HS256", "HS384", "HS512"}, opts)
}

// NewJWKSAuthenticator verifies asymmetric tokens against keys served at
// jwksURL. The key set is refreshed in the background until ctx is done.
func NewJWKSAuthenticator(ctx context.Context, jwksURL string, opts ...AuthOption) (*Authenticator, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}
	return newAuthenticator(k.Keyfunc,
		[]string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384", "EdDSA"}, opts), nil
}

func newAuthenticator(kf jwt.Keyfunc, methods []string, opts []AuthOption) *Authenticator {
	a := &Authenticator{
		keyfunc:    kf,
		methods:    methods,
		rolesClaim: "roles",
		logger:     slog.Default(),
	}
	WithElevatedRoles("manager")(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate parses a raw bearer token into a caller.
func (a *Authenticator) Authenticate(raw string) (simpletoken.Caller, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, a.keyfunc,
		jwt.WithValidMethods(a.methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return simpletoken.Caller{}, err
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return simpletoken.Caller{}, fmt.Errorf("token has no subject")
	}

	caller := simpletoken.Caller{ID: subject}
	for _, role := range rolesFromClaim(claims[a.rolesClaim]) {
		if _, ok := a.elevatedRoles[role]; ok {
			caller.Elevated = true
			break
		}
	}
	return caller, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, raw, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || raw == "" {
			writeUnauthorized(w, r, "missing bearer token")
			return
		}

		caller, err := a.Authenticate(raw)
		if err != nil {
			a.logger.DebugContext(r.Context(), "Bearer token rejected", "err", err, "remote_addr", r.RemoteAddr)
			writeUnauthorized(w, r, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// rolesFromClaim accepts a JSON array of strings or a comma/space separated string.
func rolesFromClaim(v any) []string {
	switch roles := v.(type) {
	case string:
		return strings.FieldsFunc(roles, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		out := make([]string, 0, len(roles))
		for _, role := range roles {
			if s, ok := role.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return roles
	default:
		return nil
	}
}
