package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// SessionCookie is the cookie consulted when no Authorization header is sent.
const SessionCookie = "session"

// Authenticator resolves a bearer session ID. *goIdentity.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*goIdentity.User, *goIdentity.Session, error)
}

type userContextKey struct{}
type sessionContextKey struct{}

// UserFromContext returns the user attached by RequireSession.
func UserFromContext(ctx context.Context) (*goIdentity.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*goIdentity.User)
	return u, ok
}

// SessionFromContext returns the session attached by RequireSession. Its ID
// is the bearer token of the current request.
func SessionFromContext(ctx context.Context) (*goIdentity.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*goIdentity.Session)
	return s, ok
}

// RequireSession rejects requests without a live session with 401, or 503
// when the session store cannot be reached. Accepted requests carry the user
// and session in their context, plus the client IP and User-Agent for
// activity records.
func RequireSession(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := sessionToken(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithRequestMetadata(r.Context(), r)
			user, sess, err := auth.Authenticate(ctx, token)
			if err != nil {
				if errors.Is(err, goIdentity.KindDependency) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, userContextKey{}, user)
			ctx = context.WithValue(ctx, sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRequestMetadata copies the client IP and User-Agent of r into ctx.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	if ip := clientIP(r); ip != "" {
		ctx = goIdentity.WithClientIP(ctx, ip)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = goIdentity.WithUserAgent(ctx, ua)
	}
	return ctx
}

func sessionToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
