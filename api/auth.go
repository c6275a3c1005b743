package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/log"
)

type contextKey string

const callerKey contextKey = "caller"

// Authenticator validates bearer tokens and resolves the caller's user id.
type Authenticator struct {
	secret []byte
	logger log.Logger
}

// NewAuthenticator builds an authenticator over an HMAC signing secret.
func NewAuthenticator(secret []byte, logger log.Logger) *Authenticator {
	return &Authenticator{secret: secret, logger: logger}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller id in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID, err := a.authenticate(r)
		if err != nil {
			a.logger.Debug("authentication rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, callerID)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return uuid.Nil, fmt.Errorf("token has no subject")
	}
	callerID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a user id: %w", err)
	}
	return callerID, nil
}

// CallerID returns the authenticated caller from the request context.
func CallerID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(callerKey).(uuid.UUID)
	return id, ok
}

// WorkerTokenHeader carries the vectorizing worker's service token on the
// completion callback.
const WorkerTokenHeader = "X-Worker-Token"

// workerAuthMiddleware gates the completion callback on the worker's shared
// service token. User bearer tokens do not pass here: the callback writes
// verdicts for any tenant's job, so only the worker identity may reach it.
func workerAuthMiddleware(token []byte, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := []byte(r.Header.Get(WorkerTokenHeader))
			if len(token) == 0 || subtle.ConstantTimeCompare(presented, token) != 1 {
				logger.Debug("worker callback rejected", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing worker token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
