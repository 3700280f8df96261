package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the caller as asserted by the gateway in front of this
// service. The service trusts the X-User-* headers; it performs no
// credential verification of its own.
type Identity struct {
	UserID   string
	Nickname string
	IsAdmin  bool
}

// Auth resolves the request identity from X-User-ID, X-User-Name and
// X-User-Admin headers and stores it in the request context. Unknown
// user ids are persisted once through users so later queries can join
// against a real row; pass nil to skip that.
func Auth(users ports.UserRepository) func(http.Handler) http.Handler {
	var seen sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

			// Default for single-user deployments without a gateway.
			if userID == "" {
				userID = "default_user"
			}

			if !isValidUserID(userID) {
				log.Printf("HTTP 400: invalid user id %q (path=%s)", userID, r.URL.Path)
				http.Error(w, "invalid user id", http.StatusBadRequest)
				return
			}

			identity := Identity{
				UserID:   userID,
				Nickname: strings.TrimSpace(r.Header.Get("X-User-Name")),
				IsAdmin:  isTruthy(r.Header.Get("X-User-Admin")),
			}
			if identity.Nickname == "" {
				identity.Nickname = userID
			}

			if users != nil {
				if _, ok := seen.Load(userID); !ok {
					ensureUser(r.Context(), users, identity)
					seen.Store(userID, struct{}{})
				}
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the identity stored by Auth, or the zero value
// when the middleware did not run.
func GetIdentity(ctx context.Context) Identity {
	identity, _ := ctx.Value(identityContextKey).(Identity)
	return identity
}

// WithIdentity injects an identity directly, for tests and internal calls.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func ensureUser(ctx context.Context, users ports.UserRepository, identity Identity) {
	_, err := users.GetByID(ctx, identity.UserID)
	if err == nil {
		return
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.Printf("warning: failed to look up user %s: %v", identity.UserID, err)
		return
	}

	user := models.NewUser(identity.UserID, identity.UserID+"@local", identity.Nickname)
	user.IsAdmin = identity.IsAdmin
	if err := users.Create(ctx, user); err != nil {
		log.Printf("warning: failed to register user %s: %v", identity.UserID, err)
	}
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// isValidUserID rejects ids that could smuggle header or query syntax
// into logs and queries.
func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > 255 {
		return false
	}

	for _, ch := range userID {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == '.' || ch == '@') {
			return false
		}
	}

	return true
}
