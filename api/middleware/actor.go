package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/oakmart/oakmart-backend/api/responses"
	pkgauth "github.com/oakmart/oakmart-backend/pkg/auth"
	"github.com/oakmart/oakmart-backend/pkg/config"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

type contextKey string

const ctxActor contextKey = "actor"

// Actor validates the bearer token and seeds the request context with the
// explicit actor recorded on every ledger transition.
func Actor(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := types.Actor{ID: claims.UserID, Role: claims.Role}
			ctx := context.WithValue(r.Context(), ctxActor, actor)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"actor_id":   actor.ID.String(),
					"actor_role": actor.Role.String(),
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose actor is not back-office staff.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if actor.Role != enums.ActorRoleAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorFromContext returns the actor seeded by the Actor middleware. The zero
// Actor means the request was not authenticated.
func ActorFromContext(ctx context.Context) types.Actor {
	if ctx == nil {
		return types.Actor{}
	}
	if actor, ok := ctx.Value(ctxActor).(types.Actor); ok {
		return actor
	}
	return types.Actor{}
}

// WithActor injects an actor into the context, used by tests.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}
