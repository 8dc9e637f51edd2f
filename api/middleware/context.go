package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/api/responses"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
)

type contextKey string

const ctxActorID contextKey = "actor_id"

// ActorHeader names the user performing a request. The API sits behind the
// operator UI, which is trusted to set it.
const ActorHeader = "X-Actor-Id"

// ActorIDFromContext returns the acting user, or nil when the request was anonymous.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxActorID).(uuid.UUID); ok {
		return &v
	}
	return nil
}

// WithActorID injects the acting user into the context.
func WithActorID(ctx context.Context, actorID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActorID, actorID)
}

// Actor reads ActorHeader into the request context. A malformed value is rejected.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(ActorHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			actorID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, ActorHeader+" must be a uuid"))
				return
			}
			ctx := WithActorID(r.Context(), actorID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, actorID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
