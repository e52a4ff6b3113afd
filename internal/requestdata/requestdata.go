// Package requestdata carries per-request identity through context. The auth
// middleware fills it in; services read it instead of taking user ids as
// parameters they would have to trust.
package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

type RequestData struct {
	TokenString string
	UserID      uuid.UUID
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, ctxKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(ctxKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// UserID returns the authenticated user or uuid.Nil when the request never
// passed the auth middleware.
func UserID(ctx context.Context) uuid.UUID {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.UserID
	}
	return uuid.Nil
}
