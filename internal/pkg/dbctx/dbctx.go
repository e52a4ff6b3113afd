package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Repos resolve their handle through DB so callers can pass either.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

func WithTx(ctx context.Context, tx *gorm.DB) Context {
	return Context{Ctx: ctx, Tx: tx}
}

// DB returns the transaction when present, otherwise the fallback handle,
// both scoped to the bundled context.
func (dc Context) DB(fallback *gorm.DB) *gorm.DB {
	ctx := dc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if dc.Tx != nil {
		return dc.Tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

func (dc Context) Context() context.Context {
	if dc.Ctx == nil {
		return context.Background()
	}
	return dc.Ctx
}
