package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Services pass it down so a caller can force several repo calls into one
// transaction; a nil Tx means "use the service's own *gorm.DB".
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func Background() Context {
	return Context{Ctx: context.Background()}
}
