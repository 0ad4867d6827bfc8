package database

import (
	"context"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
)

type contextKey string

const (
	// SessionKey is the context key for the storage session repositories run against.
	SessionKey contextKey = "storageSession"
)

// GetSession retrieves the storage session from context: either the adapter
// itself (autocommit) or the transaction of the operation in progress.
// Returns nil and false if not present.
func GetSession(ctx context.Context) (datasource.Session, bool) {
	s, ok := ctx.Value(SessionKey).(datasource.Session)
	return s, ok && s != nil
}

// SetSession stores the storage session in context.
func SetSession(ctx context.Context, s datasource.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}
