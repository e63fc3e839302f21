package store

import (
	"context"
	"fmt"
	"strings"
)

// Open returns the Store for provider ("sqlite" or "postgres"), creating its schema.
func Open(ctx context.Context, provider, uri string) (Store, error) {
	switch strings.ToLower(provider) {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, uri)
	case "postgres", "postgresql", "pg":
		return NewPostgresStore(ctx, uri)
	default:
		return nil, fmt.Errorf("unsupported db provider: %s", provider)
	}
}
