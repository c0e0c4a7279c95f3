package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/drluca/shopstream/auditservice/config"
	"github.com/drluca/shopstream/auditservice/internal/database"
)

// ErrUnknownBackend is returned for an AUDIT_BACKEND value with no store.
var ErrUnknownBackend = errors.New("unknown audit backend")

// Open connects the store selected by cfg.AuditBackend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.AuditBackend {
	case config.AuditBackendRedis:
		store, err := NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.AuditBackendPostgres:
		db, err := database.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.AuditBackend)
	}
}
