// Package workflow wires the metadata store backend from configuration.
package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentflow/agentflow/internal/common/config"
	"github.com/agentflow/agentflow/internal/common/database"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/workflow/store"
)

// ProvideStore selects the store backend by database URL: postgres://
// uses PostgreSQL, a non-empty path uses SQLite, empty falls back to
// the in-memory store. The returned cleanup closes the backend.
func ProvideStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, func() error, error) {
	switch {
	case cfg.Database.IsPostgres():
		db, err := database.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("using postgres metadata store")
		return st, func() error {
			err := st.Close()
			db.Close()
			return err
		}, nil

	case cfg.Database.URL != "":
		st, err := store.NewSQLiteStore(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using sqlite metadata store", zap.String("path", cfg.Database.URL))
		return st, st.Close, nil

	default:
		st := store.NewMemoryStore()
		log.Warn("no database configured, using in-memory store")
		return st, st.Close, nil
	}
}
