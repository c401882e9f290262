package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/config"
	"github.com/sakif/repo-insights/internal/repository"
	"github.com/sakif/repo-insights/internal/repository/dynamo"
	"github.com/sakif/repo-insights/internal/repository/memory"
	sqliteRepo "github.com/sakif/repo-insights/internal/repository/sqlite"
)

// stores bundles the two repositories of one driver. A driver implements
// both interfaces on a single value, but the services only ever see the
// interface they need.
type stores struct {
	identities repository.IdentityRepository
	selections repository.SelectionRepository
	// ping backs /healthz; nil means always healthy.
	ping  func(ctx context.Context) error
	close func() error
}

// openStores builds the configured driver.
//
// DRIVERS:
//   - sqlite   : single file at DB_PATH, migrated on open (default)
//   - dynamodb : Users and Repos tables; with DYNAMODB_ENDPOINT set (DynamoDB
//     Local) missing tables are created on startup
//   - memory   : process memory, gone on restart
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	codec, err := tokenCodec(cfg, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case config.DriverSQLite:
		// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
		if dir := filepath.Dir(cfg.Store.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqliteRepo.New(cfg.Store.DBPath, codec)
		if err != nil {
			return nil, err
		}
		return &stores{
			identities: db,
			selections: db,
			ping:       func(context.Context) error { return db.Ping() },
			close:      db.Close,
		}, nil

	case config.DriverDynamoDB:
		client, err := dynamo.NewClient(ctx, dynamo.ClientConfig{
			Region:          cfg.Store.AWSRegion,
			Endpoint:        cfg.Store.DynamoURL,
			AccessKeyID:     cfg.Store.AWSKeyID,
			SecretAccessKey: cfg.Store.AWSSecretKey,
		})
		if err != nil {
			return nil, err
		}
		tables := dynamo.Tables{Users: cfg.Store.UsersTable, Repos: cfg.Store.ReposTable}
		if cfg.Store.DynamoURL != "" {
			if err := dynamo.EnsureTables(ctx, client, tables); err != nil {
				return nil, err
			}
		}
		store := dynamo.New(client, tables, codec)
		return &stores{
			identities: store,
			selections: store,
			close:      func() error { return nil },
		}, nil

	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		store := memory.New()
		return &stores{
			identities: store,
			selections: store,
			close:      func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// tokenCodec returns the sealer for cached GitHub tokens. Without a key the
// tokens are stored as issued.
func tokenCodec(cfg *config.Config, logger *slog.Logger) (repository.TokenCodec, error) {
	if cfg.Store.TokenSealKey == "" {
		logger.Warn("TOKEN_SEAL_KEY not set; cached GitHub tokens are stored unencrypted")
		return auth.PlaintextCodec{}, nil
	}
	sealer, err := auth.NewSealer(cfg.Store.TokenSealKey)
	if err != nil {
		return nil, fmt.Errorf("creating token sealer: %w", err)
	}
	return sealer, nil
}
