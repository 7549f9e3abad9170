package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/option"

	"github.com/cleanova/cleanova/src/internal/adapters/cache"
	"github.com/cleanova/cleanova/src/internal/adapters/memory"
	"github.com/cleanova/cleanova/src/internal/adapters/postgres"
	"github.com/cleanova/cleanova/src/internal/adapters/sqlite"
	"github.com/cleanova/cleanova/src/internal/adapters/storage"
	"github.com/cleanova/cleanova/src/internal/config"
	"github.com/cleanova/cleanova/src/internal/logging"
	"github.com/cleanova/cleanova/src/internal/ports"
)

type repositories struct {
	users      ports.UserRepository
	categories ports.CategoryRepository
	videos     ports.VideoRepository
	progress   ports.ProgressStore
	locks      ports.LockManager
	db         *sql.DB
}

// openRepositories connects the configured database and applies the schema.
func openRepositories(ctx context.Context, cfg config.DatabaseConfig) (*repositories, error) {
	log := logging.WithComponent("database")
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.NewConnection(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := postgres.InitSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
		log.Info().Msg("connected to Postgres")
		return &repositories{
			users:      postgres.NewUserRepo(db),
			categories: postgres.NewCategoryRepo(db),
			videos:     postgres.NewVideoRepo(db),
			progress:   postgres.NewProgressStore(db),
			locks:      postgres.NewLockManager(db),
			db:         db,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := sqlite.InitSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info().Str("path", cfg.URL).Msg("opened SQLite database")
		return &repositories{
			users:      sqlite.NewUserRepo(db),
			categories: sqlite.NewCategoryRepo(db),
			videos:     sqlite.NewVideoRepo(db),
			progress:   sqlite.NewProgressStore(db),
			locks:      memory.NewLockManager(),
			db:         db,
		}, nil

	case "memory":
		log.Warn().Msg("using in-memory repositories, nothing is persisted")
		return &repositories{
			users:      memory.NewUserRepo(),
			categories: memory.NewCategoryRepo(),
			videos:     memory.NewVideoRepo(),
			progress:   memory.NewProgressStore(),
			locks:      memory.NewLockManager(),
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func (r *repositories) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// app bundles everything the API and the scan command share.
type app struct {
	*repositories
	store ports.ObjectStore
	cache ports.URLCache
	// media is the /media/ handler of the local store, nil otherwise.
	media   http.Handler
	closers []func() error
}

func openApp(ctx context.Context, cfg config.ControlPlaneConfig) (*app, error) {
	repos, err := openRepositories(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{repositories: repos, closers: []func() error{repos.Close}}

	if err := a.openObjectStore(ctx, cfg.Storage); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCache(ctx, cfg.Cache); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openObjectStore(ctx context.Context, cfg config.StorageConfig) error {
	log := logging.WithComponent("storage")
	switch cfg.Driver {
	case "local":
		fs, err := storage.NewFilesystemStore(cfg.LocalDir, cfg.Bucket, cfg.SigningKey, cfg.PublicBaseURL)
		if err != nil {
			return err
		}
		a.store, a.media = fs, fs
		log.Info().Str("dir", cfg.LocalDir).Str("public_base_url", cfg.PublicBaseURL).Msg("serving local bucket")

	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		a.store = s3Store
		log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("using S3 bucket")

	case "gcs":
		var opts []option.ClientOption
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		gcsStore, err := storage.NewGCSStore(ctx, cfg.Bucket, cfg.SignerServiceAccount, opts)
		if err != nil {
			return err
		}
		a.store = gcsStore
		a.closers = append(a.closers, gcsStore.Close)
		log.Info().Str("bucket", cfg.Bucket).Msg("using GCS bucket")

	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return nil
}

func (a *app) openCache(ctx context.Context, cfg config.CacheConfig) error {
	log := logging.WithComponent("cache")
	if cfg.RedisAddr == "" {
		a.cache = cache.NewMemoryCache()
		log.Info().Msg("signed URL cache: in-process")
		return nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return err
	}
	a.cache = rc
	a.closers = append(a.closers, rc.Close)
	log.Info().Str("addr", cfg.RedisAddr).Msg("signed URL cache: redis")
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
