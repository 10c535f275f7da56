package app

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/engine"
	"boardline/internal/migrate"
	"boardline/internal/server"
)

// ServerOptions tune the development backend.
type ServerOptions struct {
	BasePath           string
	AllowSubjectHeader bool
	Logger             *slog.Logger
}

// OpenServer opens the backend database named by cfg.server.database and
// returns the API handler. The caller closes the returned db.
func OpenServer(ctx context.Context, workspace string, cfg *config.Config, opts ServerOptions) (http.Handler, *sqlx.DB, error) {
	dbCfg := db.Config{Workspace: workspace, Name: serverDBName(cfg)}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn, migrate.Server); err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("backend database ready", slog.String("path", db.Path(dbCfg)))
	decoder, err := NewDecoder(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	authCfg := server.AuthConfig{
		Decoder:            decoder,
		AllowSubjectHeader: opts.AllowSubjectHeader,
		Logger:             opts.Logger,
	}
	if cfg.Auth.Mode != config.AuthModeOIDC {
		authCfg.JWTSecret = cfg.Auth.JWTSecret
	}
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, cfg),
		BasePath: opts.BasePath,
		Auth:     authCfg,
		Logger:   opts.Logger,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return handler, conn, nil
}

func serverDBName(cfg *config.Config) string {
	name := cfg.Server.Database
	if name == "" {
		return "server.db"
	}
	return filepath.Clean(name)
}
