package app

import (
	"database/sql"
	"os"

	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/db"
	"choreline/internal/engine"
	"choreline/internal/migrate"
)

// Open prepares the workspace: opens the database, applies migrations,
// loads choreline.yml (falling back to defaults when absent) and wires an
// Engine. The caller owns the returned connection.
func Open(workspace string, log zerolog.Logger) (*sql.DB, engine.Engine, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, engine.Engine{}, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	return conn, engine.New(conn, cfg, log), nil
}

// Logger builds the console logger from the config's logging section.
func Logger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Logging.Console {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05Z07:00"}
		return zerolog.New(cw).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
