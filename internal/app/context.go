// Package app opens a workspace for CLI commands: its config, its journal and
// an engine bound to both.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"etica/internal/config"
	"etica/internal/db"
	"etica/internal/engine"
	"etica/internal/migrate"
)

type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
}

// Open loads etica.yml from dir (defaults when absent) and, unless the
// journal is disabled, opens and migrates the workspace journal.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, dir, cfg)
}

// OpenWithConfig is Open with an already loaded config.
func OpenWithConfig(ctx context.Context, dir string, cfg *config.Config) (*Workspace, error) {
	var conn *sql.DB
	if cfg.JournalEnabled() {
		var err error
		conn, err = OpenJournal(ctx, dir)
		if err != nil {
			return nil, err
		}
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	return &Workspace{Dir: dir, Config: cfg, DB: conn, Engine: e}, nil
}

// OpenJournal opens the journal of dir and brings its schema up to date.
func OpenJournal(ctx context.Context, dir string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return conn, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
