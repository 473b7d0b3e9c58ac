package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the database inside the process; nothing survives a restart.
const MemoryDSN string = ":memory:"

const getCurrentMigration string = `PRAGMA user_version;`
const setCurrentMigration string = `PRAGMA user_version = `

const createSessionImagesTableQuery string = `
CREATE TABLE IF NOT EXISTS session_images (
id INTEGER NOT NULL PRIMARY KEY,
session_id TEXT NOT NULL,
role TEXT NOT NULL,
sort_order INTEGER NOT NULL,
prompt TEXT NOT NULL,
seed INTEGER NOT NULL,
png BLOB NOT NULL,
created_at INTEGER NOT NULL
);`

const createSessionIndexQuery string = `
CREATE INDEX IF NOT EXISTS session_images_session_index
ON session_images(session_id, sort_order);
`

const createDefaultSettingsTableQuery string = `
CREATE TABLE IF NOT EXISTS default_settings (
owner_id TEXT NOT NULL PRIMARY KEY,
extra_prompt TEXT NOT NULL,
negative_prompt TEXT NOT NULL,
steps INTEGER NOT NULL,
strength REAL NOT NULL,
guidance_scale REAL NOT NULL,
seed INTEGER NOT NULL
);`

type migration struct {
	migrationName  string
	migrationQuery string
}

var migrations = []migration{
	{migrationName: "create session images table", migrationQuery: createSessionImagesTableQuery},
	{migrationName: "add session images index", migrationQuery: createSessionIndexQuery},
	{migrationName: "create default settings table", migrationQuery: createDefaultSettingsTableQuery},
}

type Config struct {
	// DSN defaults to MemoryDSN.
	DSN    string
	Logger *zerolog.Logger
}

func New(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		cfg.DSN = MemoryDSN
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "sqlite").Logger()
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Every connection to :memory: is a separate database.
	if cfg.DSN == MemoryDSN {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if err = migrate(ctx, db, logger); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	var currentMigration int

	if err := db.QueryRowContext(ctx, getCurrentMigration).Scan(&currentMigration); err != nil {
		return err
	}

	requiredMigration := len(migrations)

	logger.Debug().
		Int("current", currentMigration).
		Int("required", requiredMigration).
		Msg("database version")

	if currentMigration > requiredMigration {
		return errors.New("database is newer than this build")
	}

	for migrationNum := currentMigration + 1; migrationNum <= requiredMigration; migrationNum++ {
		if err := execMigration(ctx, db, migrationNum, logger); err != nil {
			logger.Error().Err(err).
				Int("migration", migrationNum).
				Str("name", migrations[migrationNum-1].migrationName).
				Msg("migration failed")

			return err
		}
	}

	return nil
}

func execMigration(ctx context.Context, db *sql.DB, migrationNum int, logger zerolog.Logger) error {
	logger.Debug().
		Int("migration", migrationNum).
		Str("name", migrations[migrationNum-1].migrationName).
		Msg("running migration")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	//nolint
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, migrations[migrationNum-1].migrationQuery); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, setCurrentMigration+strconv.Itoa(migrationNum)); err != nil {
		return err
	}

	return tx.Commit()
}
