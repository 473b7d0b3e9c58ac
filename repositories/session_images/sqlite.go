package session_images

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kidcanvas/clock"
	"kidcanvas/entities"
)

const insertImageQuery string = `
INSERT INTO session_images (session_id, role, sort_order, prompt, seed, png, created_at) VALUES (?, ?, ?, ?, ?, ?, ?);
`

const listBySessionIDQuery string = `
SELECT id, session_id, role, sort_order, prompt, seed, png, created_at FROM session_images WHERE session_id = ? ORDER BY sort_order, id;
`

const nextSortOrderQuery string = `
SELECT COALESCE(MAX(sort_order) + 1, 0) FROM session_images WHERE session_id = ?;
`

const deleteBySessionIDQuery string = `
DELETE FROM session_images WHERE session_id = ?;
`

type sqliteRepo struct {
	dbConn *sql.DB
	clock  clock.Clock
}

type Config struct {
	DB *sql.DB
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	c := cfg.Clock
	if c == nil {
		c = clock.NewClock()
	}

	return &sqliteRepo{dbConn: cfg.DB, clock: c}, nil
}

func (repo *sqliteRepo) Append(ctx context.Context, sessionID string, images ...*entities.SessionImage) (err error) {
	if sessionID == "" {
		return errors.New("missing session ID")
	}

	tx, err := repo.dbConn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var next int
	if err = tx.QueryRowContext(ctx, nextSortOrderQuery, sessionID).Scan(&next); err != nil {
		return err
	}

	now := repo.clock.Now()

	for _, image := range images {
		if len(image.PNG) == 0 {
			return errors.New("missing image data")
		}

		image.SessionID = sessionID
		image.SortOrder = next
		image.CreatedAt = now
		next++

		res, err := tx.ExecContext(ctx, insertImageQuery,
			image.SessionID, string(image.Role), image.SortOrder, image.Prompt,
			image.Seed, image.PNG, image.CreatedAt.UnixNano())
		if err != nil {
			return err
		}

		if image.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (repo *sqliteRepo) ListBySessionID(ctx context.Context, sessionID string) ([]*entities.SessionImage, error) {
	rows, err := repo.dbConn.QueryContext(ctx, listBySessionIDQuery, sessionID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	images := make([]*entities.SessionImage, 0)

	for rows.Next() {
		var (
			image     entities.SessionImage
			role      string
			createdAt int64
		)

		err = rows.Scan(&image.ID, &image.SessionID, &role, &image.SortOrder,
			&image.Prompt, &image.Seed, &image.PNG, &createdAt)
		if err != nil {
			return nil, err
		}

		image.Role = entities.ImageRole(role)
		image.CreatedAt = time.Unix(0, createdAt).UTC()

		images = append(images, &image)
	}

	return images, rows.Err()
}

func (repo *sqliteRepo) DeleteBySessionID(ctx context.Context, sessionID string) error {
	_, err := repo.dbConn.ExecContext(ctx, deleteBySessionIDQuery, sessionID)

	return err
}
