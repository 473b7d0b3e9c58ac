package default_settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kidcanvas/entities"
	"kidcanvas/repositories"
)

const upsertSetting string = `
INSERT OR REPLACE INTO default_settings (owner_id, extra_prompt, negative_prompt, steps, strength, guidance_scale, seed) VALUES (?, ?, ?, ?, ?, ?, ?);
`

const getSettingByOwnerID string = `
SELECT owner_id, extra_prompt, negative_prompt, steps, strength, guidance_scale, seed FROM default_settings WHERE owner_id = ?;
`

const deleteSettingByOwnerID string = `
DELETE FROM default_settings WHERE owner_id = ?;
`

type sqliteRepo struct {
	dbConn *sql.DB
}

type Config struct {
	DB *sql.DB
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	return &sqliteRepo{dbConn: cfg.DB}, nil
}

func (repo *sqliteRepo) Upsert(ctx context.Context, setting *entities.GenerationSettings) (*entities.GenerationSettings, error) {
	if setting.OwnerID == "" {
		return nil, errors.New("missing owner ID")
	}

	if err := setting.Validate(); err != nil {
		return nil, err
	}

	_, err := repo.dbConn.ExecContext(ctx, upsertSetting,
		setting.OwnerID, setting.ExtraPrompt, setting.NegativePrompt,
		setting.Steps, setting.Strength, setting.GuidanceScale, setting.Seed)
	if err != nil {
		return nil, err
	}

	return setting, nil
}

func (repo *sqliteRepo) GetByOwnerID(ctx context.Context, ownerID string) (*entities.GenerationSettings, error) {
	var setting entities.GenerationSettings

	err := repo.dbConn.QueryRowContext(ctx, getSettingByOwnerID, ownerID).Scan(
		&setting.OwnerID, &setting.ExtraPrompt, &setting.NegativePrompt,
		&setting.Steps, &setting.Strength, &setting.GuidanceScale, &setting.Seed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(fmt.Sprintf("default setting for owner ID %s", ownerID))
		}

		return nil, err
	}

	return &setting, nil
}

func (repo *sqliteRepo) DeleteByOwnerID(ctx context.Context, ownerID string) error {
	_, err := repo.dbConn.ExecContext(ctx, deleteSettingByOwnerID, ownerID)

	return err
}
