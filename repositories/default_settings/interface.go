package default_settings

import (
	"context"

	"kidcanvas/entities"
)

type Repository interface {
	Upsert(ctx context.Context, setting *entities.GenerationSettings) (*entities.GenerationSettings, error)
	GetByOwnerID(ctx context.Context, ownerID string) (*entities.GenerationSettings, error)
	DeleteByOwnerID(ctx context.Context, ownerID string) error
}
