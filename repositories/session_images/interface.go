package session_images

import (
	"context"

	"kidcanvas/entities"
)

type Repository interface {
	// Append stores images after the session's current last image, in the
	// order given. Either all of them are stored or none.
	Append(ctx context.Context, sessionID string, images ...*entities.SessionImage) error
	ListBySessionID(ctx context.Context, sessionID string) ([]*entities.SessionImage, error)
	DeleteBySessionID(ctx context.Context, sessionID string) error
}
