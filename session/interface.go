package session

import "context"

type Manager interface {
	Start(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	End(ctx context.Context, id string) error
}
