package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kidcanvas/entities"
	"kidcanvas/repositories"
	"kidcanvas/repositories/default_settings"
	"kidcanvas/repositories/session_images"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned by writes to a session that was ended
	// while they were in flight.
	ErrSessionEnded = fmt.Errorf("%w: session ended", ErrSessionNotFound)
)

type managerImpl struct {
	images   session_images.Repository
	settings default_settings.Repository
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

type Config struct {
	ImageRepo    session_images.Repository
	SettingsRepo default_settings.Repository
	Logger       *zerolog.Logger
}

func NewManager(cfg Config) (Manager, error) {
	if cfg.ImageRepo == nil {
		return nil, errors.New("missing image repository")
	}

	if cfg.SettingsRepo == nil {
		return nil, errors.New("missing settings repository")
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "session").Logger()
	}

	return &managerImpl{
		images:   cfg.ImageRepo,
		settings: cfg.SettingsRepo,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

func (m *managerImpl) Start(_ context.Context) (*Session, error) {
	s := &Session{
		ID:       uuid.NewString(),
		images:   m.images,
		settings: m.settings,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info().Str("session_id", s.ID).Msg("session started")

	return s, nil
}

func (m *managerImpl) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return s, nil
}

// End forgets the session and drops its images and settings.
func (m *managerImpl) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	// Waits for an in-flight Append; later writes see the session as ended.
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ended = true

	if err := m.images.DeleteBySessionID(ctx, id); err != nil {
		return err
	}

	if err := m.settings.DeleteByOwnerID(ctx, id); err != nil {
		return err
	}

	m.logger.Info().Str("session_id", id).Msg("session ended")

	return nil
}

// Session is one user's working state: an append-only image list and the
// generation settings they saved.
type Session struct {
	ID string

	images   session_images.Repository
	settings default_settings.Repository

	mu    sync.Mutex
	ended bool
}

// Append adds images to the end of the list in the order given. Nothing is
// stored if any image fails or the session has ended.
func (s *Session) Append(ctx context.Context, images ...*entities.SessionImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("%w: %s", ErrSessionEnded, s.ID)
	}

	return s.images.Append(ctx, s.ID, images...)
}

func (s *Session) Images(ctx context.Context) ([]*entities.SessionImage, error) {
	return s.images.ListBySessionID(ctx, s.ID)
}

// Settings returns the saved generation settings, or the defaults when none
// were saved.
func (s *Session) Settings(ctx context.Context) (*entities.GenerationSettings, error) {
	settings, err := s.settings.GetByOwnerID(ctx, s.ID)
	if err != nil {
		if errors.Is(err, &repositories.NotFoundError{}) {
			return entities.NewGenerationSettings(s.ID), nil
		}

		return nil, err
	}

	return settings, nil
}

func (s *Session) SaveSettings(ctx context.Context, settings *entities.GenerationSettings) (*entities.GenerationSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, fmt.Errorf("%w: %s", ErrSessionEnded, s.ID)
	}

	settings.OwnerID = s.ID

	return s.settings.Upsert(ctx, settings)
}
