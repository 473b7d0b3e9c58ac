package sketch_queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kidcanvas/pipeline"
	"kidcanvas/stable_diffusion_api"
)

const (
	DefaultCapacity         = 100
	DefaultProgressInterval = time.Second
)

var (
	ErrQueueFull      = errors.New("sketch queue is full")
	ErrSketchPanicked = errors.New("sketch processing panicked")
)

// ProgressReporter reports how far the backend is with the current job.
type ProgressReporter interface {
	GetCurrentProgress(ctx context.Context) (*stable_diffusion_api.ProgressResponse, error)
}

type queueImpl struct {
	pipeline         pipeline.Pipeline
	progress         ProgressReporter
	progressInterval time.Duration
	queue            chan *QueueItem
	logger           zerolog.Logger

	mu            sync.Mutex
	currentSketch *QueueItem
}

type Config struct {
	Pipeline pipeline.Pipeline
	// Progress is optional; without it items get no progress callbacks.
	Progress         ProgressReporter
	Capacity         int
	ProgressInterval time.Duration
	Logger           *zerolog.Logger
}

func New(cfg Config) (Queue, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("missing pipeline")
	}

	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "sketch_queue").Logger()
	}

	return &queueImpl{
		pipeline:         cfg.Pipeline,
		progress:         cfg.Progress,
		progressInterval: cfg.ProgressInterval,
		queue:            make(chan *QueueItem, cfg.Capacity),
		logger:           logger,
	}, nil
}

type QueueItem struct {
	Submission pipeline.Submission
	// Ctx bounds the item; an item whose context is done before its turn is
	// skipped. Defaults to the polling context.
	Ctx context.Context
	// OnProgress receives backend progress in (0, 1] while the item runs.
	OnProgress func(progress float64)
	// OnDone is called exactly once with the outcome.
	OnDone func(result *pipeline.Result, err error)
}

// AddSketch enqueues item and returns its position in line.
func (q *queueImpl) AddSketch(item *QueueItem) (int, error) {
	if item == nil {
		return 0, errors.New("missing item")
	}

	select {
	case q.queue <- item:
	default:
		return 0, ErrQueueFull
	}

	return len(q.queue), nil
}

func (q *queueImpl) Len() int {
	return len(q.queue)
}

func (q *queueImpl) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.currentSketch != nil
}

// StartPolling runs queued items one at a time until ctx is done. Items still
// queued at that point are completed with the context error.
func (q *queueImpl) StartPolling(ctx context.Context) {
	q.logger.Info().Msg("polling started")

	for {
		select {
		case <-ctx.Done():
			q.drain(ctx.Err())
			q.logger.Info().Msg("polling stopped")

			return
		case item := <-q.queue:
			q.process(ctx, item)
		}
	}
}

func (q *queueImpl) drain(err error) {
	for {
		select {
		case item := <-q.queue:
			item.done(nil, err)
		default:
			return
		}
	}
}

func (q *queueImpl) process(ctx context.Context, item *QueueItem) {
	q.mu.Lock()
	q.currentSketch = item
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.currentSketch = nil
		q.mu.Unlock()
	}()

	itemCtx := ctx
	if item.Ctx != nil {
		var cancel context.CancelFunc

		itemCtx, cancel = context.WithCancel(item.Ctx)
		defer cancel()

		stop := context.AfterFunc(ctx, cancel)
		defer stop()
	}

	if err := itemCtx.Err(); err != nil {
		q.logger.Debug().Err(err).Msg("skipping abandoned sketch")
		item.done(nil, err)

		return
	}

	generationDone := make(chan struct{})

	var wg sync.WaitGroup

	if q.progress != nil && item.OnProgress != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()
			q.reportProgress(itemCtx, item, generationDone)
		}()
	}

	result, err := q.run(itemCtx, item.Submission)

	close(generationDone)
	wg.Wait()

	if err != nil {
		q.logger.Error().Err(err).Str("session_id", item.Submission.SessionID).Msg("sketch failed")
	}

	item.done(result, err)
}

func (q *queueImpl) run(ctx context.Context, sub pipeline.Submission) (result *pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str("session_id", sub.SessionID).Msg("recovered sketch panic")

			result, err = nil, fmt.Errorf("%w: %v", ErrSketchPanicked, r)
		}
	}()

	return q.pipeline.Run(ctx, sub)
}

func (q *queueImpl) reportProgress(ctx context.Context, item *QueueItem, generationDone <-chan struct{}) {
	ticker := time.NewTicker(q.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-generationDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress, err := q.progress.GetCurrentProgress(ctx)
			if err != nil {
				q.logger.Warn().Err(err).Msg("getting current progress")

				return
			}

			if progress.Progress == 0 {
				continue
			}

			item.OnProgress(progress.Progress)
		}
	}
}

func (item *QueueItem) done(result *pipeline.Result, err error) {
	if item.OnDone != nil {
		item.OnDone(result, err)
	}
}
