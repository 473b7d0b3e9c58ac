package generation_invoker

import (
	"context"
	"image"
	"sync"
	"time"

	"kidcanvas/entities"
)

type Factory func(ctx context.Context) (Invoker, error)

// DefaultInitTimeout bounds one attempt to build the invoker.
const DefaultInitTimeout = 30 * time.Second

// Lazy builds its Invoker on first use and serializes calls to it. Once built
// it is never rebuilt; a failed build is retried by the next caller.
type Lazy struct {
	factory     Factory
	initTimeout time.Duration

	initMu  sync.Mutex
	invoker Invoker

	mu sync.Mutex
}

func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory, initTimeout: DefaultInitTimeout}
}

// init runs the factory on a context detached from the caller's cancellation.
func (l *Lazy) init(ctx context.Context) (Invoker, error) {
	l.initMu.Lock()
	defer l.initMu.Unlock()

	if l.invoker != nil {
		return l.invoker, nil
	}

	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.initTimeout)
	defer cancel()

	invoker, err := l.factory(initCtx)
	if err != nil {
		return nil, err
	}

	l.invoker = invoker

	return invoker, nil
}

func (l *Lazy) Generate(ctx context.Context, req entities.GenerationRequest, init image.Image) ([]entities.GeneratedImage, error) {
	invoker, err := l.init(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return invoker.Generate(ctx, req, init)
}

// NewLazyStableDiffusion probes the backend before building the invoker.
func NewLazyStableDiffusion(cfg Config) *Lazy {
	return NewLazy(func(ctx context.Context) (Invoker, error) {
		if cfg.StableDiffusionAPI != nil {
			if err := Probe(ctx, cfg.StableDiffusionAPI); err != nil {
				return nil, err
			}
		}

		return New(cfg)
	})
}
