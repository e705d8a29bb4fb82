package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle lazily creates and memoizes the single engine instance.
// Initialization failure is memoized too: the factory never runs again.
type Lifecycle struct {
	// mu serializes initialization and protects the fields below.
	mu sync.Mutex

	factory Factory
	engine  Engine
	initErr *OperationError

	logger  zerolog.Logger
	metrics MetricsRecorder
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleLogger sets the logger used to report initialization.
func WithLifecycleLogger(logger zerolog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		l.logger = logger.With().Str("component", "engine-lifecycle").Logger()
	}
}

// WithLifecycleMetrics sets the metrics recorder.
func WithLifecycleMetrics(m MetricsRecorder) LifecycleOption {
	return func(l *Lifecycle) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLifecycle creates a lifecycle around the factory.
func NewLifecycle(factory Factory, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		factory: factory,
		logger:  zerolog.Nop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the engine, creating it on first use. Callers block while the
// first initialization is in progress.
func (l *Lifecycle) Get(ctx context.Context) (Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine != nil {
		return l.engine, nil
	}
	if l.initErr != nil {
		return nil, l.initErr
	}

	start := time.Now()
	eng, err := l.create(ctx)
	duration := time.Since(start)
	l.metrics.RecordEngineInit(err == nil, duration)

	if err != nil {
		l.initErr = NewEngineInitError(err)
		l.logger.Error().
			Err(err).
			Dur("duration", duration).
			Msg("Engine initialization failed; document operations are unavailable")
		return nil, l.initErr
	}

	l.engine = eng
	l.logger.Info().Dur("duration", duration).Msg("Engine initialized")
	return eng, nil
}

// create runs the factory, converting a panic or nil engine into an error.
func (l *Lifecycle) create(ctx context.Context) (eng Engine, err error) {
	if l.factory == nil {
		return nil, errors.New("no engine factory configured")
	}

	defer func() {
		if r := recover(); r != nil {
			eng = nil
			err = fmt.Errorf("engine factory panicked: %v", r)
		}
	}()

	eng, err = l.factory(ctx)
	if err == nil && eng == nil {
		err = errors.New("engine factory returned no engine")
	}
	return eng, err
}

// Initialized reports whether the engine has been created successfully.
func (l *Lifecycle) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine != nil
}

// Shutdown releases the engine at process exit if it supports closing.
// It does not reset the memoized state.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	closer, ok := l.engine.(interface{ Close(context.Context) error })
	if !ok {
		return nil
	}
	if err := closer.Close(ctx); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}
