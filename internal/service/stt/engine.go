package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/observability/metrics"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Provider   string        // label used in logs and metrics
	Timeout    time.Duration // per-call inference timeout
	MaxWorkers int           // concurrent inference calls across all sessions
	Phrases    []string      // hallucination phrases removed from results
}

// Engine is the process-wide transcription resource. The backend is loaded
// lazily on first use; concurrent first callers share a single load, and a
// failed load is retried by the next call.
type Engine struct {
	cfg     EngineConfig
	load    Loader
	filter  *HallucinationFilter
	workers *semaphore.Weighted
	metrics *metrics.Metrics
	logger  zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	model Transcriber
}

// NewEngine creates an engine that builds its backend with load.
func NewEngine(cfg EngineConfig, load Loader, m *metrics.Metrics) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Engine{
		cfg:     cfg,
		load:    load,
		filter:  NewHallucinationFilter(cfg.Phrases),
		workers: semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		metrics: m,
		logger:  logging.WithProvider("stt", cfg.Provider),
	}
}

// Provider returns the configured backend name.
func (e *Engine) Provider() string { return e.cfg.Provider }

// Loaded reports whether the backend has been loaded.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// Warm loads the backend if it is not loaded yet.
func (e *Engine) Warm(ctx context.Context) error {
	_, err := e.transcriber(ctx)
	return err
}

func (e *Engine) transcriber(ctx context.Context) (Transcriber, error) {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	ch := e.group.DoChan("load", func() (interface{}, error) {
		e.mu.RLock()
		existing := e.model
		e.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		// The load outlives the caller that triggered it; later callers
		// join it instead of starting their own.
		start := time.Now()
		t, err := e.load(context.WithoutCancel(ctx))
		e.metrics.RecordModelLoad(e.cfg.Provider, err)
		if err != nil {
			e.logger.Error().Err(err).Msg("Failed to load transcription model")
			return nil, err
		}

		e.mu.Lock()
		e.model = t
		e.mu.Unlock()
		e.logger.Info().Dur("loadTime", time.Since(start)).Msg("Transcription model loaded")
		return t, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, r.Err)
		}
		if r.Shared {
			e.logger.Debug().Msg("Joined in-flight model load")
		}
		return r.Val.(Transcriber), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type result struct {
	resp Response
	err  error
}

// Transcribe runs req against the backend with the engine's timeout. Errors
// wrap one of ErrModelUnavailable, ErrInferenceTimeout or ErrInference.
func (e *Engine) Transcribe(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.transcribe(ctx, req)
	e.metrics.RecordTranscription(e.cfg.Provider, errorType(err), time.Since(start).Seconds())
	if err != nil {
		return Response{}, err
	}
	return e.postFilter(resp), nil
}

func (e *Engine) transcribe(ctx context.Context, req Request) (Response, error) {
	t, err := e.transcriber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: waiting for model load", ErrInferenceTimeout)
		}
		return Response{}, err
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return Response{}, fmt.Errorf("%w: waiting for a worker", ErrInferenceTimeout)
	}

	// The backend runs on its own goroutine so a call that ignores ctx
	// still cannot hold the session past the timeout. The worker slot is
	// released only when the backend actually returns.
	done := make(chan result, 1)
	go func() {
		defer e.workers.Release(1)
		r, err := t.Transcribe(ctx, req)
		done <- result{resp: r, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil:
			return r.resp, nil
		case errors.Is(r.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Response{}, fmt.Errorf("%w: %v", ErrInferenceTimeout, r.err)
		case errors.Is(r.err, ErrModelUnavailable):
			return Response{}, r.err
		default:
			return Response{}, fmt.Errorf("%w: %v", ErrInference, r.err)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("%w after %s", ErrInferenceTimeout, e.cfg.Timeout)
		}
		return Response{}, fmt.Errorf("%w: %v", ErrInference, ctx.Err())
	}
}

// postFilter removes hallucination phrases from every segment and drops
// segments left without any words.
func (e *Engine) postFilter(resp Response) Response {
	out := resp
	out.Segments = resp.Segments[:0:0]
	for _, s := range resp.Segments {
		filtered := e.filter.Apply(s.Text)
		if filtered != s.Text {
			e.logger.Info().Str("original", s.Text).Str("filtered", filtered).Msg("Removed hallucination phrase")
			if IsEmpty(filtered) {
				continue
			}
			s.Text = filtered
			s.Words = nil
		}
		out.Segments = append(out.Segments, s)
	}
	return out
}

// Close releases the backend, if loaded.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

// ErrorCode maps a Transcribe error onto the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrInferenceTimeout):
		return "inference_timeout"
	default:
		return "inference_error"
	}
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return ErrorCode(err)
}
