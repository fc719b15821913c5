// Package session implements the per-connection state machine of the
// streaming protocol: command handling, audio accumulation, serialised
// flushes and result delivery.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/schema"
	"speech-analytics-service/internal/service/audio"
)

// Session is the state owned by one connection. Fields under mu are read by
// flush goroutines and written by the command loop.
type Session struct {
	id        string
	client    *Client
	lifecycle *Lifecycle
	buffer    *audio.Buffer
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan queuedCommand
	wg     sync.WaitGroup

	// pending counts queued commands that consume or discard buffered audio.
	// Threshold flushes hold off while it is non-zero.
	pending atomic.Int32

	mu                sync.Mutex
	language          string
	scenario          string
	segmentCounter    int
	lastTranscription string
	epoch             uint64 // bumped whenever continuation context is invalidated
	logger            zerolog.Logger
}

// queuedCommand is a validated command plus the buffer offset it was
// received at. Audio appended after mark belongs to later commands.
type queuedCommand struct {
	schema.Command
	mark int64
}

// flushContext is the session state a flush captures before transcription.
type flushContext struct {
	segmentID int
	language  string
	scenario  string
	prompt    string
	epoch     uint64
}

func newSession(parent context.Context, id string, client *Client, language, scenarioName string, queue int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        id,
		client:    client,
		lifecycle: NewLifecycle(),
		buffer:    audio.NewBuffer(),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan queuedCommand, queue),
		language:  language,
		scenario:  scenarioName,
		logger:    logging.WithSession(id, scenarioName, language),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Done is closed when the session is torn down or its transport failed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Language returns the current session language.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Scenario returns the scenario key fixed at connect time.
func (s *Session) Scenario() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario
}

// SegmentCounter returns the id the next transcription will carry.
func (s *Session) SegmentCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentCounter
}

// LastTranscription returns the continuation context.
func (s *Session) LastTranscription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTranscription
}

// BufferedBytes returns the number of bytes waiting to be flushed.
func (s *Session) BufferedBytes() int { return s.buffer.Len() }

// LastActivity returns the time the last audio frame was buffered.
func (s *Session) LastActivity() time.Time { return s.buffer.LastActivity() }

func (s *Session) log() zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// beginSegment allocates the next segment id and snapshots the context the
// transcription request is built from.
func (s *Session) beginSegment() flushContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc := flushContext{
		segmentID: s.segmentCounter,
		language:  s.language,
		scenario:  s.scenario,
		prompt:    s.lastTranscription,
		epoch:     s.epoch,
	}
	s.segmentCounter++
	return fc
}

// storeContinuation records text as the next initial prompt unless the
// context was reset or the language changed since the flush began.
func (s *Session) storeContinuation(text string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.lastTranscription = text
	return true
}

// resetContext clears the segment counter and continuation text.
func (s *Session) resetContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentCounter = 0
	s.lastTranscription = ""
	s.epoch++
}

// setLanguage switches language and drops the continuation text.
func (s *Session) setLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = language
	s.lastTranscription = ""
	s.epoch++
	s.logger = logging.WithSession(s.id, s.scenario, language)
}

// send writes msg to the client. A transport failure cancels the session so
// the receive loop and pending flushes wind down.
func (s *Session) send(msg Message) error {
	err := s.client.Send(msg)
	if errors.Is(err, ErrTransportClosed) {
		s.cancel()
	}
	return err
}
