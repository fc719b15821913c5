package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"speech-analytics-service/internal/events"
	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/observability/metrics"
	"speech-analytics-service/internal/schema"
	"speech-analytics-service/internal/service/analytics"
	"speech-analytics-service/internal/service/audio"
	"speech-analytics-service/internal/service/emotion"
	"speech-analytics-service/internal/service/scenario"
	"speech-analytics-service/internal/service/stt"
)

// ErrProtocol marks an inbound frame that could not be interpreted. The
// connection stays open.
var ErrProtocol = errors.New("protocol error")

// Flush triggers.
const (
	TriggerThreshold = "threshold"
	TriggerStop      = "stop_recording"
	TriggerFinal     = "process_final"
)

// Transcriber is the shared inference resource. *stt.Engine satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, req stt.Request) (stt.Response, error)
}

// EmotionAnalyzer is the optional emotion collaborator. *emotion.Client
// satisfies it.
type EmotionAnalyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, pcm []byte, language, scenarioName string) (*emotion.Analysis, error)
}

// EventPublisher receives results and lifecycle events. *events.Publisher
// satisfies it.
type EventPublisher interface {
	PublishTranscription(ctx context.Context, key string, event any) error
	PublishSessionEvent(ctx context.Context, key string, event any) error
}

// Config holds the per-connection settings read at startup.
type Config struct {
	SampleRate              int
	Limits                  audio.Limits
	MinSamples              int // drained windows below this are dropped silently
	BeamSize                int // used when the scenario is not in the table
	VADFilter               bool
	ConditionOnPreviousText bool
	WordTimestamps          bool
	AutoStartOnAudio        bool
	WriteTimeout            time.Duration
	PublishTimeout          time.Duration
	CommandQueue            int
	DefaultLanguage         string
	DefaultScenario         string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SampleRate:              16000,
		Limits:                  audio.Limits{FlushBytes: 1920000, MaxBytes: 15 * 1024 * 1024},
		MinSamples:              512,
		BeamSize:                5,
		VADFilter:               true,
		ConditionOnPreviousText: true,
		WordTimestamps:          true,
		AutoStartOnAudio:        true,
		WriteTimeout:            5 * time.Second,
		PublishTimeout:          5 * time.Second,
		CommandQueue:            64,
		DefaultLanguage:         "ko",
		DefaultScenario:         scenario.Presentation,
	}
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Engine    Transcriber
	Analytics *analytics.Engine
	Emotion   EmotionAnalyzer // optional
	Publisher EventPublisher  // optional
	Table     *scenario.Table
	Validator *schema.Validator
	Registry  *Registry
	Metrics   *metrics.Metrics
}

// OutcomeKind tags the result of dispatching one inbound frame.
type OutcomeKind int

const (
	// OutcomeContinue - keep reading.
	OutcomeContinue OutcomeKind = iota
	// OutcomeClose - stop reading and tear the session down.
	OutcomeClose
	// OutcomeError - the frame was rejected; keep reading.
	OutcomeError
)

// Outcome is returned by Dispatch.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Frame is one inbound transport frame.
type Frame struct {
	Binary bool
	Data   []byte
}

// Manager owns the sessions of all connections.
type Manager struct {
	cfg       Config
	threshold int
	engine    Transcriber
	analytics *analytics.Engine
	emotion   EmotionAnalyzer
	publisher EventPublisher
	table     *scenario.Table
	validator *schema.Validator
	registry  *Registry
	metrics   *metrics.Metrics
}

// NewManager creates a manager. Missing optional deps get defaults.
func NewManager(cfg Config, deps Deps) *Manager {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Limits.FlushBytes <= 0 && cfg.Limits.MaxBytes <= 0 {
		cfg.Limits = def.Limits
	}
	if cfg.MinSamples < 0 {
		cfg.MinSamples = 0
	}
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = def.CommandQueue
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = def.DefaultLanguage
	}
	if deps.Table == nil {
		deps.Table = scenario.DefaultTable()
	}
	if cfg.DefaultScenario == "" {
		cfg.DefaultScenario = deps.Table.DefaultScenario()
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NewEngine(deps.Table)
	}
	if deps.Validator == nil {
		deps.Validator = schema.New()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	return &Manager{
		cfg:       cfg,
		threshold: cfg.Limits.Threshold(),
		engine:    deps.Engine,
		analytics: deps.Analytics,
		emotion:   deps.Emotion,
		publisher: deps.Publisher,
		table:     deps.Table,
		validator: deps.Validator,
		registry:  deps.Registry,
		metrics:   deps.Metrics,
	}
}

// Registry returns the live-session registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Threshold returns the partial flush size in bytes.
func (m *Manager) Threshold() int { return m.threshold }

// Open registers a new session for conn, sends the welcome message and
// starts the command loop. Empty language or scenario use the defaults.
func (m *Manager) Open(ctx context.Context, conn Conn, language, scenarioName string) (*Session, error) {
	if language == "" {
		language = m.cfg.DefaultLanguage
	}
	if scenarioName == "" {
		scenarioName = m.cfg.DefaultScenario
	}

	id := uuid.NewString()
	client := NewClient(id, conn, m.cfg.WriteTimeout, m.metrics)
	s := newSession(ctx, id, client, language, scenarioName, m.cfg.CommandQueue)
	if !m.table.Has(scenarioName) {
		s.logger.Warn().Str("fallback", m.table.DefaultScenario()).Msg("Unknown scenario, using default policy")
	}

	if err := m.registry.Add(s); err != nil {
		s.cancel()
		return nil, err
	}
	m.metrics.RecordConnectionStart()

	if err := s.lifecycle.Accept(); err != nil {
		m.Close(s, "accept failed")
		return nil, err
	}
	welcome := Connected{
		Type:         TypeConnected,
		ConnectionID: id,
		Message:      "connected to speech analytics stream",
		Language:     language,
		Scenario:     scenarioName,
	}
	if err := s.send(welcome); err != nil {
		m.Close(s, "welcome failed")
		return nil, err
	}

	s.wg.Add(1)
	go m.runCommands(s)

	s.logger.Info().Msg("Session opened")
	m.publishSessionEvent(s, events.EventSessionConnected, "")
	return s, nil
}

// Dispatch handles one inbound frame. Binary frames are appended without
// waiting on any flush; text frames are validated and queued in order.
//
// A queued command carries the buffer offset it arrived at, so stop, final
// and reset act only on audio received before them.
func (m *Manager) Dispatch(s *Session, f Frame) Outcome {
	if s.lifecycle.IsClosed() {
		return Outcome{Kind: OutcomeClose, Err: ErrSessionClosed}
	}
	if s.ctx.Err() != nil || s.client.Closed() {
		return Outcome{Kind: OutcomeClose, Err: ErrTransportClosed}
	}

	if f.Binary {
		m.onAudio(s, f.Data)
		return Outcome{Kind: OutcomeContinue}
	}

	cmd, err := m.validator.Parse(f.Data)
	if err != nil {
		m.metrics.RecordProtocolError("invalid_command")
		logger := s.log()
		logger.Warn().Err(err).Msg("Ignoring invalid command")
		return Outcome{Kind: OutcomeError, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}
	}
	m.metrics.RecordCommand(cmd.Name)

	barrier := consumesAudio(cmd.Name)
	if barrier {
		s.pending.Add(1)
	}
	select {
	case s.cmds <- queuedCommand{Command: cmd, mark: s.buffer.Mark()}:
		if cmd.Name == schema.CommandStopRecording {
			// audio frames that follow must not auto-start recording again
			s.lifecycle.RequestStop()
		}
		return Outcome{Kind: OutcomeContinue}
	case <-s.ctx.Done():
		return Outcome{Kind: OutcomeClose, Err: ErrTransportClosed}
	default:
		if barrier {
			s.pending.Add(-1)
		}
		m.metrics.RecordProtocolError("queue_full")
		return Outcome{Kind: OutcomeError, Err: fmt.Errorf("%w: command queue full", ErrProtocol)}
	}
}

// consumesAudio reports whether a command drains or discards buffered audio.
func consumesAudio(name string) bool {
	switch name {
	case schema.CommandStopRecording, schema.CommandProcessFinal, schema.CommandReset:
		return true
	}
	return false
}

// Close tears s down: pending flushes are cancelled and awaited, the buffer
// is discarded and the connection closed. Safe to call more than once.
func (m *Manager) Close(s *Session, reason string) {
	if !s.lifecycle.Close() {
		return
	}
	s.cancel()
	_ = s.client.Close()
	s.wg.Wait()

	discarded := s.BufferedBytes()
	s.buffer.Clear()
	m.registry.Remove(s.id)
	m.metrics.RecordConnectionEnd(time.Since(s.createdAt).Seconds())

	logger := s.log()
	logger.Info().
		Str("reason", reason).
		Dur("duration", time.Since(s.createdAt)).
		Int("discardedBytes", discarded).
		Time("lastActivity", s.LastActivity()).
		Msg("Session closed")
	m.publishSessionEvent(s, events.EventSessionClosed, reason)
}

// CloseAll notifies and tears down every registered session.
func (m *Manager) CloseAll(reason string) {
	for _, id := range m.registry.IDs() {
		s, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		if err := m.registry.Send(id, errorMessage(CodeSessionClosed, reason)); err != nil {
			logger := s.log()
			logger.Debug().Err(err).Msg("Close notice not delivered")
		}
		m.Close(s, reason)
	}
}

func (m *Manager) onAudio(s *Session, data []byte) {
	if len(data) == 0 {
		return
	}
	if s.buffer.Processing() && s.buffer.AtCapacity(m.cfg.Limits.MaxBytes) {
		m.metrics.RecordOverCapacity()
	}
	s.buffer.Append(data)
	m.metrics.RecordAudioReceived(len(data))

	if m.cfg.AutoStartOnAudio && s.lifecycle.AutoStart() {
		logger := s.log()
		logger.Warn().Str("compat", "auto_start").Msg("Recording started by audio frame without start_recording")
		m.publishSessionEvent(s, events.EventRecordingStarted, "auto_start")
	}
	m.scheduleFlush(s)
}

// scheduleFlush starts a threshold flush when enough audio is buffered and
// no flush holds the token. A flush that is already running makes this a
// no-op; the leftover is picked up when that flush finishes. Queued
// stop/final/reset commands hold threshold flushes off until they have run.
func (m *Manager) scheduleFlush(s *Session) {
	if s.ctx.Err() != nil || s.pending.Load() > 0 {
		return
	}
	if !s.buffer.ShouldFlush(m.threshold) {
		if s.buffer.Processing() && s.buffer.Len() >= m.threshold {
			m.metrics.RecordFlushSkipped("in_progress")
		}
		return
	}
	if !s.buffer.TryBeginFlush() {
		m.metrics.RecordFlushSkipped("in_progress")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.flush(s, TriggerThreshold, 0)
		if s.ctx.Err() == nil {
			m.scheduleFlush(s)
		}
	}()
}

func (m *Manager) runCommands(s *Session) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			m.handleCommand(s, cmd)
			if consumesAudio(cmd.Name) {
				s.pending.Add(-1)
				m.scheduleFlush(s)
			}
		}
	}
}

func (m *Manager) handleCommand(s *Session, cmd queuedCommand) {
	logger := s.log()
	logger.Debug().Str("command", cmd.Name).Msg("Handling command")

	switch cmd.Name {
	case schema.CommandStartRecording:
		if err := s.lifecycle.StartRecording(); err != nil {
			return
		}
		_ = s.send(ack(TypeRecordingStarted))
		m.publishSessionEvent(s, events.EventRecordingStarted, "")

	case schema.CommandStopRecording:
		s.lifecycle.RequestStop()
		if err := s.buffer.BeginFlush(s.ctx); err != nil {
			return
		}
		m.flush(s, TriggerStop, cmd.mark)
		if err := s.lifecycle.StopRecording(); err != nil {
			return
		}
		_ = s.send(ack(TypeRecordingStopped))
		m.publishSessionEvent(s, events.EventRecordingStopped, "")

	case schema.CommandProcessFinal:
		if err := s.buffer.BeginFlush(s.ctx); err != nil {
			return
		}
		m.flush(s, TriggerFinal, cmd.mark)
		_ = s.send(ack(TypeProcessingComplete))

	case schema.CommandReset:
		if n := s.buffer.DiscardTo(cmd.mark); n > 0 {
			logger.Debug().Int("bytes", n).Msg("Discarded buffered audio")
		}
		s.resetContext()
		_ = s.send(ack(TypeResetComplete))
		m.publishSessionEvent(s, events.EventSessionReset, "")

	case schema.CommandSetLanguage:
		s.setLanguage(cmd.Language)
		_ = s.send(LanguageChanged{Type: TypeLanguageChanged, Language: cmd.Language})
		m.publishSessionEvent(s, events.EventLanguageChanged, "")
	}
}

// flush runs one drain/transcribe/analyse cycle. A threshold flush drains
// one threshold-sized window; stop and final drain everything buffered
// before mark. The caller must hold the buffer's flush token; flush releases
// it on every path.
func (m *Manager) flush(s *Session, trigger string, mark int64) {
	defer s.buffer.EndFlush()
	s.lifecycle.SetFlushing(true)
	defer s.lifecycle.SetFlushing(false)

	logger := s.log()

	final := trigger != TriggerThreshold
	var pcm []byte
	if final {
		pcm = s.buffer.DrainTo(mark)
	} else {
		pcm = s.buffer.Drain(false, m.threshold)
	}
	if audio.SampleCount(len(pcm)) < m.cfg.MinSamples {
		m.metrics.RecordFlushSkipped("too_short")
		logger.Debug().Int("bytes", len(pcm)).Str("trigger", trigger).Msg("Flush below minimum sample count")
		return
	}
	m.metrics.RecordFlush(trigger)

	fc := s.beginSegment()
	policy, known := m.table.Lookup(fc.scenario)
	beam := policy.BeamSize
	if !known && m.cfg.BeamSize > 0 {
		beam = m.cfg.BeamSize
	}
	req := stt.Request{
		Samples:                 audio.PCM16ToFloat32(pcm),
		PCM:                     pcm,
		SampleRate:              m.cfg.SampleRate,
		Language:                fc.language,
		BeamSize:                beam,
		VADFilter:               m.cfg.VADFilter,
		VAD:                     policy.VAD,
		ConditionOnPreviousText: m.cfg.ConditionOnPreviousText,
		WordTimestamps:          m.cfg.WordTimestamps,
	}
	if m.cfg.ConditionOnPreviousText {
		req.InitialPrompt = fc.prompt
	}

	start := time.Now()
	resp, err := m.engine.Transcribe(s.ctx, req)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		code := stt.ErrorCode(err)
		logger.Error().Err(err).Str("code", code).Int("segmentId", fc.segmentID).Str("trigger", trigger).Msg("Transcription failed")
		_ = s.send(errorMessage(code, err.Error()))
		return
	}

	text := resp.Text()
	if text == "" {
		m.metrics.RecordFlushSkipped("empty_text")
		logger.Debug().Int("segmentId", fc.segmentID).Msg("Empty transcription")
		return
	}
	s.storeContinuation(text, fc.epoch)

	language := fc.language
	if resp.DetectedLanguage != "" {
		language = resp.DetectedLanguage
	}
	duration := audio.Duration(len(pcm), m.cfg.SampleRate)

	var (
		analysis models.Analysis
		emo      *emotion.Analysis
	)
	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		analysis = m.analytics.Compute(analytics.Input{
			Segments:      resp.Segments,
			TotalDuration: duration,
			Scenario:      fc.scenario,
			Language:      language,
		})
		return nil
	})
	if m.emotion != nil && m.emotion.Enabled() {
		g.Go(func() error {
			// failures are logged by the client and leave emotionAnalysis null
			if a, err := m.emotion.Analyze(gctx, pcm, language, fc.scenario); err == nil {
				emo = a
			}
			return nil
		})
	}
	_ = g.Wait()

	msg := Transcription{
		Type:                TypeTranscription,
		Text:                text,
		IsFinal:             final,
		SegmentID:           fc.segmentID,
		Language:            language,
		LanguageProbability: resp.LanguageProbability,
		Scenario:            fc.scenario,
		AudioDuration:       duration,
		ProcessingTimeMs:    time.Since(start).Milliseconds(),
		SpeechMetrics:       analysis.Speech,
		VariabilityMetrics:  analysis.Variability,
		SyllableMetrics:     analysis.Syllables,
		Segments:            resp.Segments,
		Words:               resp.Words(),
		EmotionAnalysis:     emo,
	}
	if msg.Segments == nil {
		msg.Segments = []models.Segment{}
	}
	if err := s.send(msg); err != nil {
		logger.Warn().Err(err).Int("segmentId", fc.segmentID).Msg("Failed to deliver transcription")
		return
	}

	logger.Info().
		Int("segmentId", fc.segmentID).
		Str("trigger", trigger).
		Float64("audioDuration", duration).
		Int64("processingTimeMs", msg.ProcessingTimeMs).
		Str("speedCategory", analysis.Speech.SpeedCategory).
		Bool("emotion", emo != nil).
		Msg("Transcription delivered")

	m.publishTranscription(s, trigger, msg)
}

func (m *Manager) publishTranscription(s *Session, trigger string, msg Transcription) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), m.cfg.PublishTimeout)
	defer cancel()
	ev := events.TranscriptionEvent{
		EventType:    events.EventTranscription,
		ConnectionID: s.id,
		SegmentID:    msg.SegmentID,
		Trigger:      trigger,
		Result:       msg,
		Timestamp:    time.Now().UnixMilli(),
	}
	if err := m.publisher.PublishTranscription(ctx, s.id, ev); err != nil {
		logger := s.log()
		logger.Warn().Err(err).Int("segmentId", msg.SegmentID).Msg("Failed to publish transcription")
	}
}

func (m *Manager) publishSessionEvent(s *Session, eventType, reason string) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), m.cfg.PublishTimeout)
	defer cancel()
	ev := events.SessionEvent{
		EventType:    eventType,
		ConnectionID: s.id,
		Language:     s.Language(),
		Scenario:     s.Scenario(),
		State:        s.lifecycle.State().String(),
		Reason:       reason,
		Timestamp:    time.Now().UnixMilli(),
	}
	if err := m.publisher.PublishSessionEvent(ctx, s.id, ev); err != nil {
		logger := s.log()
		logger.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish session event")
	}
}
