package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"speech-analytics-service/internal/events"
	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/audio"
	"speech-analytics-service/internal/service/emotion"
	"speech-analytics-service/internal/service/stt"
)

const waitTimeout = 2 * time.Second

// fakeConn records every message written to it.
type fakeConn struct {
	mu        sync.Mutex
	msgs      []Message
	closes    int
	failAfter int // successful writes before WriteJSON fails; -1 never fails
}

func newFakeConn() *fakeConn {
	return &fakeConn{failAfter: -1}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return errors.New("use of closed connection")
	}
	if c.failAfter >= 0 && len(c.msgs) >= c.failAfter {
		return errors.New("broken pipe")
	}
	c.msgs = append(c.msgs, v.(Message))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) isClosed() bool { return c.closeCount() > 0 }

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *fakeConn) types() []string {
	var out []string
	for _, m := range c.messages() {
		out = append(out, m.MessageType())
	}
	return out
}

func (c *fakeConn) count(typ string) int {
	n := 0
	for _, m := range c.messages() {
		if m.MessageType() == typ {
			n++
		}
	}
	return n
}

// waitFor blocks until n messages of typ were written.
func (c *fakeConn) waitFor(t *testing.T, typ string, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for c.count(typ) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %q messages, got %v", n, typ, c.types())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (c *fakeConn) transcriptions() []Transcription {
	var out []Transcription
	for _, m := range c.messages() {
		if tr, ok := m.(Transcription); ok {
			out = append(out, tr)
		}
	}
	return out
}

// fakeEngine records requests. When block is set every call waits for a
// value on it.
type fakeEngine struct {
	mu        sync.Mutex
	reqs      []stt.Request
	active    int
	maxActive int
	block     chan struct{}
	fn        func(req stt.Request) (stt.Response, error)
}

func (e *fakeEngine) Transcribe(ctx context.Context, req stt.Request) (stt.Response, error) {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return stt.Response{}, ctx.Err()
		}
	}
	if e.fn != nil {
		return e.fn(req)
	}
	d := audio.Duration(len(req.PCM), req.SampleRate)
	return stt.Response{
		Segments:            []models.Segment{{Start: 0, End: d, Text: fmt.Sprintf("utterance %d", len(e.requests()))}},
		DetectedLanguage:    req.Language,
		LanguageProbability: 0.9,
	}, nil
}

func (e *fakeEngine) requests() []stt.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]stt.Request, len(e.reqs))
	copy(out, e.reqs)
	return out
}

func (e *fakeEngine) waitCalls(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for len(e.requests()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d transcription calls, got %d", n, len(e.requests()))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeEmotion struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeEmotion) Enabled() bool { return true }

func (f *fakeEmotion) Analyze(ctx context.Context, pcm []byte, language, scenarioName string) (*emotion.Analysis, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	top := emotion.Prediction{Emotion: emotion.Neutral, EmotionKR: emotion.KoreanLabel(emotion.Neutral), Confidence: 0.7, Probability: 0.7}
	return &emotion.Analysis{
		PrimaryEmotion:  top,
		Emotions:        []emotion.Prediction{top},
		TopEmotions:     []emotion.Prediction{top},
		Scenario:        scenarioName,
		ScenarioApplied: true,
		ModelUsed:       "fake",
	}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Limits = audio.Limits{FlushBytes: 1 << 20, MaxBytes: 2 << 20}
	cfg.WriteTimeout = 0
	cfg.CommandQueue = 16
	return cfg
}

func newTestManager(cfg Config, engine *fakeEngine, emo EmotionAnalyzer) *Manager {
	return NewManager(cfg, Deps{
		Engine:    engine,
		Emotion:   emo,
		Publisher: events.New(&events.Config{Enabled: false}),
	})
}

func openSession(t *testing.T, m *Manager, language, scenarioName string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s, err := m.Open(context.Background(), conn, language, scenarioName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { m.Close(s, "test done") })
	return s, conn
}

func command(json string) Frame { return Frame{Data: []byte(json)} }

func pcm(samples int) Frame { return Frame{Binary: true, Data: make([]byte, samples*2)} }

func dispatch(t *testing.T, m *Manager, s *Session, f Frame) {
	t.Helper()
	if out := m.Dispatch(s, f); out.Kind != OutcomeContinue {
		t.Fatalf("expected OutcomeContinue, got %v (%v)", out.Kind, out.Err)
	}
}

func TestManager_OpenSendsWelcome(t *testing.T) {
	m := newTestManager(testConfig(), &fakeEngine{}, nil)
	s, conn := openSession(t, m, "", "")

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %v", conn.types())
	}
	welcome, ok := msgs[0].(Connected)
	if !ok {
		t.Fatalf("expected Connected, got %T", msgs[0])
	}
	if welcome.ConnectionID != s.ID() || welcome.ConnectionID == "" {
		t.Errorf("unexpected connection id %q", welcome.ConnectionID)
	}
	if welcome.Language != "ko" || welcome.Scenario != "presentation" {
		t.Errorf("expected defaults ko/presentation, got %s/%s", welcome.Language, welcome.Scenario)
	}
	if s.State() != StateReady {
		t.Errorf("expected StateReady, got %v", s.State())
	}
	if m.Registry().Len() != 1 {
		t.Errorf("expected 1 registered session, got %d", m.Registry().Len())
	}
}

func TestManager_StopFlushesBeforeAck(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "interview")

	dispatch(t, m, s, command(`{"command":"start_recording"}`))
	conn.waitFor(t, TypeRecordingStarted, 1)

	dispatch(t, m, s, pcm(16000))
	dispatch(t, m, s, command(`{"command":"stop_recording"}`))
	conn.waitFor(t, TypeRecordingStopped, 1)

	want := []string{TypeConnected, TypeRecordingStarted, TypeTranscription, TypeRecordingStopped}
	got := conn.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if s.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", s.State())
	}

	tr := conn.transcriptions()[0]
	if tr.SegmentID != 0 || !tr.IsFinal {
		t.Errorf("unexpected segment %d final=%v", tr.SegmentID, tr.IsFinal)
	}
	if tr.AudioDuration != 1.0 {
		t.Errorf("expected 1s audio, got %v", tr.AudioDuration)
	}
	if tr.Scenario != "interview" {
		t.Errorf("expected interview scenario, got %s", tr.Scenario)
	}
	if tr.EmotionAnalysis != nil {
		t.Error("expected nil emotion analysis without collaborator")
	}
	if tr.SyllableMetrics == nil {
		t.Error("expected syllable metrics for ko")
	}

	req := engine.requests()[0]
	if req.BeamSize != 10 {
		t.Errorf("expected interview beam size 10, got %d", req.BeamSize)
	}
	if len(req.Samples) != 16000 {
		t.Errorf("expected 16000 samples, got %d", len(req.Samples))
	}
	if req.InitialPrompt != "" {
		t.Errorf("expected no prompt on first flush, got %q", req.InitialPrompt)
	}
}

func TestManager_StopWithEmptyBufferStillAcks(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, command(`{"command":"stop_recording"}`))
	conn.waitFor(t, TypeRecordingStopped, 1)

	if len(engine.requests()) != 0 {
		t.Errorf("expected no transcription for empty buffer, got %d", len(engine.requests()))
	}
}

func TestManager_ContinuationPrompt(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, pcm(8000))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 1)

	dispatch(t, m, s, pcm(8000))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 2)

	reqs := engine.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(reqs))
	}
	first := conn.transcriptions()[0]
	if reqs[1].InitialPrompt != first.Text {
		t.Errorf("expected prompt %q, got %q", first.Text, reqs[1].InitialPrompt)
	}
	trs := conn.transcriptions()
	if trs[0].SegmentID != 0 || trs[1].SegmentID != 1 {
		t.Errorf("expected segment ids 0,1 got %d,%d", trs[0].SegmentID, trs[1].SegmentID)
	}
}

func TestManager_ResetClearsContext(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, command(`{"command":"start_recording"}`))
	dispatch(t, m, s, pcm(8000))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 1)

	if s.LastTranscription() == "" || s.SegmentCounter() != 1 {
		t.Fatalf("expected context after flush, got %q/%d", s.LastTranscription(), s.SegmentCounter())
	}

	dispatch(t, m, s, pcm(4000))
	dispatch(t, m, s, command(`{"command":"reset"}`))
	conn.waitFor(t, TypeResetComplete, 1)

	if s.BufferedBytes() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", s.BufferedBytes())
	}
	if s.SegmentCounter() != 0 {
		t.Errorf("expected segment counter 0, got %d", s.SegmentCounter())
	}
	if s.LastTranscription() != "" {
		t.Errorf("expected empty continuation, got %q", s.LastTranscription())
	}
	if s.Language() != "ko" {
		t.Errorf("reset must keep language, got %s", s.Language())
	}
	if s.State() != StateRecording {
		t.Errorf("reset must keep recording state, got %v", s.State())
	}
}

func TestManager_SetLanguageClearsContinuation(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, pcm(8000))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 1)

	dispatch(t, m, s, command(`language:en`))
	conn.waitFor(t, TypeLanguageChanged, 1)

	if s.Language() != "en" {
		t.Errorf("expected en, got %s", s.Language())
	}
	if s.LastTranscription() != "" {
		t.Errorf("expected continuation cleared, got %q", s.LastTranscription())
	}

	dispatch(t, m, s, pcm(8000))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 2)

	req := engine.requests()[1]
	if req.Language != "en" || req.InitialPrompt != "" {
		t.Errorf("expected en without prompt, got %s/%q", req.Language, req.InitialPrompt)
	}
	for _, msg := range conn.messages() {
		if lc, ok := msg.(LanguageChanged); ok && lc.Language != "en" {
			t.Errorf("expected language_changed en, got %s", lc.Language)
		}
	}
}

func TestManager_AutoStart(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		m := newTestManager(testConfig(), &fakeEngine{}, nil)
		s, _ := openSession(t, m, "ko", "presentation")

		dispatch(t, m, s, pcm(100))
		if s.State() != StateRecording {
			t.Errorf("expected StateRecording, got %v", s.State())
		}
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.AutoStartOnAudio = false
		m := newTestManager(cfg, &fakeEngine{}, nil)
		s, _ := openSession(t, m, "ko", "presentation")

		dispatch(t, m, s, pcm(100))
		if s.State() != StateReady {
			t.Errorf("expected StateReady, got %v", s.State())
		}
		if s.BufferedBytes() != 200 {
			t.Errorf("audio must still be buffered, got %d bytes", s.BufferedBytes())
		}
	})

	t.Run("after explicit stop", func(t *testing.T) {
		m := newTestManager(testConfig(), &fakeEngine{}, nil)
		s, conn := openSession(t, m, "ko", "presentation")

		dispatch(t, m, s, command(`{"command":"start_recording"}`))
		dispatch(t, m, s, command(`{"command":"stop_recording"}`))
		conn.waitFor(t, TypeRecordingStopped, 1)

		dispatch(t, m, s, pcm(100))
		if s.State() != StateIdle {
			t.Errorf("expected StateIdle after explicit stop, got %v", s.State())
		}
	})
}

func TestManager_InvalidCommandIgnored(t *testing.T) {
	m := newTestManager(testConfig(), &fakeEngine{}, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	for _, raw := range []string{`{bad json`, `{"command":"explode"}`, `{"command":"set_language"}`} {
		out := m.Dispatch(s, command(raw))
		if out.Kind != OutcomeError || !errors.Is(out.Err, ErrProtocol) {
			t.Errorf("%s: expected protocol error outcome, got %v (%v)", raw, out.Kind, out.Err)
		}
	}
	if got := conn.types(); len(got) != 1 {
		t.Errorf("invalid commands must not produce messages, got %v", got)
	}

	dispatch(t, m, s, command(`{"command":"reset"}`))
	conn.waitFor(t, TypeResetComplete, 1)
}

func TestManager_TranscriptionErrorReported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"timeout", fmt.Errorf("%w: 10s", stt.ErrInferenceTimeout), "inference_timeout"},
		{"model", fmt.Errorf("%w: load", stt.ErrModelUnavailable), "model_unavailable"},
		{"other", fmt.Errorf("%w: boom", stt.ErrInference), "inference_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{fn: func(stt.Request) (stt.Response, error) { return stt.Response{}, tt.err }}
			m := newTestManager(testConfig(), engine, nil)
			s, conn := openSession(t, m, "ko", "presentation")

			dispatch(t, m, s, pcm(8000))
			dispatch(t, m, s, command(`{"command":"process_final"}`))
			conn.waitFor(t, TypeProcessingComplete, 1)

			var found *Error
			for _, msg := range conn.messages() {
				if e, ok := msg.(Error); ok {
					found = &e
				}
			}
			if found == nil {
				t.Fatalf("expected error message, got %v", conn.types())
			}
			if found.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, found.Code)
			}
			if s.LastTranscription() != "" {
				t.Error("failed flush must not update continuation")
			}
			if conn.count(TypeTranscription) != 0 {
				t.Error("failed flush must not emit a transcription")
			}
		})
	}
}

func TestManager_ShortAudioIsSilent(t *testing.T) {
	engine := &fakeEngine{}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, pcm(100))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 1)

	if len(engine.requests()) != 0 {
		t.Errorf("expected no transcription below minimum samples")
	}
	if got := conn.types(); len(got) != 2 {
		t.Errorf("expected only welcome and processing_complete, got %v", got)
	}
	if s.SegmentCounter() != 0 {
		t.Errorf("guarded flush must not consume a segment id, got %d", s.SegmentCounter())
	}
}

func TestManager_EmptyTextIsSilent(t *testing.T) {
	engine := &fakeEngine{fn: func(stt.Request) (stt.Response, error) {
		return stt.Response{Segments: []models.Segment{{Start: 0, End: 1, Text: "  "}}}, nil
	}}
	m := newTestManager(testConfig(), engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, pcm(8000))
	dispatch(t, m, s, command(`{"command":"process_final"}`))
	conn.waitFor(t, TypeProcessingComplete, 1)

	if conn.count(TypeTranscription) != 0 || conn.count(TypeError) != 0 {
		t.Errorf("expected no result for empty text, got %v", conn.types())
	}
	if s.LastTranscription() != "" {
		t.Error("empty text must not become continuation context")
	}
}

func TestManager_ThresholdFlushesAreSerialised(t *testing.T) {
	cfg := testConfig()
	cfg.Limits = audio.Limits{FlushBytes: 2048}
	engine := &fakeEngine{block: make(chan struct{})}
	m := newTestManager(cfg, engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, pcm(1024))
	engine.waitCalls(t, 1)

	// a second threshold crossing while the first flush runs is a no-op
	dispatch(t, m, s, pcm(1024))
	time.Sleep(20 * time.Millisecond)
	if n := len(engine.requests()); n != 1 {
		t.Fatalf("expected 1 call while flushing, got %d", n)
	}

	engine.block <- struct{}{}
	engine.waitCalls(t, 2)
	engine.block <- struct{}{}
	conn.waitFor(t, TypeTranscription, 2)

	for i, req := range engine.requests() {
		if len(req.PCM) != 2048 {
			t.Errorf("call %d: expected 2048 bytes, got %d", i, len(req.PCM))
		}
	}
	for i, tr := range conn.transcriptions() {
		if tr.IsFinal {
			t.Errorf("threshold result %d must not be final", i)
		}
		if tr.SegmentID != i {
			t.Errorf("expected segment id %d, got %d", i, tr.SegmentID)
		}
	}
	engine.mu.Lock()
	maxActive := engine.maxActive
	engine.mu.Unlock()
	if maxActive != 1 {
		t.Errorf("expected at most one concurrent flush, got %d", maxActive)
	}
	if s.BufferedBytes() != 0 {
		t.Errorf("expected drained buffer, got %d", s.BufferedBytes())
	}
}

func TestManager_StopWaitsForInFlightFlush(t *testing.T) {
	cfg := testConfig()
	cfg.Limits = audio.Limits{FlushBytes: 2048}
	engine := &fakeEngine{block: make(chan struct{})}
	m := newTestManager(cfg, engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, command(`{"command":"start_recording"}`))
	conn.waitFor(t, TypeRecordingStarted, 1)

	dispatch(t, m, s, pcm(1024))
	engine.waitCalls(t, 1)
	dispatch(t, m, s, pcm(512))
	dispatch(t, m, s, command(`{"command":"stop_recording"}`))

	time.Sleep(20 * time.Millisecond)
	if conn.count(TypeRecordingStopped) != 0 {
		t.Fatal("stop must wait for the in-flight flush")
	}

	engine.block <- struct{}{}
	engine.waitCalls(t, 2)
	engine.block <- struct{}{}
	conn.waitFor(t, TypeRecordingStopped, 1)

	want := []string{TypeConnected, TypeRecordingStarted, TypeTranscription, TypeTranscription, TypeRecordingStopped}
	if got := conn.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	reqs := engine.requests()
	if len(reqs[1].PCM) != 1024 {
		t.Errorf("expected final flush of residual 1024 bytes, got %d", len(reqs[1].PCM))
	}
}

func TestManager_ResetKeepsLaterAudio(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := newTestManager(testConfig(), &fakeEngine{}, nil)
		s, conn := openSession(t, m, "ko", "presentation")

		dispatch(t, m, s, pcm(100))
		dispatch(t, m, s, command(`{"command":"reset"}`))
		dispatch(t, m, s, pcm(300))
		conn.waitFor(t, TypeResetComplete, 1)

		if got := s.BufferedBytes(); got != 600 {
			t.Fatalf("run %d: expected audio sent after reset to stay buffered (600 bytes), got %d", i, got)
		}
	}
}

func TestManager_FinalIgnoresLaterAudio(t *testing.T) {
	tests := []struct {
		name    string
		command string
		ack     string
	}{
		{"stop_recording", `{"command":"stop_recording"}`, TypeRecordingStopped},
		{"process_final", `{"command":"process_final"}`, TypeProcessingComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			m := newTestManager(testConfig(), engine, nil)
			s, conn := openSession(t, m, "ko", "presentation")

			dispatch(t, m, s, command(`{"command":"start_recording"}`))
			dispatch(t, m, s, pcm(8000))
			dispatch(t, m, s, command(tt.command))
			dispatch(t, m, s, pcm(4000))
			conn.waitFor(t, tt.ack, 1)

			reqs := engine.requests()
			if len(reqs) != 1 || len(reqs[0].PCM) != 16000 {
				t.Fatalf("expected one flush of the 16000 bytes sent before the command, got %d calls", len(reqs))
			}
			if got := s.BufferedBytes(); got != 8000 {
				t.Errorf("expected later audio to stay buffered (8000 bytes), got %d", got)
			}
			if !conn.transcriptions()[0].IsFinal {
				t.Error("expected final result")
			}
		})
	}
}

func TestManager_StopBlocksAutoStartFromLaterAudio(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	cfg := testConfig()
	cfg.Limits = audio.Limits{FlushBytes: 2048}
	m := newTestManager(cfg, engine, nil)
	s, conn := openSession(t, m, "ko", "presentation")

	dispatch(t, m, s, pcm(1024))
	engine.waitCalls(t, 1)

	// stop queues behind the in-flight flush; audio after it must not
	// restart recording once the stop completes
	dispatch(t, m, s, command(`{"command":"stop_recording"}`))
	dispatch(t, m, s, pcm(10))
	close(engine.block)
	conn.waitFor(t, TypeRecordingStopped, 1)

	dispatch(t, m, s, pcm(10))
	if s.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", s.State())
	}
	if got := s.BufferedBytes(); got != 40 {
		t.Errorf("expected 40 bytes after stop, got %d", got)
	}
}

func TestManager_CloseAllNotifiesClients(t *testing.T) {
	m := newTestManager(testConfig(), &fakeEngine{}, nil)
	conn := newFakeConn()
	s, err := m.Open(context.Background(), conn, "ko", "presentation")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	m.CloseAll("shutdown")

	if s.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", s.State())
	}
	msgs := conn.messages()
	last, ok := msgs[len(msgs)-1].(Error)
	if !ok || last.Code != CodeSessionClosed || last.Message != "shutdown" {
		t.Errorf("expected session_closed notice, got %v", conn.types())
	}
	if m.Registry().Len() != 0 {
		t.Errorf("expected empty registry, got %d", m.Registry().Len())
	}
}

func TestManager_EmotionAttached(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		emo := &fakeEmotion{}
		m := newTestManager(testConfig(), &fakeEngine{}, emo)
		s, conn := openSession(t, m, "ko", "dating")

		dispatch(t, m, s, pcm(8000))
		dispatch(t, m, s, command(`{"command":"process_final"}`))
		conn.waitFor(t, TypeProcessingComplete, 1)

		tr := conn.transcriptions()[0]
		if tr.EmotionAnalysis == nil {
			t.Fatal("expected emotion analysis")
		}
		if tr.EmotionAnalysis.Scenario != "dating" {
			t.Errorf("expected dating scenario, got %s", tr.EmotionAnalysis.Scenario)
		}
	})

	t.Run("downstream failure", func(t *testing.T) {
		emo := &fakeEmotion{err: emotion.ErrDownstreamUnavailable}
		m := newTestManager(testConfig(), &fakeEngine{}, emo)
		s, conn := openSession(t, m, "ko", "dating")

		dispatch(t, m, s, pcm(8000))
		dispatch(t, m, s, command(`{"command":"process_final"}`))
		conn.waitFor(t, TypeProcessingComplete, 1)

		trs := conn.transcriptions()
		if len(trs) != 1 {
			t.Fatalf("expected transcription despite emotion failure, got %v", conn.types())
		}
		if trs[0].EmotionAnalysis != nil {
			t.Error("expected null emotion analysis")
		}
	})
}

func TestManager_Close(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	cfg := testConfig()
	cfg.Limits = audio.Limits{FlushBytes: 2048}
	m := newTestManager(cfg, engine, nil)
	conn := newFakeConn()
	s, err := m.Open(context.Background(), conn, "ko", "presentation")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	dispatch(t, m, s, pcm(1024))
	engine.waitCalls(t, 1)

	done := make(chan struct{})
	go func() {
		m.Close(s, "client gone")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close did not cancel the in-flight flush")
	}

	if s.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", s.State())
	}
	if m.Registry().Len() != 0 {
		t.Errorf("expected empty registry, got %d", m.Registry().Len())
	}
	if !conn.isClosed() {
		t.Error("expected connection closed")
	}
	if out := m.Dispatch(s, pcm(10)); out.Kind != OutcomeClose {
		t.Errorf("expected OutcomeClose after close, got %v", out.Kind)
	}
	if conn.count(TypeError) != 0 || conn.count(TypeTranscription) != 0 {
		t.Errorf("no messages expected after close, got %v", conn.types())
	}

	// idempotent
	m.Close(s, "again")
}

func TestManager_SendFailureEndsSession(t *testing.T) {
	m := newTestManager(testConfig(), &fakeEngine{}, nil)
	conn := newFakeConn()
	conn.failAfter = 1
	s, err := m.Open(context.Background(), conn, "ko", "presentation")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close(s, "test done")

	dispatch(t, m, s, command(`{"command":"reset"}`))

	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("expected session to end after send failure")
	}
	if out := m.Dispatch(s, pcm(10)); out.Kind != OutcomeClose {
		t.Errorf("expected OutcomeClose, got %v", out.Kind)
	}
}
