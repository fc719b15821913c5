// Package mock provides a scripted transcription backend for local runs and
// tests. It produces deterministic, plausibly timed segments without any
// model or network dependency.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/scenario"
	"speech-analytics-service/internal/service/stt"
)

// Utterance is one scripted sentence.
type Utterance struct {
	Text       string
	Confidence float64
}

// DefaultScripts provides sample utterances per language. Unknown languages
// use the English script.
var DefaultScripts = map[string][]Utterance{
	"ko": {
		{Text: "안녕하세요 오늘 발표를 시작하겠습니다", Confidence: 0.94},
		{Text: "먼저 프로젝트 배경을 설명드리겠습니다", Confidence: 0.91},
		{Text: "지난 분기 성과를 함께 보시죠", Confidence: 0.93},
		{Text: "질문이 있으시면 말씀해 주세요", Confidence: 0.97},
	},
	"en": {
		{Text: "I want to talk about our quarterly results", Confidence: 0.94},
		{Text: "Yes please go ahead", Confidence: 0.97},
		{Text: "Can you help me with my account", Confidence: 0.91},
		{Text: "Thank you very much", Confidence: 0.98},
	},
}

// Config tunes the scripted backend.
type Config struct {
	SegmentSeconds float64       // target speech length per segment
	PauseSeconds   float64       // gap inserted between segments
	MinAudioSecs   float64       // shorter windows produce no segments
	Latency        time.Duration // simulated processing delay
	Err            error         // returned from every call when set
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SegmentSeconds: 2.5,
		PauseSeconds:   0.4,
		MinAudioSecs:   0.3,
		Latency:        0,
	}
}

// Transcriber implements stt.Transcriber with scripted output.
type Transcriber struct {
	cfg Config

	mu    sync.Mutex
	next  map[string]int // next script index per language
	calls int
	last  stt.Request
}

// New creates a scripted backend.
func New(cfg Config) *Transcriber {
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = DefaultConfig().SegmentSeconds
	}
	if cfg.PauseSeconds < 0 {
		cfg.PauseSeconds = 0
	}
	return &Transcriber{cfg: cfg, next: make(map[string]int)}
}

// Loader returns an stt.Loader that yields t.
func (t *Transcriber) Loader() stt.Loader {
	return func(ctx context.Context) (stt.Transcriber, error) { return t, nil }
}

// Transcribe lays scripted utterances over the audio window.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Response, error) {
	if t.cfg.Latency > 0 {
		select {
		case <-time.After(t.cfg.Latency):
		case <-ctx.Done():
			return stt.Response{}, ctx.Err()
		}
	}
	if t.cfg.Err != nil {
		return stt.Response{}, t.cfg.Err
	}

	lang := scenario.NormalizeLanguage(req.Language)
	script, ok := DefaultScripts[lang]
	if !ok {
		script = DefaultScripts["en"]
	}
	if lang == "" {
		lang = "en"
	}

	duration := 0.0
	if req.SampleRate > 0 {
		duration = float64(len(req.Samples)) / float64(req.SampleRate)
	}

	t.mu.Lock()
	t.calls++
	t.last = req
	idx := t.next[lang]
	t.mu.Unlock()

	resp := stt.Response{DetectedLanguage: lang, LanguageProbability: 0.99}
	if duration < t.cfg.MinAudioSecs {
		return resp, nil
	}

	step := t.cfg.SegmentSeconds + t.cfg.PauseSeconds
	for start := 0.0; start < duration; start += step {
		end := start + t.cfg.SegmentSeconds
		if end > duration {
			end = duration
		}
		if end-start < t.cfg.MinAudioSecs {
			break
		}
		utt := script[idx%len(script)]
		idx++
		resp.Segments = append(resp.Segments, segment(utt, start, end, req.WordTimestamps))
	}

	t.mu.Lock()
	t.next[lang] = idx
	t.mu.Unlock()
	return resp, nil
}

// segment spreads the words of utt evenly over [start, end].
func segment(utt Utterance, start, end float64, withWords bool) models.Segment {
	seg := models.Segment{Start: start, End: end, Text: utt.Text}
	if !withWords {
		return seg
	}
	words := strings.Fields(utt.Text)
	per := (end - start) / float64(len(words))
	for i, w := range words {
		seg.Words = append(seg.Words, models.Word{
			Word:        w,
			Start:       start + float64(i)*per,
			End:         start + float64(i+1)*per,
			Probability: utt.Confidence,
		})
	}
	return seg
}

// Calls returns the number of Transcribe calls served.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// LastRequest returns the most recent request.
func (t *Transcriber) LastRequest() stt.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Close is a no-op.
func (t *Transcriber) Close() error { return nil }
