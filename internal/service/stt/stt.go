// Package stt defines the transcription collaborator contract and the shared
// inference engine that every session calls into.
package stt

import (
	"context"
	"errors"
	"strings"

	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/scenario"
)

// Transcription failure kinds. Backends may return any error; the Engine
// maps them onto these sentinels.
var (
	// ErrModelUnavailable means the model could not be loaded. The next call
	// retries the load.
	ErrModelUnavailable = errors.New("transcription model unavailable")

	// ErrInferenceTimeout means the call exceeded the engine's fixed timeout.
	ErrInferenceTimeout = errors.New("transcription timed out")

	// ErrInference is any other backend failure.
	ErrInference = errors.New("transcription failed")
)

// Request is one transcription call over a flushed audio window.
type Request struct {
	Samples                 []float32 // normalised mono samples in [-1, 1)
	PCM                     []byte    // the same audio as PCM16LE, for backends that upload bytes
	SampleRate              int
	Language                string
	BeamSize                int
	VADFilter               bool
	VAD                     scenario.VADParameters
	ConditionOnPreviousText bool
	InitialPrompt           string // continuation context from the previous flush
	WordTimestamps          bool
}

// Response is what a backend returns for a Request.
type Response struct {
	Segments            []models.Segment
	DetectedLanguage    string
	LanguageProbability float64
}

// Text joins segment texts with single spaces.
func (r Response) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

// Words flattens the word lists of all segments.
func (r Response) Words() []models.Word {
	var out []models.Word
	for _, s := range r.Segments {
		out = append(out, s.Words...)
	}
	return out
}

// Transcriber is implemented by transcription backends (mock, whisper
// server, Google Cloud Speech).
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Response, error)
	Close() error
}

// Loader builds a Transcriber. It is called lazily by the Engine, at most
// once at a time.
type Loader func(ctx context.Context) (Transcriber, error)
