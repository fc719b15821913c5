package session

import (
	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/emotion"
)

// Outbound message types.
const (
	TypeConnected          = "connected"
	TypeRecordingStarted   = "recording_started"
	TypeRecordingStopped   = "recording_stopped"
	TypeResetComplete      = "reset_complete"
	TypeProcessingComplete = "processing_complete"
	TypeLanguageChanged    = "language_changed"
	TypeError              = "error"
	TypeTranscription      = "transcription"
)

// Message is any JSON object sent to a client.
type Message interface {
	MessageType() string
}

// Connected is the welcome message.
type Connected struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
	Language     string `json:"language"`
	Scenario     string `json:"scenario"`
}

func (m Connected) MessageType() string { return m.Type }

// Ack acknowledges a command that carries no payload.
type Ack struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (m Ack) MessageType() string { return m.Type }

// LanguageChanged acknowledges set_language.
type LanguageChanged struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

func (m LanguageChanged) MessageType() string { return m.Type }

// CodeSessionClosed tags the notice sent before the server closes a session.
const CodeSessionClosed = "session_closed"

// Error reports a failure the session survived, or a server-side close.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (m Error) MessageType() string { return m.Type }

// Transcription is the result of one flush.
type Transcription struct {
	Type                string                    `json:"type"`
	Text                string                    `json:"text"`
	IsFinal             bool                      `json:"isFinal"`
	SegmentID           int                       `json:"segmentId"`
	Language            string                    `json:"language"`
	LanguageProbability float64                   `json:"languageProbability"`
	Scenario            string                    `json:"scenario"`
	AudioDuration       float64                   `json:"audioDuration"`
	ProcessingTimeMs    int64                     `json:"processingTimeMs"`
	SpeechMetrics       models.SpeechMetrics      `json:"speechMetrics"`
	VariabilityMetrics  models.VariabilityMetrics `json:"variabilityMetrics"`
	SyllableMetrics     *models.SyllableMetrics   `json:"syllableMetrics,omitempty"`
	Segments            []models.Segment          `json:"segments"`
	Words               []models.Word             `json:"words,omitempty"`
	EmotionAnalysis     *emotion.Analysis         `json:"emotionAnalysis"`
}

func (m Transcription) MessageType() string { return m.Type }

func ack(typ string) Ack { return Ack{Type: typ} }

func errorMessage(code, msg string) Error {
	return Error{Type: TypeError, Code: code, Message: msg}
}
