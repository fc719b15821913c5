package events

// Event type names carried in the eventType field.
const (
	EventTranscription    = "speech.transcription"
	EventSessionConnected = "speech.session.connected"
	EventRecordingStarted = "speech.session.recording_started"
	EventRecordingStopped = "speech.session.recording_stopped"
	EventSessionReset     = "speech.session.reset"
	EventLanguageChanged  = "speech.session.language_changed"
	EventSessionClosed    = "speech.session.closed"
)

// SessionEvent describes a lifecycle change of one connection.
type SessionEvent struct {
	EventType    string `json:"eventType"`
	ConnectionID string `json:"connectionId"`
	Language     string `json:"language"`
	Scenario     string `json:"scenario"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// TranscriptionEvent wraps the result message delivered to the client.
type TranscriptionEvent struct {
	EventType    string `json:"eventType"`
	ConnectionID string `json:"connectionId"`
	SegmentID    int    `json:"segmentId"`
	Trigger      string `json:"trigger"`
	Result       any    `json:"result"`
	Timestamp    int64  `json:"timestamp"`
}
