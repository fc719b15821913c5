package google

import (
	"context"
	"errors"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"speech-analytics-service/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "ko-KR" {
		t.Errorf("expected default language 'ko-KR', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLanguageCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ko", "ko-KR"},
		{"EN", "en-US"},
		{"", "ko-KR"},
		{"de-DE", "de-DE"},
	}
	for _, tt := range tests {
		if got := languageCode(tt.input, "ko-KR"); got != tt.expected {
			t.Errorf("languageCode(%q) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func dur(seconds float64) *durationpb.Duration {
	return durationpb.New(time.Duration(seconds * float64(time.Second)))
}

func TestAdapter_Transcribe(t *testing.T) {
	var captured *speechpb.RecognizeRequest
	a := &Adapter{
		cfg: DefaultConfig(),
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			captured = req
			return &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
				{
					Alternatives: []*speechpb.SpeechRecognitionAlternative{{
						Transcript: "안녕하세요 여러분",
						Confidence: 0.9,
						Words: []*speechpb.WordInfo{
							{Word: "안녕하세요", StartTime: dur(0.2), EndTime: dur(0.9), Confidence: 0.95},
							{Word: "여러분", StartTime: dur(1.0), EndTime: dur(1.5), Confidence: 0.85},
						},
					}},
					ResultEndTime: dur(1.6),
					LanguageCode:  "ko-kr",
				},
				{
					Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " 반갑습니다", Confidence: 0.7}},
					ResultEndTime: dur(3.0),
				},
				{Alternatives: nil},
			}}, nil
		},
	}

	resp, err := a.Transcribe(context.Background(), stt.Request{
		PCM:                     make([]byte, 96000),
		SampleRate:              16000,
		Language:                "ko",
		WordTimestamps:          true,
		ConditionOnPreviousText: true,
		InitialPrompt:           "지난 발표 요약",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	cfg := captured.GetConfig()
	if cfg.GetLanguageCode() != "ko-KR" || cfg.GetSampleRateHertz() != 16000 || !cfg.GetEnableWordTimeOffsets() {
		t.Errorf("unexpected recognition config: %v", cfg)
	}
	if len(cfg.GetSpeechContexts()) != 1 || len(cfg.GetSpeechContexts()[0].GetPhrases()) != 3 {
		t.Errorf("expected continuation phrases in speech context, got %v", cfg.GetSpeechContexts())
	}

	if len(resp.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(resp.Segments))
	}
	first := resp.Segments[0]
	if first.Start != 0.2 || first.End != 1.5 || len(first.Words) != 2 {
		t.Errorf("unexpected first segment %+v", first)
	}
	second := resp.Segments[1]
	if second.Start != 1.5 || second.End != 3.0 || second.Text != "반갑습니다" {
		t.Errorf("unexpected second segment %+v", second)
	}
	if resp.DetectedLanguage != "ko" {
		t.Errorf("expected ko, got %s", resp.DetectedLanguage)
	}
	if resp.LanguageProbability < 0.79 || resp.LanguageProbability > 0.81 {
		t.Errorf("expected mean confidence 0.8, got %v", resp.LanguageProbability)
	}
}

func TestAdapter_TranscribeError(t *testing.T) {
	a := &Adapter{
		cfg: DefaultConfig(),
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return nil, errors.New("permission denied")
		},
	}
	if _, err := a.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close without client should be a no-op, got %v", err)
	}
}
