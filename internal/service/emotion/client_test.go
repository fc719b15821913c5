package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"speech-analytics-service/internal/service/scenario"
)

func newEmotionServer(t *testing.T, status int, resp map[string]any, query *url.Values, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		if r.URL.Path != "/api/v1/emotion/analyze_bytes" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
			http.Error(w, "bad content type "+ct, http.StatusBadRequest)
			return
		}
		if body, _ := io.ReadAll(r.Body); len(body) == 0 {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		if query != nil {
			*query = r.URL.Query()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func rawResponse(applied bool) map[string]any {
	return map[string]any{
		"primary_emotion": map[string]any{"emotion": "happy", "emotion_kr": "기쁨", "confidence": 0.35, "probability": 0.35},
		"all_emotions": []map[string]any{
			{"emotion": "happy", "emotion_kr": "기쁨", "confidence": 0.35, "probability": 0.35},
			{"emotion": "neutral", "emotion_kr": "중립", "confidence": 0.30, "probability": 0.30},
			{"emotion": "angry", "emotion_kr": "분노", "confidence": 0.20, "probability": 0.20},
			{"emotion": "sad", "emotion_kr": "슬픔", "confidence": 0.15, "probability": 0.15},
		},
		"scenario":         "interview",
		"scenario_applied": applied,
		"model_used":       "emotion-wav2vec2",
	}
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, Timeout: time.Second, TopK: 2}, NewReweighter(scenario.DefaultTable()), nil)
}

func TestClient_ReweighsLocallyWhenServerDidNot(t *testing.T) {
	var q url.Values
	srv := newEmotionServer(t, http.StatusOK, rawResponse(false), &q, nil)
	defer srv.Close()

	c := newTestClient(srv.URL)
	a, err := c.Analyze(context.Background(), []byte{1, 2, 3, 4}, "ko", scenario.Interview)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if q.Get("language") != "ko" || q.Get("scenario") != "interview" || q.Get("apply_scenario_weights") != "false" || q.Get("top_k") != "2" {
		t.Errorf("unexpected query %v", q)
	}
	if !a.ScenarioApplied {
		t.Error("expected local reweighting to be reported as applied")
	}
	// interview: neutral 0.30*1.3=0.39 beats happy 0.35*1.1=0.385
	if a.PrimaryEmotion.Emotion != Neutral {
		t.Errorf("expected neutral after interview weights, got %s", a.PrimaryEmotion.Emotion)
	}
	if len(a.TopEmotions) != 2 || len(a.Emotions) != 4 {
		t.Errorf("unexpected list sizes top=%d all=%d", len(a.TopEmotions), len(a.Emotions))
	}
	if a.ModelUsed != "emotion-wav2vec2" {
		t.Errorf("unexpected model %s", a.ModelUsed)
	}
}

func TestClient_KeepsServerWeights(t *testing.T) {
	srv := newEmotionServer(t, http.StatusOK, rawResponse(true), nil, nil)
	defer srv.Close()

	c := newTestClient(srv.URL)
	a, err := c.Analyze(context.Background(), []byte{1, 2}, "ko", scenario.Interview)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.PrimaryEmotion.Emotion != Happy {
		t.Errorf("server-weighted result should be kept as is, got %s", a.PrimaryEmotion.Emotion)
	}
}

func TestClient_FailureIsDownstreamUnavailable(t *testing.T) {
	var calls int32
	srv := newEmotionServer(t, http.StatusInternalServerError, map[string]any{"detail": "boom"}, nil, &calls)
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := c.Analyze(context.Background(), []byte{1, 2}, "ko", scenario.Dating)
		if !errors.Is(err, ErrDownstreamUnavailable) {
			t.Fatalf("call %d: expected ErrDownstreamUnavailable, got %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected breaker to stop calls after 3 failures, server saw %d", got)
	}
}

func TestClient_Disabled(t *testing.T) {
	c := newTestClient("")
	if c.Enabled() {
		t.Error("client without URL should be disabled")
	}
	if _, err := c.Analyze(context.Background(), nil, "ko", "dating"); !errors.Is(err, ErrDownstreamUnavailable) {
		t.Errorf("expected ErrDownstreamUnavailable, got %v", err)
	}
}
