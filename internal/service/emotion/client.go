package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/observability/metrics"
	"speech-analytics-service/internal/resilience"
)

// ErrDownstreamUnavailable wraps every failure to obtain an emotion result.
// Callers treat it as non-fatal.
var ErrDownstreamUnavailable = errors.New("emotion service unavailable")

// Config configures the emotion client.
type Config struct {
	BaseURL           string        // empty disables the client
	Timeout           time.Duration // per request
	TopK              int
	ServerSideWeights bool // ask the service to apply scenario weights itself
}

// wirePrediction is the service's snake_case prediction shape.
type wirePrediction struct {
	Emotion     string  `json:"emotion"`
	EmotionKR   string  `json:"emotion_kr"`
	Confidence  float64 `json:"confidence"`
	Probability float64 `json:"probability"`
}

type wireResponse struct {
	PrimaryEmotion  wirePrediction   `json:"primary_emotion"`
	AllEmotions     []wirePrediction `json:"all_emotions"`
	TopEmotions     []wirePrediction `json:"top_emotions"`
	Scenario        string           `json:"scenario"`
	ScenarioApplied bool             `json:"scenario_applied"`
	ModelUsed       string           `json:"model_used"`
}

// Client calls POST /api/v1/emotion/analyze_bytes behind a circuit breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.Breaker
	reweighter *Reweighter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a client. rw applies weights locally when the service
// did not.
func NewClient(cfg Config, rw *Reweighter, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "emotion", MaxFailures: 3, ResetTimeout: 30 * time.Second}),
		reweighter: rw,
		metrics:    m,
		logger:     logging.WithComponent("emotion"),
	}
}

// Enabled reports whether a service URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.BaseURL != ""
}

// Analyze classifies pcm. Every failure is returned wrapped in
// ErrDownstreamUnavailable.
func (c *Client) Analyze(ctx context.Context, pcm []byte, language, scenarioName string) (*Analysis, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: not configured", ErrDownstreamUnavailable)
	}

	start := time.Now()
	var wire wireResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		wire, err = c.post(ctx, pcm, language, scenarioName)
		return err
	})
	outcome := "success"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome = "circuit_open"
	case err != nil:
		outcome = "error"
	}
	c.metrics.RecordEmotion(outcome, time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn().Err(err).Str("outcome", outcome).Str("scenario", scenarioName).Msg("Emotion analysis failed")
		return nil, fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
	}

	probs := make(map[string]float64, len(wire.AllEmotions))
	for _, p := range wire.AllEmotions {
		probs[p.Emotion] = p.Probability
	}
	if len(probs) == 0 && wire.PrimaryEmotion.Emotion != "" {
		probs[wire.PrimaryEmotion.Emotion] = 1
	}
	if len(probs) == 0 {
		return nil, fmt.Errorf("%w: empty prediction set", ErrDownstreamUnavailable)
	}

	if wire.ScenarioApplied {
		all, top := Rank(Normalize(probs), c.cfg.TopK)
		a := &Analysis{
			PrimaryEmotion:  all[0],
			Emotions:        all,
			TopEmotions:     top,
			Scenario:        scenarioName,
			ScenarioApplied: true,
			ModelUsed:       wire.ModelUsed,
		}
		return a, nil
	}
	a := c.reweighter.Analyze(probs, scenarioName, c.cfg.TopK, wire.ModelUsed)
	return &a, nil
}

func (c *Client) post(ctx context.Context, pcm []byte, language, scenarioName string) (wireResponse, error) {
	q := url.Values{}
	q.Set("language", language)
	q.Set("scenario", scenarioName)
	q.Set("apply_scenario_weights", strconv.FormatBool(c.cfg.ServerSideWeights))
	q.Set("top_k", strconv.Itoa(c.cfg.TopK))
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v1/emotion/analyze_bytes?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(pcm))
	if err != nil {
		return wireResponse{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wireResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return wireResponse{}, fmt.Errorf("emotion %s: %s", resp.Status, string(body))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wireResponse{}, fmt.Errorf("emotion decode: %w", err)
	}
	return out, nil
}
