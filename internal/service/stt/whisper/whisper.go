// Package whisper provides a transcription backend that talks to a running
// whisper.cpp or faster-whisper HTTP server (POST /inference).
//
// Each flushed window is uploaded as a WAV file in a multipart form together
// with the decoding hints from the request; the server's verbose JSON answer
// is mapped onto timed segments and words.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/audio"
	"speech-analytics-service/internal/service/stt"
)

var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model name forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements stt.Transcriber over HTTP.
type Client struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a client for the server at serverURL (e.g. http://localhost:8080).
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL is required")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Loader returns an stt.Loader that builds a client and checks the server is
// reachable. Any HTTP answer counts as reachable.
func Loader(serverURL string, opts ...Option) stt.Loader {
	return func(ctx context.Context) (stt.Transcriber, error) {
		c, err := New(serverURL, opts...)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/", nil)
		if err != nil {
			return nil, fmt.Errorf("whisper: create probe: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("whisper: server unreachable: %w", err)
		}
		resp.Body.Close()
		return c, nil
	}
}

type verboseWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

type verboseSegment struct {
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Text  string        `json:"text"`
	Words []verboseWord `json:"words"`
}

type verboseResponse struct {
	Text                string           `json:"text"`
	Language            string           `json:"language"`
	LanguageProbability float64          `json:"language_probability"`
	Segments            []verboseSegment `json:"segments"`
}

// Transcribe uploads req.PCM as WAV and parses the verbose JSON response.
func (c *Client) Transcribe(ctx context.Context, req stt.Request) (stt.Response, error) {
	body, contentType, err := c.form(req)
	if err != nil {
		return stt.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", body)
	if err != nil {
		return stt.Response{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return stt.Response{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Response{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return stt.Response{}, fmt.Errorf("%w: whisper server returned HTTP 503", stt.ErrModelUnavailable)
	case resp.StatusCode != http.StatusOK:
		return stt.Response{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return stt.Response{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return toResponse(vr, req), nil
}

func (c *Client) form(req stt.Request) (io.Reader, string, error) {
	pcm := req.PCM
	if pcm == nil {
		pcm = floatToPCM16(req.Samples)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, req.SampleRate)); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", "0"},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if c.model != "" {
		fields = append(fields, [2]string{"model", c.model})
	}
	if req.BeamSize > 0 {
		fields = append(fields, [2]string{"beam_size", strconv.Itoa(req.BeamSize)})
	}
	if req.InitialPrompt != "" && req.ConditionOnPreviousText {
		fields = append(fields, [2]string{"prompt", req.InitialPrompt})
	}
	if req.VADFilter {
		fields = append(fields,
			[2]string{"vad", "true"},
			[2]string{"vad_threshold", strconv.FormatFloat(req.VAD.Threshold, 'f', -1, 64)},
			[2]string{"vad_min_speech_duration_ms", strconv.Itoa(req.VAD.MinSpeechDurationMs)},
			[2]string{"vad_min_silence_duration_ms", strconv.Itoa(req.VAD.MinSilenceDurationMs)},
		)
	}
	if req.WordTimestamps {
		fields = append(fields, [2]string{"word_timestamps", "true"})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func toResponse(vr verboseResponse, req stt.Request) stt.Response {
	out := stt.Response{
		DetectedLanguage:    vr.Language,
		LanguageProbability: vr.LanguageProbability,
	}
	if out.DetectedLanguage == "" {
		out.DetectedLanguage = req.Language
	}
	for _, s := range vr.Segments {
		seg := models.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, models.Word{
				Word:        strings.TrimSpace(w.Word),
				Start:       w.Start,
				End:         w.End,
				Probability: w.Probability,
			})
		}
		out.Segments = append(out.Segments, seg)
	}
	// Servers that only return text get one segment spanning the window.
	if len(out.Segments) == 0 && strings.TrimSpace(vr.Text) != "" {
		end := 0.0
		if req.SampleRate > 0 {
			end = float64(len(req.Samples)) / float64(req.SampleRate)
		}
		out.Segments = []models.Segment{{Start: 0, End: end, Text: strings.TrimSpace(vr.Text)}}
	}
	return out
}

// floatToPCM16 converts normalised samples back to PCM16LE.
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		u := uint16(int16(v))
		out[i*2] = byte(u)
		out[i*2+1] = byte(u >> 8)
	}
	return out
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
