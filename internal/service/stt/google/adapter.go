// Package google provides a Google Cloud Speech-to-Text transcription backend.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"speech-analytics-service/internal/models"
	"speech-analytics-service/internal/service/scenario"
	"speech-analytics-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode  string // used when a request carries no language
	SampleRateHz  int32
	AudioEncoding string
	Model         string
	MaxPhrases    int // speech-context phrases taken from the continuation text
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "ko-KR",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
		Model:         "latest_long",
		MaxPhrases:    20,
	}
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Adapter implements stt.Transcriber using synchronous Recognize calls.
type Adapter struct {
	cfg       Config
	recognize recognizeFunc
	close     func() error
}

var _ stt.Transcriber = (*Adapter)(nil)

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg: cfg,
		recognize: func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return c.Recognize(ctx, req)
		},
		close: c.Close,
	}, nil
}

// Loader returns an stt.Loader that dials the Speech API.
func Loader(cfg Config) stt.Loader {
	return func(ctx context.Context) (stt.Transcriber, error) {
		return New(ctx, cfg)
	}
}

// Transcribe sends the window as LINEAR16 content and maps each result onto
// a segment.
func (a *Adapter) Transcribe(ctx context.Context, req stt.Request) (stt.Response, error) {
	resp, err := a.recognize(ctx, a.buildRequest(req))
	if err != nil {
		return stt.Response{}, fmt.Errorf("google recognize: %w", err)
	}
	return toResponse(resp, req), nil
}

func (a *Adapter) buildRequest(req stt.Request) *speechpb.RecognizeRequest {
	rate := int32(req.SampleRate)
	if rate <= 0 {
		rate = a.cfg.SampleRateHz
	}
	cfg := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
		SampleRateHertz:            rate,
		AudioChannelCount:          1,
		LanguageCode:               languageCode(req.Language, a.cfg.LanguageCode),
		EnableWordTimeOffsets:      req.WordTimestamps,
		EnableWordConfidence:       req.WordTimestamps,
		EnableAutomaticPunctuation: true,
		Model:                      a.cfg.Model,
		MaxAlternatives:            1,
	}
	if phrases := promptPhrases(req.InitialPrompt, a.cfg.MaxPhrases); req.ConditionOnPreviousText && len(phrases) > 0 {
		cfg.SpeechContexts = []*speechpb.SpeechContext{{Phrases: phrases}}
	}
	return &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.PCM},
		},
	}
}

func toResponse(resp *speechpb.RecognizeResponse, req stt.Request) stt.Response {
	out := stt.Response{DetectedLanguage: scenario.NormalizeLanguage(req.Language)}
	prevEnd := 0.0
	var confSum float64
	var confN int
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		if lc := r.GetLanguageCode(); lc != "" {
			out.DetectedLanguage = scenario.NormalizeLanguage(lc)
		}

		seg := models.Segment{Start: prevEnd, Text: strings.TrimSpace(alt.GetTranscript())}
		if r.GetResultEndTime() != nil {
			seg.End = r.GetResultEndTime().AsDuration().Seconds()
		}
		for _, w := range alt.GetWords() {
			seg.Words = append(seg.Words, models.Word{
				Word:        w.GetWord(),
				Start:       w.GetStartTime().AsDuration().Seconds(),
				End:         w.GetEndTime().AsDuration().Seconds(),
				Probability: float64(w.GetConfidence()),
			})
		}
		if len(seg.Words) > 0 {
			seg.Start = seg.Words[0].Start
			seg.End = seg.Words[len(seg.Words)-1].End
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		prevEnd = seg.End
		if alt.GetConfidence() > 0 {
			confSum += float64(alt.GetConfidence())
			confN++
		}
		out.Segments = append(out.Segments, seg)
	}
	if confN > 0 {
		out.LanguageProbability = confSum / float64(confN)
	}
	return out
}

// languageCode expands a primary subtag to the BCP-47 code the API expects.
func languageCode(lang, fallback string) string {
	switch scenario.NormalizeLanguage(lang) {
	case "":
		return fallback
	case "ko":
		return "ko-KR"
	case "en":
		return "en-US"
	case "ja":
		return "ja-JP"
	case "zh":
		return "cmn-Hans-CN"
	default:
		return lang
	}
}

// promptPhrases takes the trailing words of the continuation text.
func promptPhrases(prompt string, max int) []string {
	words := strings.Fields(prompt)
	if max > 0 && len(words) > max {
		words = words[len(words)-max:]
	}
	return words
}

func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Close closes the underlying client.
func (a *Adapter) Close() error {
	if a.close != nil {
		return a.close()
	}
	return nil
}
