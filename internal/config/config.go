// Package config loads service configuration from the environment once at
// startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"speech-analytics-service/internal/service/audio"
)

// Configuration is the complete service configuration.
type Configuration struct {
	Service            ServiceConfig
	Observability      ObservabilityConfig
	STT                STTConfig
	Audio              AudioConfig
	Emotion            EmotionConfig
	Kafka              KafkaConfig
	WebSocket          WebSocketConfig
	ScenarioConfigPath string
}

// ServiceConfig identifies the service and its listeners.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
}

// ObservabilityConfig controls logging.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// STTConfig selects and tunes the transcription backend.
type STTConfig struct {
	Provider                string // mock, whisper, google
	ServerURL               string
	Model                   string
	AudioEncoding           string
	DefaultLanguage         string
	DefaultScenario         string
	SampleRateHz            int
	BeamSize                int
	VADFilter               bool
	ConditionOnPreviousText bool
	InferenceTimeout        time.Duration
	MaxWorkers              int
	HallucinationPhrases    []string // nil uses the built-in list
}

// AudioConfig bounds per-session buffering.
type AudioConfig struct {
	BufferBytes      int
	MaxBufferMB      int
	MinSamples       int
	AutoStartOnAudio bool
}

// EmotionConfig points at the optional emotion service.
type EmotionConfig struct {
	APIURL            string
	Timeout           time.Duration
	TopK              int
	ServerSideWeights bool
}

// KafkaConfig configures event publishing.
type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicTranscripts string
	TopicSessions    string
	Principal        string
}

// WebSocketConfig tunes the streaming transport.
type WebSocketConfig struct {
	ReadLimitBytes int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Load reads the configuration from environment variables. Invalid values
// fall back to defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-analytics")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8000"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		},
		STT: STTConfig{
			Provider:                strings.ToLower(envOrDefault("STT_PROVIDER", "mock")),
			ServerURL:               os.Getenv("STT_SERVER_URL"),
			Model:                   os.Getenv("STT_MODEL"),
			AudioEncoding:           envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			DefaultLanguage:         envOrDefault("STT_DEFAULT_LANGUAGE", "ko"),
			DefaultScenario:         strings.ToLower(envOrDefault("STT_DEFAULT_SCENARIO", "presentation")),
			SampleRateHz:            envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			BeamSize:                envOrDefaultInt("STT_BEAM_SIZE", 5),
			VADFilter:               envOrDefaultBool("STT_VAD_FILTER", true),
			ConditionOnPreviousText: envOrDefaultBool("STT_CONDITION_ON_PREVIOUS_TEXT", true),
			InferenceTimeout:        envOrDefaultDuration("STT_INFERENCE_TIMEOUT", 10*time.Second),
			MaxWorkers:              envOrDefaultInt("STT_MAX_WORKERS", 4),
			HallucinationPhrases:    envList("STT_HALLUCINATION_PHRASES", "|"),
		},
		Audio: AudioConfig{
			BufferBytes:      envOrDefaultInt("AUDIO_BUFFER_BYTES", 1920000),
			MaxBufferMB:      envOrDefaultInt("AUDIO_MAX_BUFFER_MB", 15),
			MinSamples:       envOrDefaultInt("AUDIO_MIN_SAMPLES", 512),
			AutoStartOnAudio: envOrDefaultBool("SESSION_AUTO_START_ON_AUDIO", true),
		},
		Emotion: EmotionConfig{
			APIURL:            os.Getenv("EMOTION_API_URL"),
			Timeout:           envOrDefaultDuration("EMOTION_TIMEOUT", 5*time.Second),
			TopK:              envOrDefaultInt("EMOTION_TOP_K", 3),
			ServerSideWeights: envOrDefaultBool("EMOTION_SERVER_SIDE_WEIGHTS", false),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          envList("KAFKA_BROKERS", ","),
			TopicTranscripts: envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", "speech.analytics.transcription"),
			TopicSessions:    envOrDefault("KAFKA_TOPIC_SESSIONS", "speech.analytics.session"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		WebSocket: WebSocketConfig{
			ReadLimitBytes: int64(envOrDefaultInt("WS_READ_LIMIT_BYTES", 4<<20)),
			WriteTimeout:   envOrDefaultDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:   envOrDefaultDuration("WS_PING_INTERVAL", 20*time.Second),
			AllowedOrigins: envList("WS_ALLOWED_ORIGINS", ","),
		},
		ScenarioConfigPath: os.Getenv("SCENARIO_CONFIG_PATH"),
	}
}

// AudioLimits returns the per-session buffer bounds in bytes.
func (c *Configuration) AudioLimits() audio.Limits {
	return audio.Limits{
		FlushBytes: c.Audio.BufferBytes,
		MaxBytes:   c.Audio.MaxBufferMB << 20,
	}
}

// FlushThreshold is min(buffer bytes, max buffer), rounded to whole samples.
func (c *Configuration) FlushThreshold() int {
	return c.AudioLimits().Threshold()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// envList splits a separated list, dropping blanks. Unset yields nil.
func envList(key, sep string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
