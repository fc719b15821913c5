// Package app assembles the service from configuration and owns its
// startup and shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	grpcapi "speech-analytics-service/internal/api/grpc"
	"speech-analytics-service/internal/api/ws"
	"speech-analytics-service/internal/config"
	"speech-analytics-service/internal/events"
	httpapi "speech-analytics-service/internal/http"
	"speech-analytics-service/internal/observability"
	"speech-analytics-service/internal/observability/logging"
	"speech-analytics-service/internal/observability/metrics"
	"speech-analytics-service/internal/service/analytics"
	"speech-analytics-service/internal/service/emotion"
	"speech-analytics-service/internal/service/scenario"
	"speech-analytics-service/internal/service/session"
	"speech-analytics-service/internal/service/stt"
	"speech-analytics-service/internal/service/stt/google"
	"speech-analytics-service/internal/service/stt/mock"
	"speech-analytics-service/internal/service/stt/whisper"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Engine    *stt.Engine
	Emotion   *emotion.Client
	Publisher *events.Publisher
	Sessions  *session.Manager

	http *observability.Server
	grpc *grpcapi.Server
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	table, err := loadScenarios(cfg)
	if err != nil {
		return nil, err
	}

	load, err := loader(cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.DefaultMetrics

	a.Engine = stt.NewEngine(stt.EngineConfig{
		Provider:   cfg.STT.Provider,
		Timeout:    cfg.STT.InferenceTimeout,
		MaxWorkers: cfg.STT.MaxWorkers,
		Phrases:    cfg.STT.HallucinationPhrases,
	}, load, m)

	a.Emotion = emotion.NewClient(emotion.Config{
		BaseURL:           cfg.Emotion.APIURL,
		Timeout:           cfg.Emotion.Timeout,
		TopK:              cfg.Emotion.TopK,
		ServerSideWeights: cfg.Emotion.ServerSideWeights,
	}, emotion.NewReweighter(table), m)

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscripts: cfg.Kafka.TopicTranscripts,
		TopicSessions:    cfg.Kafka.TopicSessions,
		Principal:        cfg.Kafka.Principal,
	})

	a.Sessions = session.NewManager(session.Config{
		SampleRate:              cfg.STT.SampleRateHz,
		Limits:                  cfg.AudioLimits(),
		MinSamples:              cfg.Audio.MinSamples,
		BeamSize:                cfg.STT.BeamSize,
		VADFilter:               cfg.STT.VADFilter,
		ConditionOnPreviousText: cfg.STT.ConditionOnPreviousText,
		WordTimestamps:          true,
		AutoStartOnAudio:        cfg.Audio.AutoStartOnAudio,
		WriteTimeout:            cfg.WebSocket.WriteTimeout,
		DefaultLanguage:         cfg.STT.DefaultLanguage,
		DefaultScenario:         cfg.STT.DefaultScenario,
	}, session.Deps{
		Engine:    a.Engine,
		Analytics: analytics.NewEngine(table),
		Emotion:   a.Emotion,
		Publisher: a.Publisher,
		Table:     table,
		Metrics:   m,
	})

	stream := ws.NewHandler(ws.Config{
		ReadLimit:      cfg.WebSocket.ReadLimitBytes,
		PingInterval:   cfg.WebSocket.PingInterval,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, a.Sessions)

	a.StartupTime = time.Now().UTC()
	router := httpapi.NewRouter(httpapi.Options{
		Model:       a.Engine,
		Connections: a.Sessions.Registry(),
		Stream:      stream,
		StartupTime: a.StartupTime,
		Version:     Version,
	})
	a.http = observability.NewServer(":"+cfg.Service.HTTPPort, router)
	a.grpc = grpcapi.New(m)

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("defaultScenario", table.DefaultScenario()).
		Strs("scenarios", table.Names()).
		Bool("emotionEnabled", a.Emotion.Enabled()).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Int("flushThreshold", a.Sessions.Threshold()).
		Msg("Speech analytics service application created")
	return a, nil
}

func loadScenarios(cfg *config.Configuration) (*scenario.Table, error) {
	if cfg.ScenarioConfigPath == "" {
		return scenario.DefaultTable(), nil
	}
	table, err := scenario.LoadFile(cfg.ScenarioConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load scenarios from %s: %w", cfg.ScenarioConfigPath, err)
	}
	return table, nil
}

// loader selects the transcription backend. Backends are built lazily by
// the engine on first use.
func loader(cfg *config.Configuration) (stt.Loader, error) {
	switch cfg.STT.Provider {
	case "mock":
		return mock.New(mock.DefaultConfig()).Loader(), nil
	case "whisper":
		if cfg.STT.ServerURL == "" {
			return nil, errors.New("STT_SERVER_URL is required for the whisper provider")
		}
		var opts []whisper.Option
		if cfg.STT.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.STT.Model))
		}
		return whisper.Loader(cfg.STT.ServerURL, opts...), nil
	case "google":
		gc := google.DefaultConfig()
		gc.SampleRateHz = int32(cfg.STT.SampleRateHz)
		gc.AudioEncoding = cfg.STT.AudioEncoding
		if cfg.STT.Model != "" {
			gc.Model = cfg.STT.Model
		}
		return google.Loader(gc), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
}

// Start binds both listeners and begins serving. The model load is started
// in the background so the first session does not pay for it.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	grpcLis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	if err := a.http.Start(); err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}
	a.grpc.Serve(grpcLis)
	a.grpc.MarkServing()

	go func() {
		if err := a.Engine.Warm(ctx); err != nil {
			startLogger.Warn().Err(err).Msg("Model warm-up failed; will retry on first use")
		}
	}()

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpAddr", a.http.Addr()).
		Str("grpcPort", a.Cfg.Service.GRPCPort).
		Msg("Speech analytics service started")
	return nil
}

// Shutdown stops accepting work, closes every session, then releases the
// shared resources.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Int("sessions", a.Sessions.Registry().Len()).Msg("Speech analytics service shutting down")

	a.grpc.Stop()
	if err := a.http.Shutdown(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	a.Sessions.CloseAll("shutdown")

	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
	}
	if err := a.Engine.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close transcription engine")
	}
	shutdownLogger.Info().Msg("Shutdown complete")
}
