// Package app assembles the transcription client from its parts.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/seeyonai/summit-transcribe/internal/audio"
	"github.com/seeyonai/summit-transcribe/internal/config"
	"github.com/seeyonai/summit-transcribe/internal/events"
	transcribehttp "github.com/seeyonai/summit-transcribe/internal/http"
	"github.com/seeyonai/summit-transcribe/internal/observability"
	"github.com/seeyonai/summit-transcribe/internal/observability/logging"
	"github.com/seeyonai/summit-transcribe/internal/session"
	"github.com/seeyonai/summit-transcribe/internal/transport"
)

// Application holds process-wide state for the client.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Controller *session.Controller

	publisher *events.Publisher
	obsServer *observability.Server
	runCancel context.CancelFunc
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})

	conn := transport.New(transport.Config{
		URL:            cfg.Recognizer.URL,
		ReconnectDelay: cfg.Recognizer.ReconnectDelay,
		DialTimeout:    cfg.Recognizer.DialTimeout,
	})

	capture := audio.New(audio.Config{
		Command:      cfg.Capture.Command,
		Device:       cfg.Capture.Device,
		Filters:      cfg.Capture.Filters,
		SourceRateHz: cfg.Capture.SourceRateHz,
		Channels:     cfg.Capture.Channels,
		FrameMs:      cfg.Capture.FrameMs,
	})

	a.Controller = session.NewController(session.Config{
		Principal:    cfg.Service.Principal,
		Speaker:      cfg.Service.Speaker,
		SampleRateHz: cfg.Recognizer.SampleRateHz,
	}, conn, capture, a.publisher)

	if cfg.Observability.HTTPAddr != "" {
		a.obsServer = observability.NewServer(
			cfg.Observability.HTTPAddr,
			transcribehttp.NewRouter(a.Controller),
		)
	}

	a.Logger.Info().Msg("Summit transcribe client created")
	return a
}

// Start launches the controller loop and the observability server, then
// begins the recognition session.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("recognizerURL", a.Cfg.Recognizer.URL).
		Msg("Summit transcribe client starting")

	ctx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	go a.Controller.Run(ctx)

	if a.obsServer != nil {
		a.obsServer.Start()
	}

	return a.Controller.StartListening()
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Summit transcribe client shutting down")

	if err := a.Controller.StopListening(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to stop listening")
	}
	a.Controller.Shutdown()

	if a.runCancel != nil {
		a.runCancel()
	}
	if a.obsServer != nil {
		if err := a.obsServer.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Observability server shutdown failed")
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Publisher close failed")
	}
}
