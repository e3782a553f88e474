// Package config loads client configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full client configuration.
type Configuration struct {
	Service       ServiceConfig
	Recognizer    RecognizerConfig
	Capture       CaptureConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies this client instance.
type ServiceConfig struct {
	Principal string // identity attached to published events
	Speaker   string // initial active speaker label
}

// RecognizerConfig describes the recognition backend connection.
type RecognizerConfig struct {
	URL            string        // WebSocket endpoint of the recognition service
	SampleRateHz   int           // sample rate advertised in every start message
	ReconnectDelay time.Duration // fixed delay before a reconnect attempt
	DialTimeout    time.Duration // handshake timeout per attempt
}

// CaptureConfig describes the microphone capture pipeline.
type CaptureConfig struct {
	Command      string // external recorder binary (ffmpeg by default)
	Device       string // input device passed to the recorder
	Filters      string // recorder filter chain (noise suppression, auto gain); "off" disables
	SourceRateHz int    // native capture rate before downsampling
	Channels     int    // native channel count before downmix
	FrameMs      int    // encoded frame duration pushed to the sink
}

// KafkaConfig describes optional caption event publishing.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// ObservabilityConfig describes logging and the metrics endpoint.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json, console
	HTTPAddr  string // metrics/status server address, empty disables
}

// Load reads the configuration from environment variables, falling back to
// defaults on missing or unparseable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "summit-transcribe")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			Speaker:   envOrDefault("SPEAKER_LABEL", "speaker"),
		},
		Recognizer: RecognizerConfig{
			URL:            envOrDefault("RECOGNIZER_URL", "ws://localhost:8765/asr"),
			SampleRateHz:   envOrDefaultInt("RECOGNIZER_SAMPLE_RATE_HZ", 16000),
			ReconnectDelay: envOrDefaultDuration("RECOGNIZER_RECONNECT_DELAY", 3*time.Second),
			DialTimeout:    envOrDefaultDuration("RECOGNIZER_DIAL_TIMEOUT", 10*time.Second),
		},
		Capture: CaptureConfig{
			Command:      envOrDefault("CAPTURE_COMMAND", "ffmpeg"),
			Device:       envOrDefault("CAPTURE_DEVICE", "default"),
			Filters:      envOrDefault("CAPTURE_FILTERS", "afftdn,dynaudnorm"),
			SourceRateHz: envOrDefaultInt("CAPTURE_SOURCE_RATE_HZ", 48000),
			Channels:     envOrDefaultInt("CAPTURE_CHANNELS", 1),
			FrameMs:      envOrDefaultInt("CAPTURE_FRAME_MS", 100),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "summit.caption.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "summit.caption.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
			HTTPAddr:  envOrDefault("OBSERVABILITY_HTTP_ADDR", ":9108"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
