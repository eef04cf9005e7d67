package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Event transports accepted by SYNC_EVENT_TRANSPORT.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

type Config struct {
	BaseURL        string
	EventTransport string
	MQTTBroker     string
	MQTTTopic      string
	ClientID       string

	QuietPeriod  time.Duration
	PollInterval time.Duration
	RetryDelay   time.Duration
	RetryBudget  int
	HTTPTimeout  time.Duration

	LogFile   string
	LogLevel  string
	LogFormat string
}

// Load reads the given env files (".env" when none are named) and
// builds the configuration from the environment. A missing default
// .env is not an error; a missing file that was named explicitly is.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	cfg := &Config{
		BaseURL:        strings.TrimRight(os.Getenv("SYNC_BASE_URL"), "/"),
		EventTransport: strings.ToLower(os.Getenv("SYNC_EVENT_TRANSPORT")),
		MQTTBroker:     os.Getenv("SYNC_MQTT_BROKER"),
		MQTTTopic:      os.Getenv("SYNC_MQTT_TOPIC"),
		ClientID:       os.Getenv("SYNC_CLIENT_ID"),
		QuietPeriod:    durationEnv("SYNC_QUIET_PERIOD", 300*time.Millisecond),
		PollInterval:   durationEnv("SYNC_POLL_INTERVAL", 15*time.Second),
		RetryDelay:     durationEnv("SYNC_RETRY_DELAY", time.Second),
		RetryBudget:    5,
		HTTPTimeout:    durationEnv("SYNC_HTTP_TIMEOUT", 30*time.Second),
		LogFile:        os.Getenv("SYNC_LOG_FILE"),
		LogLevel:       os.Getenv("SYNC_LOG_LEVEL"),
		LogFormat:      os.Getenv("SYNC_LOG_FORMAT"),
	}

	if budgetStr := os.Getenv("SYNC_RETRY_BUDGET"); budgetStr != "" {
		if budget, err := strconv.Atoi(budgetStr); err == nil && budget > 0 {
			cfg.RetryBudget = budget
		}
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("SYNC_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("SYNC_BASE_URL is invalid: %w", err)
	}

	if cfg.EventTransport == "" {
		cfg.EventTransport = TransportSSE
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = "devices/events"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = generateClientID()
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "sincronizador.log"
	}

	return cfg, nil
}

// Validate checks the settings that can be overridden after Load, such
// as the transport chosen on the command line.
func (c *Config) Validate() error {
	switch c.EventTransport {
	case TransportSSE, TransportWebSocket:
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("SYNC_MQTT_BROKER is required for the mqtt transport")
		}
	default:
		return fmt.Errorf("unknown event transport %q", c.EventTransport)
	}
	return nil
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func generateClientID() string {
	// Client IDs double as MQTT client identifiers, which brokers
	// restrict to [a-zA-Z0-9:_-].
	id := uuid.New().String()
	re := regexp.MustCompile(`[^a-zA-Z0-9:_-]`)
	return fmt.Sprintf("go-sync-%s", re.ReplaceAllString(id, "-"))
}
