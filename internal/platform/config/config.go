package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	PostgresDSN  string
	KafkaBrokers []string

	PaymentGatewayURL    string
	PaymentGatewaySecret string
	PaymentMaxAttempts   int
	PaymentRetryBase     time.Duration

	LiveBufferSize int

	EnableLifecycleSweeper bool
	EnablePollConsumer     bool
	EnableReconciliation   bool
}

func Load() (Config, error) {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "agora"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	return Config{
		ServiceName:  service,
		HTTPPort:     port,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		KafkaBrokers: brokers,

		PaymentGatewayURL:    os.Getenv("PAYMENT_GATEWAY_URL"),
		PaymentGatewaySecret: os.Getenv("PAYMENT_GATEWAY_SECRET"),
		PaymentMaxAttempts:   envInt("PAYMENT_MAX_ATTEMPTS", 5),
		PaymentRetryBase:     envDuration("PAYMENT_RETRY_BASE", 30*time.Second),

		LiveBufferSize: envInt("LIVE_BUFFER_SIZE", 16),

		EnableLifecycleSweeper: envBool("ENABLE_LIFECYCLE_SWEEPER", true),
		EnablePollConsumer:     envBool("ENABLE_POLL_CONSUMER", true),
		EnableReconciliation:   envBool("ENABLE_PAYMENT_RECONCILIATION", true),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
