package core

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Config holds the §6 tunables as overridable values, instead of the
// source's module-level constants. Defaults match the RFC/spec values;
// LoadConfig layers a .env file and then a YAML file on top of them.
// The binaries in cmd/ pass their --env_file/--config_file flags to
// LoadConfig and have no flags for the individual fields.
type Config struct {
	AckTimeout               time.Duration `yaml:"ack_timeout"`
	AckRandomFactor          float64       `yaml:"ack_random_factor"`
	MaxRetransmit            int           `yaml:"max_retransmit"`
	ConcurrentTransactions   int64         `yaml:"concurrent_transactions"`
	WorkerQueueSize          int           `yaml:"worker_queue_size"`
	AllowedWorkerIdleSeconds int           `yaml:"allowed_worker_idle_seconds"`
	DefaultBlockSZX          uint8         `yaml:"default_block_szx"`
}

// MaxRetransmissionSpan is the overall time budget a transaction built
// from this Config may spend retrying before it is declared failed:
// ACK_TIMEOUT * (2^MAX_RETRANSMIT - 1) * ACK_RANDOM_FACTOR.
func (c Config) MaxRetransmissionSpan() time.Duration {
	return time.Duration(float64(c.AckTimeout) * float64((1<<c.MaxRetransmit)-1) * c.AckRandomFactor)
}

// DefaultConfig returns the §6 default parameters.
func DefaultConfig() Config {
	return Config{
		AckTimeout:               AckTimeout,
		AckRandomFactor:          AckRandomFactor,
		MaxRetransmit:            MaxRetransmit,
		ConcurrentTransactions:   CoapConcurrentTransactions,
		WorkerQueueSize:          CoapWorkerQueueSize,
		AllowedWorkerIdleSeconds: CoapAllowedWorkerIdle,
		DefaultBlockSZX:          types.DefaultBlockSZX,
	}
}

// LoadConfig starts from DefaultConfig, then applies envPath (a .env
// file read with godotenv, e.g. COAP_ACK_TIMEOUT) and yamlPath (a YAML
// file unmarshalled over the defaults) when present. Either path may
// be empty, in which case that layer is a no-op rather than an error.
func LoadConfig(envPath, yamlPath string) (Config, error) {
	cfg := DefaultConfig()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, err
		}
		if v := os.Getenv("COAP_MAX_RETRANSMIT"); v != "" {
			if n, err := parsePositiveInt(v); err == nil {
				cfg.MaxRetransmit = n
			}
		}
		if v := os.Getenv("COAP_ACK_TIMEOUT"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.AckTimeout = d
			}
		}
	}

	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
