package commons

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const DevelopmentEnvironment = "development"

type Config struct {
	Port           int    `env:"PORT,default=3000" validate:"min=1,max=65535"`
	Environment    string `env:"NODE_ENV,default=development" validate:"required"`
	ModelPath      string `env:"MODEL_PATH,default=./model" validate:"required"`
	OnnxRuntime    string `env:"ONNXRUNTIME_LIBRARY"`
	VerboseLogging bool   `env:"VERBOSE_LOGGING,default=true"`
	CorsOrigin     string `env:"CORS_ORIGIN,default=*" validate:"required"`
	PublicUrl      string `env:"PUBLIC_URL" validate:"omitempty,url"`
	SentryDsn      string `env:"SENTRY_DSN"`

	RedisAddress        string        `env:"REDIS_ADDRESS"`
	RedisMaxConnections int           `env:"REDIS_MAX_CONNECTIONS,default=10" validate:"min=1"`
	PairingTokenTtl     time.Duration `env:"PAIRING_TOKEN_TTL,default=10m" validate:"min=1s"`

	PredictWorkers   int `env:"PREDICT_WORKERS,default=4" validate:"min=1"`
	PredictQueueSize int `env:"PREDICT_QUEUE_SIZE,default=100" validate:"min=1"`

	RelayMaxPeers        int           `env:"RELAY_MAX_PEERS,default=64" validate:"min=1"`
	RelayPongWait        time.Duration `env:"RELAY_PONG_WAIT,default=60s" validate:"min=1s"`
	RelayMaxMessageBytes int64         `env:"RELAY_MAX_MESSAGE_BYTES,default=4194304" validate:"min=1024"`
	RelaySendBuffer      int           `env:"RELAY_SEND_BUFFER,default=8" validate:"min=1"`

	ServiceUrl             string        `env:"SERVICE_URL,default=http://localhost:3000" validate:"required,url"`
	ClassifyTimeout        time.Duration `env:"CLASSIFY_TIMEOUT,default=5s" validate:"min=100ms"`
	LowConfidenceThreshold float64       `env:"LOW_CONFIDENCE_THRESHOLD,default=0.3" validate:"min=0,max=1"`
	LlmBaseUrl             string        `env:"LLM_BASE_URL" validate:"omitempty,url"`
	LlmApiKey              string        `env:"LLM_API_KEY"`
	LlmModel               string        `env:"LLM_MODEL,default=openai/gpt-4o-mini"`
	LlmTimeout             time.Duration `env:"LLM_TIMEOUT,default=15s" validate:"min=100ms"`
	CameraCommand          string        `env:"CAMERA_COMMAND"`
}

func (c Config) IsDevelopment() bool {
	return c.Environment == DevelopmentEnvironment
}

// LoadConfig reads an optional .env file and then the process environment.
// Values already present in the environment win over the .env file.
func LoadConfig(dotenvPaths ...string) (Config, error) {
	var config Config

	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env"}
	}
	for _, p := range dotenvPaths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("couldn't load %s: %w", p, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return config, fmt.Errorf("couldn't parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
