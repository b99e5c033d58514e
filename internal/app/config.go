package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPaths are .hcl files or directories holding them.
	ConfigPaths []string `validate:"required,min=1,dive,required"`
	// StateDir holds the checkpoint database and the request store.
	StateDir string `validate:"required"`

	LogFormat string `validate:"oneof=text json"`
	LogLevel  string `validate:"oneof=debug info warn error"`

	HealthcheckPort int `validate:"gte=0,lte=65535"`
	WorkerCount     int `validate:"gte=1"`
	// Retries is the number of retries per node after the first attempt.
	Retries        int           `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"gte=0"`
	// CallTimeout bounds one connector call on connections that set none.
	CallTimeout time.Duration `validate:"gte=0"`

	CheckpointTTL     time.Duration `validate:"gte=0"`
	RetentionWindow   time.Duration `validate:"gte=0"`
	RetentionSchedule string
	MaxSelfRefDepth   int `validate:"gte=0"`
	MaskingSalt       string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return nil, privacyerr.Validationf("app config", "%s", strings.Join(msgs, "; "))
		}
		return nil, &privacyerr.ValidationError{Subject: "app config", Err: err}
	}
	return &cfg, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "min":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s is invalid (%s=%s)", fe.Namespace(), fe.Tag(), fe.Param())
	}
}
