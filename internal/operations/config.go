package operations

import (
	"time"

	"progresshub/internal/config"
)

// DefaultRetentionPeriod is how long a terminal operation stays queryable
const DefaultRetentionPeriod = 300 * time.Second

// Config represents the registry configuration
type Config struct {
	// RetentionPeriod delays removal of terminal operations
	RetentionPeriod time.Duration `json:"retention_period"`
}

// NewConfig returns the default registry configuration
func NewConfig() Config {
	return Config{RetentionPeriod: DefaultRetentionPeriod}
}

// ConfigFrom maps the application config section
func ConfigFrom(cfg config.OperationsConfig) Config {
	c := NewConfig()
	if cfg.RetentionPeriod > 0 {
		c.RetentionPeriod = cfg.RetentionPeriod
	}
	return c
}
