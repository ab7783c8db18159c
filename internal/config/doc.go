// Package config provides centralized configuration for the progress server and
// the progressctl client.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML file: PROGRESS_CONFIG_FILE, ./config.yaml or ./configs/config.yaml
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// Variables follow the pattern PROGRESS_<SECTION>_<FIELD>:
//
//	PROGRESS_SERVER_PORT=8080
//	PROGRESS_LOGGING_LEVEL=debug
//	PROGRESS_OPERATIONS_RETENTION_PERIOD=5m
//	PROGRESS_CLIENT_URL=ws://localhost:8080/ws
//	PROGRESS_PERSISTENCE_ENABLED=true
//
// # Validation
//
// Load validates the merged result with go-playground/validator struct tags and
// reports every failing field in a single error.
package config
