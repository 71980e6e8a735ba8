package config

import "errors"

var (
	// ErrInvalidValue is returned when an environment variable cannot be parsed.
	ErrInvalidValue = errors.New("invalid configuration value")
	// ErrValidation is returned when the loaded configuration fails validation.
	ErrValidation = errors.New("configuration validation failed")
	// ErrOwnerRequired is returned when the import stage runs without a positive owner user id.
	ErrOwnerRequired = errors.New("ESDR_FEED_OWNER_USER_ID must be a positive integer to import")
)
