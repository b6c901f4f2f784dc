package config

import "errors"

// ErrInvalidConfig marks a value that fails Validate.
var ErrInvalidConfig = errors.New("invalid config")

// ErrLoadConfig marks a failure reading the file or environment layers.
var ErrLoadConfig = errors.New("load config failed")
