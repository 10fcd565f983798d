package types

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration error
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

// ErrInvalidConfig creates a new configuration error
func ErrInvalidConfig(format string, args ...interface{}) error {
	return ConfigError{
		Message: fmt.Sprintf(format, args...),
	}
}

// Common errors
var (
	ErrCollectorDisposed   = errors.New("collector disposed")
	ErrUnknownMetricType   = errors.New("unknown metric type")
	ErrUnknownSeries       = errors.New("series not registered")
	ErrTransportClosed     = errors.New("analytics transport closed")
	ErrConnectivityOffline = errors.New("analytics endpoint unreachable")
)
