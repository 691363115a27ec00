package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
// on the next engine tick.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transient transport failure (timeout, 5xx,
// closed connection). It is counted toward the consecutive-failure
// limit and retried on the next tick, never in a tight inline loop.
type NetworkError struct {
	Op        string // Operation that failed (e.g. "place_order", "dial")
	Err       error  // Underlying error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// ProtocolError represents a validation failure from the exchange
// (bad symbol, tick-size mismatch, rejected payload). Fatal for the
// current tick, never retried.
type ProtocolError struct {
	Op     string
	Status int // HTTP status, 0 when not applicable
	Err    error
}

func (e *ProtocolError) Error() string {
	return "protocol error [" + e.Op + "]: " + e.Err.Error()
}

func (e *ProtocolError) IsRetriable() bool {
	return false
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// AuthError signals that the exchange rejected our credentials. The
// engine reacts by calling RefreshAuth; a second consecutive auth
// failure halts the engine.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "auth error [" + e.Op + "]: " + e.Err.Error()
}

func (e *AuthError) IsRetriable() bool {
	return false
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidSymbol is returned when a symbol is not in the supported set.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrNotAuthenticated is returned when an exchange call is attempted
	// before credentials were provided.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrOrderGone is returned by a cancel when the exchange no longer
	// knows the order: it was already filled or cancelled. Callers treat
	// it as a confirmed removal, not a failure.
	ErrOrderGone = errors.New("order already gone")
)
