package types

import (
	"errors"
	"fmt"
)

// ConfigError means the site configuration is missing, unreadable, or
// incomplete. It is fatal and never retried; it must surface before any
// network call is attempted.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AuthError means a remote system rejected our credentials after any
// internal re-authentication attempt. Recovery requires re-running the
// interactive authorization flow or fixing the configured secrets.
type AuthError struct {
	System string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth: %s", e.System, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError means a remote system could not be reached or answered with
// a server-side failure. It is not retried within a run; the next scheduled
// invocation simply tries again.
type TransportError struct {
	System string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %s", e.System, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorClass names the taxonomy bucket an error falls into, for the final
// log line and for tests. Unrecognized errors are "internal".
func ErrorClass(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return "config"
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return "auth"
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	return "internal"
}
