// Package common provides shared constants, types, and utilities
// used across the VPN Dialer application.
package common

import "errors"

// Sentinel errors for VPN operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection errors.
	ErrConnectFailed       = errors.New("connection failed")
	ErrDisconnectFailed    = errors.New("disconnect failed")
	ErrOperationInProgress = errors.New("operation already in progress")
	ErrStaleHandle         = errors.New("connection handle is no longer valid")
	ErrCoordinatorStopped  = errors.New("coordinator stopped")
	ErrAlreadyRunning      = errors.New("coordinator already running")
	ErrProfileNotFound     = errors.New("connection profile not found")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad    = errors.New("failed to load configuration")
	ErrConfigSave    = errors.New("failed to save configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
