package session

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession          = errors.New("no session for tenant")
	ErrNotConnected       = errors.New("session not connected")
	ErrAuthFailure        = errors.New("session authentication failed")
	ErrSendFailed         = errors.New("send failed")
	ErrArtifactGeneration = errors.New("auth artifact generation failed")
	ErrInvalidTenant      = errors.New("invalid tenant id")
	ErrResetInProgress    = errors.New("force reset in progress")
	ErrSessionActive      = errors.New("session still registered")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNoSession, "NO_SESSION"},
	{ErrNotConnected, "NOT_CONNECTED"},
	{ErrAuthFailure, "AUTH_FAILURE"},
	{ErrSendFailed, "SEND_FAILED"},
	{ErrArtifactGeneration, "ARTIFACT_GENERATION_FAILED"},
	{ErrInvalidTenant, "INVALID_TENANT"},
	{ErrResetInProgress, "RESET_IN_PROGRESS"},
	{ErrSessionActive, "SESSION_ACTIVE"},
}

// Code returns the stable wire code for err, or "INTERNAL_ERROR" when err
// is not part of the session taxonomy.
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}

// SendError reports an adapter-level failure of a send attempt. It matches
// ErrSendFailed with errors.Is and unwraps to the adapter's cause.
type SendError struct {
	Tenant string
	To     string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s via %s failed: %v", e.To, e.Tenant, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrSendFailed }
