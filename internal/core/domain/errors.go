// Package domain contains core business entities
package domain

import "errors"

// Error taxonomy for the chat core. Authorization and validation errors are
// handled locally and emitted to the originating connection only; nothing
// here is fatal to the process.
var (
	// ErrAuth: credential missing or invalid, reject the connection outright
	ErrAuth = errors.New("authentication failed")

	// ErrForbidden: authenticated but not permitted for this conversation;
	// the action is rejected, the connection stays open
	ErrForbidden = errors.New("not authorized for this conversation")

	// ErrValidation: empty content or malformed request
	ErrValidation = errors.New("validation failed")

	// ErrCredentialExpiring: soft failure, the client must refresh its token
	// and retry; no side effect has occurred
	ErrCredentialExpiring = errors.New("credential expired or about to expire")

	// ErrNoConsultantAvailable: assignment cannot proceed, the application
	// remains visibly unassigned
	ErrNoConsultantAvailable = errors.New("no consultant available")

	// ErrNotFound: referenced conversation or application does not exist
	ErrNotFound = errors.New("not found")
)
