package auth

import "fmt"

// FatalError ends the login attempt with no retry: a blocked phrase was
// detected or 2FA is required without a configured secret. The pipeline
// maps it onto a security incident.
type FatalError struct {
	Kind   string
	Detail string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("login fatal (%s): %s", e.Kind, e.Detail)
}

// RecoverableError is retried by re-observing the page: a prompt
// dismissal missed or an expected control never appeared.
type RecoverableError struct {
	Detail string
}

func (e *RecoverableError) Error() string {
	return "login recoverable: " + e.Detail
}
