package login

import "fmt"

// Reason classifies a failed login attempt. The values double as the error
// page identifiers rendered by the HTTP layer and as the failure reason
// label on metrics.
type Reason string

const (
	ReasonNoToken            Reason = "no_token"
	ReasonInvalidToken       Reason = "invalid_token"
	ReasonExpiredToken       Reason = "expired_token"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonInternal           Reason = "internal"
)

// Failure is the single error type the orchestrator returns. The orchestrator
// is the only place that classifies component errors into reasons; the HTTP
// boundary translates reasons to pages and status codes and nothing else.
type Failure struct {
	Reason Reason
	cause  error
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("login failed (%s): %v", f.Reason, f.cause)
	}
	return fmt.Sprintf("login failed (%s)", f.Reason)
}

func (f *Failure) Unwrap() error { return f.cause }

func fail(reason Reason, cause error) *Failure {
	return &Failure{Reason: reason, cause: cause}
}
