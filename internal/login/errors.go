package login

import (
	"errors"
	"fmt"
)

var (
	ErrCaptchaExhausted       = errors.New("captcha could not be solved within the retry limit")
	ErrOtpTimeout             = errors.New("otp did not arrive in time")
	ErrOtpQuotaExceeded       = errors.New("otp generation quota exhausted and no usable cached otp")
	ErrSessionVerification    = errors.New("stored session was rejected by the portal")
	ErrLoginAttemptsExhausted = errors.New("all login attempts failed")
	ErrPageInteraction        = errors.New("portal page interaction failed")
	ErrInterrupted            = errors.New("login interrupted")
)

// FailedError is the terminal failure of a login, it matches its Reason and
// its Cause with errors.Is.
type FailedError struct {
	Reason error
	State  State
	Cause  error
}

func (e *FailedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("login failed at %s: %v", e.State, e.Reason)
	}
	return fmt.Sprintf("login failed at %s: %v: %v", e.State, e.Reason, e.Cause)
}

func (e *FailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// Kind returns a short stable name of the failure reason, used in history
// records and notifications.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrCaptchaExhausted):
		return "captcha_exhausted"
	case errors.Is(err, ErrOtpTimeout):
		return "otp_timeout"
	case errors.Is(err, ErrOtpQuotaExceeded):
		return "otp_quota_exceeded"
	case errors.Is(err, ErrSessionVerification):
		return "session_verification"
	case errors.Is(err, ErrLoginAttemptsExhausted):
		return "login_attempts_exhausted"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case errors.Is(err, ErrPageInteraction):
		return "page_interaction"
	}
	return ""
}
