// Package login authenticates against the portal: it reuses a stored session
// when it can and otherwise runs the captcha and one-time code challenge.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/otp"
	"ireps-scraper/internal/portal"
	"ireps-scraper/internal/session"
	"time"
)

const (
	report_orchestrator_login  = "orchestrator.login"
	report_orchestrator_verify = "orchestrator.verify"
)

type State int

const (
	START State = iota
	CAPTCHA_SOLVING
	CAPTCHA_SOLVED
	REQUEST_OTP
	OTP_FROM_CACHE
	OTP_AWAIT_WEBHOOK
	OTP_SUBMITTED
	VERIFYING
	AUTHENTICATED
	FAILED
)

var stateNames = []string{
	"START",
	"CAPTCHA_SOLVING",
	"CAPTCHA_SOLVED",
	"REQUEST_OTP",
	"OTP_FROM_CACHE",
	"OTP_AWAIT_WEBHOOK",
	"OTP_SUBMITTED",
	"VERIFYING",
	"AUTHENTICATED",
	"FAILED",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// SessionStore is the part of session.Store the orchestrator uses.
type SessionStore interface {
	Get() (session.Session, bool)
	Save(state json.RawMessage) (session.Session, error)
	Invalidate() error
}

// OtpCache is the part of otp.Cache the orchestrator uses.
type OtpCache interface {
	GetCached() (string, bool)
	RecordGenerated(code string) error
	RegisterGeneration() error
	CanGenerate() bool
	Invalidate() error
}

type Mailbox interface {
	AwaitOtp(ctx context.Context, after time.Time, timeout time.Duration) (string, error)
}

type Options struct {
	Mobile string
	// MaxAttempts bounds the login attempts that end in a rejected fresh code.
	MaxAttempts int
	// CaptchaRetries bounds the captcha solves within one attempt.
	CaptchaRetries int
	OtpTimeout     time.Duration
}

type Dependencies struct {
	Driver   portal.Driver
	Solver   portal.CaptchaSolver
	Sessions SessionStore
	Otp      OtpCache
	Mailbox  Mailbox
	Clock    chrono.API
	Tel      telemetry.API
}

// Result describes how a session was obtained.
type Result struct {
	Session session.Session
	// Reused is true when a stored session was restored instead of logging in.
	Reused bool
	// UsedCachedOtp is true when the login succeeded with a cached code.
	UsedCachedOtp bool
}

type Orchestrator struct {
	opts Options
	deps Dependencies
	tel  telemetry.API

	state State
	trace []State
}

func NewOrchestrator(opts Options, deps Dependencies) *Orchestrator {
	assert.NotEmptyStr(opts.Mobile)
	assert.NotNil(deps.Driver)
	assert.NotNil(deps.Solver)
	assert.NotNil(deps.Sessions)
	assert.NotNil(deps.Otp)
	assert.NotNil(deps.Mailbox)
	assert.NotNil(deps.Clock)
	assert.NotNil(deps.Tel)

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.CaptchaRetries <= 0 {
		opts.CaptchaRetries = 3
	}
	if opts.OtpTimeout <= 0 {
		opts.OtpTimeout = 90 * time.Second
	}
	return &Orchestrator{
		opts: opts,
		deps: deps,
		tel:  telemetry.NewScopedAPI("login", deps.Tel),
	}
}

// State returns the state the last login ended in.
func (o *Orchestrator) State() State {
	return o.state
}

// Trace returns every state the last login passed through.
func (o *Orchestrator) Trace() []State {
	return append([]State(nil), o.trace...)
}

func (o *Orchestrator) enter(state State) {
	o.tel.ReportDebug("state", o.state.String(), state.String())
	o.state = state
	o.trace = append(o.trace, state)
}

func (o *Orchestrator) fail(reason error, cause error) error {
	failed := &FailedError{Reason: reason, State: o.state, Cause: cause}
	o.enter(FAILED)
	o.tel.ReportBroken(report_orchestrator_login, failed)
	return failed
}

func (o *Orchestrator) pageFailure(err error) error {
	return o.fail(ErrPageInteraction, err)
}

// Login returns an authenticated session, restoring the stored one when it is
// still fresh.
func (o *Orchestrator) Login(ctx context.Context) (Result, error) {
	o.state = START
	o.trace = []State{START}

	stored, ok := o.deps.Sessions.Get()
	if ok {
		err := o.deps.Driver.RestoreSession(ctx, stored.State)
		if err == nil {
			o.enter(AUTHENTICATED)
			return Result{Session: stored, Reused: true}, nil
		}
		o.tel.ReportWarning(report_orchestrator_login, fmt.Errorf("restore stored session: %w", err))
	}
	return o.challenge(ctx)
}

// attempt holds the bookkeeping of the challenge loop.
type attempt struct {
	failedCodes    int
	captchaSolves  int
	forceGenerate  bool
	timeoutRetried bool

	// held is a delivered code the portal has not judged yet because it
	// rejected the captcha first, it is resubmitted before anything is minted.
	held          string
	heldFromCache bool
}

func (o *Orchestrator) challenge(ctx context.Context) (Result, error) {
	var a attempt

	for {
		o.enter(CAPTCHA_SOLVING)
		err := o.solveCaptcha(ctx, &a)
		if err != nil {
			return Result{}, err
		}
		o.enter(CAPTCHA_SOLVED)

		o.enter(REQUEST_OTP)
		code, fromCache, retry, err := o.obtainCode(ctx, &a)
		if err != nil {
			return Result{}, err
		}
		if retry {
			continue
		}

		o.enter(OTP_SUBMITTED)
		err = o.deps.Driver.FillField(ctx, portal.FIELD_OTP, code)
		if err != nil {
			return Result{}, o.pageFailure(err)
		}
		err = o.deps.Driver.Click(ctx, portal.BUTTON_PROCEED)
		if err != nil {
			return Result{}, o.pageFailure(err)
		}

		o.enter(VERIFYING)
		inspection, err := o.deps.Driver.Inspect(ctx)
		if err != nil {
			return Result{}, o.pageFailure(err)
		}
		switch inspection.Outcome {
		case portal.OUTCOME_LOGGED_IN:
			return o.authenticated(ctx, code, fromCache)
		case portal.OUTCOME_CAPTCHA_REJECTED:
			// the code was never judged, only the captcha
			o.tel.ReportWarning(report_orchestrator_login, "captcha rejected on proceed, keeping the code", inspection.Message)
			a.held = code
			a.heldFromCache = fromCache
			continue
		}

		if fromCache {
			o.tel.ReportWarning(report_orchestrator_login, "cached otp rejected, generating a fresh one", inspection.Message)
			err = o.deps.Otp.Invalidate()
			if err != nil {
				o.tel.ReportWarning(report_orchestrator_login, err)
			}
			a.forceGenerate = true
			a.captchaSolves = 0
			continue
		}

		a.failedCodes++
		o.tel.ReportWarning(
			report_orchestrator_login,
			fmt.Sprintf("fresh otp rejected (attempt %d/%d)", a.failedCodes, o.opts.MaxAttempts),
			inspection.Message,
		)
		if a.failedCodes >= o.opts.MaxAttempts {
			var cause error
			if inspection.Message != "" {
				cause = errors.New(inspection.Message)
			}
			return Result{}, o.fail(ErrLoginAttemptsExhausted, cause)
		}
		a.captchaSolves = 0
		a.timeoutRetried = false
	}
}

func (o *Orchestrator) solveCaptcha(ctx context.Context, a *attempt) error {
	var lastErr error
	for a.captchaSolves < o.opts.CaptchaRetries {
		a.captchaSolves++

		err := o.deps.Driver.Navigate(ctx, portal.PAGE_LOGIN)
		if err != nil {
			return o.pageFailure(err)
		}
		err = o.deps.Driver.FillField(ctx, portal.FIELD_MOBILE, o.opts.Mobile)
		if err != nil {
			return o.pageFailure(err)
		}
		image, err := o.deps.Driver.CaptchaImage(ctx)
		if err != nil {
			return o.pageFailure(err)
		}
		answer, err := o.deps.Solver.Solve(ctx, image)
		if ctx.Err() != nil {
			return o.fail(ErrInterrupted, ctx.Err())
		}
		if err != nil || answer == "" {
			if err == nil {
				err = errors.New("solver returned an empty answer")
			}
			lastErr = err
			o.tel.ReportWarning(
				report_orchestrator_login,
				fmt.Errorf("solve captcha (%d/%d): %w", a.captchaSolves, o.opts.CaptchaRetries, err),
			)
			continue
		}
		err = o.deps.Driver.FillField(ctx, portal.FIELD_CAPTCHA, answer)
		if err != nil {
			return o.pageFailure(err)
		}
		return nil
	}
	return o.fail(ErrCaptchaExhausted, lastErr)
}

// obtainCode produces the code to submit. retry is true when the captcha was
// rejected while requesting a code and the loop has to start over.
func (o *Orchestrator) obtainCode(ctx context.Context, a *attempt) (code string, fromCache bool, retry bool, err error) {
	if a.held != "" {
		code, fromCache = a.held, a.heldFromCache
		a.held, a.heldFromCache = "", false
		if fromCache {
			o.enter(OTP_FROM_CACHE)
		}
		return code, fromCache, false, nil
	}
	if !a.forceGenerate {
		cached, ok := o.deps.Otp.GetCached()
		if ok {
			o.enter(OTP_FROM_CACHE)
			return cached, true, false, nil
		}
	}
	if !o.deps.Otp.CanGenerate() {
		return "", false, false, o.fail(ErrOtpQuotaExceeded, nil)
	}

	o.enter(OTP_AWAIT_WEBHOOK)
	requestedAt, accepted, err := o.requestCode(ctx)
	if err != nil {
		return "", false, false, err
	}
	if !accepted {
		return "", false, true, nil
	}

	for {
		code, err = o.deps.Mailbox.AwaitOtp(ctx, requestedAt, o.opts.OtpTimeout)
		if err == nil {
			return code, false, false, nil
		}
		if ctx.Err() != nil {
			return "", false, false, o.fail(ErrInterrupted, err)
		}
		if !errors.Is(err, otp.ErrAwaitTimeout) {
			return "", false, false, o.fail(ErrOtpTimeout, err)
		}
		if a.timeoutRetried || !o.deps.Otp.CanGenerate() {
			return "", false, false, o.fail(ErrOtpTimeout, err)
		}
		a.timeoutRetried = true
		o.tel.ReportWarning(report_orchestrator_login, "otp did not arrive, requesting another one")
		requestedAt, accepted, err = o.requestCode(ctx)
		if err != nil {
			return "", false, false, err
		}
		if !accepted {
			return "", false, true, nil
		}
	}
}

// requestCode asks the portal to send a code and counts it against the quota
// unless the portal rejected the captcha instead of sending one. The returned
// time is taken before the click so a fast SMS is not missed.
func (o *Orchestrator) requestCode(ctx context.Context) (time.Time, bool, error) {
	requestedAt := o.deps.Clock.Now()
	err := o.deps.Driver.Click(ctx, portal.BUTTON_GET_OTP)
	if err != nil {
		return time.Time{}, false, o.pageFailure(err)
	}
	inspection, err := o.deps.Driver.Inspect(ctx)
	if err != nil {
		return time.Time{}, false, o.pageFailure(err)
	}
	if inspection.Outcome == portal.OUTCOME_CAPTCHA_REJECTED {
		o.tel.ReportWarning(report_orchestrator_login, "captcha rejected on otp request", inspection.Message)
		return time.Time{}, false, nil
	}
	err = o.deps.Otp.RegisterGeneration()
	if err != nil {
		o.tel.ReportWarning(report_orchestrator_login, fmt.Errorf("register generation: %w", err))
	}
	return requestedAt, true, nil
}

func (o *Orchestrator) authenticated(ctx context.Context, code string, fromCache bool) (Result, error) {
	state, err := o.deps.Driver.ExportSession(ctx)
	if err != nil {
		return Result{}, o.pageFailure(err)
	}
	saved, err := o.deps.Sessions.Save(state)
	if err != nil {
		// the live session is still usable for this run
		o.tel.ReportWarning(report_orchestrator_login, fmt.Errorf("save session: %w", err))
		saved = session.Session{CreatedAt: o.deps.Clock.Now(), State: state}
	}
	if !fromCache {
		err = o.deps.Otp.RecordGenerated(code)
		if err != nil {
			o.tel.ReportWarning(report_orchestrator_login, fmt.Errorf("cache otp: %w", err))
		}
	}
	o.enter(AUTHENTICATED)
	return Result{Session: saved, UsedCachedOtp: fromCache}, nil
}

// Verify checks that the live session is still logged in, a rejected session
// is invalidated so the next login starts from scratch.
func (o *Orchestrator) Verify(ctx context.Context) error {
	ok, err := o.deps.Driver.IsLoggedIn(ctx)
	if err != nil {
		o.tel.ReportWarning(report_orchestrator_verify, err)
		return fmt.Errorf("verify session: %w", err)
	}
	if ok {
		return nil
	}
	invalidateErr := o.deps.Sessions.Invalidate()
	if invalidateErr != nil {
		o.tel.ReportWarning(report_orchestrator_verify, invalidateErr)
	}
	failed := &FailedError{Reason: ErrSessionVerification, State: VERIFYING}
	o.tel.ReportWarning(report_orchestrator_verify, failed)
	return failed
}

// Ensure logs in and, when a stored session was reused, verifies it with the
// portal. A stale stored session is replaced by one full login.
func (o *Orchestrator) Ensure(ctx context.Context) (Result, error) {
	result, err := o.Login(ctx)
	if err != nil || !result.Reused {
		return result, err
	}
	err = o.Verify(ctx)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrSessionVerification) {
		return Result{}, err
	}
	o.tel.ReportDebug("stored session is stale, logging in again")
	return o.Login(ctx)
}
