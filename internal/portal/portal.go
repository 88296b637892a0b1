// Package portal describes the page interactions the login flow and the
// scraper need from the tender portal. Nothing outside the driver
// implementation parses markup.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"ireps-scraper/internal/tender"
)

// ErrNotLoggedIn is returned by listing and detail reads when the portal
// answers with its login page.
var ErrNotLoggedIn = errors.New("portal session is not logged in")

type Page string

const (
	PAGE_LOGIN         Page = "login"
	PAGE_SEARCH        Page = "search"
	PAGE_ACTIVE_TENDER Page = "active-tenders"
)

type Field string

const (
	FIELD_MOBILE  Field = "mobile"
	FIELD_CAPTCHA Field = "captcha"
	FIELD_OTP     Field = "otp"
)

type Button string

const (
	BUTTON_GET_OTP Button = "get-otp"
	BUTTON_PROCEED Button = "proceed"
)

// Outcome is what the portal showed after the last submit.
type Outcome int

const (
	OUTCOME_UNKNOWN Outcome = iota
	OUTCOME_CAPTCHA_REJECTED
	OUTCOME_OTP_SENT
	OUTCOME_OTP_REJECTED
	OUTCOME_LOGGED_IN
)

func (o Outcome) String() string {
	switch o {
	case OUTCOME_CAPTCHA_REJECTED:
		return "captcha-rejected"
	case OUTCOME_OTP_SENT:
		return "otp-sent"
	case OUTCOME_OTP_REJECTED:
		return "otp-rejected"
	case OUTCOME_LOGGED_IN:
		return "logged-in"
	default:
		return "unknown"
	}
}

type Inspection struct {
	Outcome Outcome
	// Message is the portal's own error or status text, if it showed one.
	Message string
}

// Detail holds the fields only found on a tender's detail page.
type Detail struct {
	TenderType     string
	ClosingDate    string
	DateOfIssue    string
	EstimatedValue string
	EmdAmount      string
	DocumentCost   string
	ContactOfficer string
	Corrigendum    string
	Description    string
	TenderDocUrl   string
	Documents      []tender.Document
}

// ApplyTo copies every non-empty detail value onto record.
func (d Detail) ApplyTo(record *tender.Record) {
	set := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}
	set(&record.TenderType, d.TenderType)
	set(&record.ClosingDate, d.ClosingDate)
	set(&record.DateOfIssue, d.DateOfIssue)
	set(&record.EstimatedValue, d.EstimatedValue)
	set(&record.EmdAmount, d.EmdAmount)
	set(&record.DocumentCost, d.DocumentCost)
	set(&record.ContactOfficer, d.ContactOfficer)
	set(&record.Corrigendum, d.Corrigendum)
	set(&record.Description, d.Description)
	set(&record.TenderDocUrl, d.TenderDocUrl)
	for _, doc := range d.Documents {
		record.AttachedDocuments.Add(doc)
	}
}

// Driver is the page level interaction surface of the portal.
type Driver interface {
	Navigate(ctx context.Context, page Page) error
	FillField(ctx context.Context, field Field, value string) error
	Click(ctx context.Context, button Button) error
	// CaptchaImage fetches the challenge image currently shown on the login form.
	CaptchaImage(ctx context.Context) ([]byte, error)
	// Inspect classifies the page shown after the last click.
	Inspect(ctx context.Context) (Inspection, error)
	IsLoggedIn(ctx context.Context) (bool, error)

	// ReadListingTable returns the rows of the listing page currently shown,
	// DetailUrl is set when the row links to a detail page.
	ReadListingTable(ctx context.Context) ([]tender.Record, error)
	// NextListingPage moves to the next listing page, false when there is none.
	NextListingPage(ctx context.Context) (bool, error)
	ReadDetailPage(ctx context.Context, url string) (Detail, error)

	ExportSession(ctx context.Context) (json.RawMessage, error)
	RestoreSession(ctx context.Context, state json.RawMessage) error
}

// CaptchaSolver turns a challenge image into its text.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}
