// Package notify tells the operator how a run went, through a health webhook
// and optionally by email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ireps-scraper/internal/notify")

const (
	report_webhook_notify = "webhook.notify"
	report_email_notify   = "email.notify"
)

const source = "ireps_scraper"

type Status string

const (
	STATUS_SUCCESS Status = "success"
	STATUS_FAILURE Status = "failure"
)

type Event struct {
	Status    Status
	Message   string
	Timestamp time.Time
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type payload struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// Webhook posts every event as json to a health monitoring endpoint.
type Webhook struct {
	url  string
	http *resty.Client
	tel  telemetry.API
}

func NewWebhook(url string, tel telemetry.API) Webhook {
	assert.NotEmptyStr(url)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("notify", tel)
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	telemetry.InstrumentResty(client, tel)
	return Webhook{url: url, http: client, tel: tel}
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	ctx, span := tracer.Start(ctx, "Webhook.Notify")
	defer span.End()

	res, err := w.http.R().
		SetContext(ctx).
		SetBody(payload{
			Status:    event.Status,
			Message:   event.Message,
			Timestamp: chrono.FormatTimestamp(event.Timestamp),
			Source:    source,
		}).
		Post(w.url)
	if err == nil && res.IsError() {
		err = fmt.Errorf("health webhook answered %s", res.Status())
	}
	if err != nil {
		w.tel.ReportWarning(report_webhook_notify, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	w.tel.ReportDebug("health webhook sent", string(event.Status))
	return nil
}

type SmtpConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendFunc func(mail *email.Email, addr string, auth smtp.Auth) error

func sendMail(mail *email.Email, addr string, auth smtp.Auth) error {
	return mail.Send(addr, auth)
}

// Email mails every event to a fixed list of recipients.
type Email struct {
	config SmtpConfig
	tel    telemetry.API
	send   sendFunc
}

func NewEmail(config SmtpConfig, tel telemetry.API) Email {
	assert.NotEmptyStr(config.Server)
	assert.NotNil(tel)
	return Email{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
		send:   sendMail,
	}
}

func (e Email) message(event Event) *email.Email {
	mail := email.NewEmail()
	from := e.config.From
	if from == "" {
		from = e.config.Username
	}
	mail.From = fmt.Sprintf("IREPS Scraper <%s>", from)
	mail.To = e.config.To
	mail.Subject = fmt.Sprintf("IREPS scraper run: %s", event.Status)
	mail.Text = []byte(fmt.Sprintf("%s\n\nat %s\n", event.Message, chrono.FormatTimestamp(event.Timestamp)))
	return mail
}

func (e Email) Notify(ctx context.Context, event Event) error {
	_, span := tracer.Start(ctx, "Email.Notify")
	defer span.End()

	if len(e.config.To) == 0 {
		return nil
	}
	mail := e.message(event)
	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Server)
	}
	err := e.send(mail, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(mail, addr, nil)
	}
	if err != nil {
		e.tel.ReportWarning(report_email_notify, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

// Multi forwards every event to each notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		err := n.Notify(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
