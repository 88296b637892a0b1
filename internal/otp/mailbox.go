package otp

import (
	"context"
	"errors"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"sync"
	"time"
)

const report_mailbox_deliver = "mailbox.deliver"

const (
	DefaultMailboxCapacity  = 32
	DefaultMailboxRetention = 5 * time.Minute
)

var ErrAwaitTimeout = errors.New("no otp message arrived before the deadline")

// Message is an inbound SMS as received by the webhook.
type Message struct {
	From       string
	Text       string
	ReceivedAt time.Time
}

// Mailbox is a bounded inbox written by the webhook listener and read by the
// login flow.
type Mailbox struct {
	capacity  int
	retention time.Duration
	clock     chrono.API
	tel       telemetry.API

	mutex    sync.Mutex
	messages []Message
	// closed and replaced on every delivery to wake up waiters
	arrived chan struct{}
}

func NewMailbox(capacity int, retention time.Duration, clock chrono.API, tel telemetry.API) *Mailbox {
	assert.NotNil(clock)
	assert.NotNil(tel)
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	if retention <= 0 {
		retention = DefaultMailboxRetention
	}
	return &Mailbox{
		capacity:  capacity,
		retention: retention,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("otp", tel),
		arrived:   make(chan struct{}),
	}
}

func (m *Mailbox) prune(now time.Time) {
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if now.Sub(msg.ReceivedAt) <= m.retention {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	if overflow := len(m.messages) - m.capacity; overflow > 0 {
		m.messages = append([]Message(nil), m.messages[overflow:]...)
	}
}

// Deliver adds msg to the inbox, stamping it with the receipt time when it
// has none.
func (m *Mailbox) Deliver(msg Message) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.clock.Now()
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	m.messages = append(m.messages, msg)
	m.prune(now)

	_, hasCode := ExtractCode(msg.Text)
	m.tel.ReportDebug("message delivered", msg.From, len(m.messages), hasCode)
	if !hasCode {
		m.tel.ReportWarning(report_mailbox_deliver, "message has no code in it", msg.From)
	}

	close(m.arrived)
	m.arrived = make(chan struct{})
}

// Len returns the number of messages held.
func (m *Mailbox) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.messages)
}

// take returns the code of the newest message received at or after after,
// dropping it together with everything older.
func (m *Mailbox) take(after time.Time) (string, bool, <-chan struct{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.prune(m.clock.Now())
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.ReceivedAt.Before(after) {
			break
		}
		code, ok := ExtractCode(msg.Text)
		if !ok {
			continue
		}
		m.messages = append([]Message(nil), m.messages[i+1:]...)
		return code, true, nil
	}
	return "", false, m.arrived
}

// AwaitOtp blocks until a message received at or after after carries a code,
// timeout passes or ctx ends.
func (m *Mailbox) AwaitOtp(ctx context.Context, after time.Time, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		code, ok, arrived := m.take(after)
		if ok {
			return code, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", ErrAwaitTimeout
		case <-arrived:
		}
	}
}
