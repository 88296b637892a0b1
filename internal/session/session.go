// Package session caches the authenticated portal session between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/lib/osutil"
	"os"
	"time"
)

const (
	report_store_get        = "store.get"
	report_store_save       = "store.save"
	report_store_invalidate = "store.invalidate"
)

// DefaultMaxAge is how long the portal keeps a login alive in practice.
const DefaultMaxAge = 20 * time.Hour

// Session is the serialized authenticated state of the page driver.
type Session struct {
	CreatedAt time.Time
	State     json.RawMessage
}

// Age returns how old the session is at now.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

type sessionFile struct {
	CreatedAt string          `json:"created_at"`
	State     json.RawMessage `json:"state"`
}

type Store struct {
	path   string
	maxAge time.Duration
	clock  chrono.API
	tel    telemetry.API
}

func NewStore(path string, maxAge time.Duration, clock chrono.API, tel telemetry.API) *Store {
	assert.NotEmptyStr(path)
	assert.NotNil(clock)
	assert.NotNil(tel)
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		path:   path,
		maxAge: maxAge,
		clock:  clock,
		tel:    telemetry.NewScopedAPI("session", tel),
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Peek reads the stored session regardless of its age.
func (s *Store) Peek() (Session, bool) {
	contents, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false
	}
	if err != nil {
		s.tel.ReportWarning(report_store_get, fmt.Errorf("read session file: %w", err), s.path)
		return Session{}, false
	}

	var file sessionFile
	err = json.Unmarshal(contents, &file)
	if err != nil {
		s.tel.ReportWarning(report_store_get, fmt.Errorf("decode session file: %w", err), s.path)
		return Session{}, false
	}
	createdAt, err := chrono.ParseTimestamp(file.CreatedAt, s.clock.Location())
	if err != nil {
		s.tel.ReportWarning(report_store_get, err, s.path)
		return Session{}, false
	}
	if len(file.State) == 0 || string(file.State) == "null" {
		s.tel.ReportWarning(report_store_get, "session file has no state", s.path)
		return Session{}, false
	}
	return Session{CreatedAt: createdAt, State: file.State}, true
}

// Get returns the stored session when it is younger than the max age.
func (s *Store) Get() (Session, bool) {
	session, ok := s.Peek()
	if !ok {
		return Session{}, false
	}
	age := session.Age(s.clock.Now())
	if age >= s.maxAge {
		s.tel.ReportDebug("stored session expired", age.String())
		return Session{}, false
	}
	return session, true
}

// Save stamps state with the current time and replaces the stored session.
func (s *Store) Save(state json.RawMessage) (Session, error) {
	session := Session{CreatedAt: s.clock.Now(), State: state}
	contents, err := json.MarshalIndent(sessionFile{
		CreatedAt: chrono.FormatTimestamp(session.CreatedAt),
		State:     state,
	}, "", "  ")
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	err = osutil.WriteFileAtomic(s.path, contents)
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, s.path)
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// Invalidate forgets the stored session, it is a no-op when none is stored.
func (s *Store) Invalidate() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.tel.ReportBroken(report_store_invalidate, err, s.path)
		return fmt.Errorf("invalidate session: %w", err)
	}
	s.tel.ReportDebug("session invalidated", s.path)
	return nil
}
