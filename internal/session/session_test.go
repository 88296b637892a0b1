package session

import (
	"encoding/json"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *chrono.Fake, *telemetry.Recorder) {
	clock := chrono.NewFake(time.Date(2024, time.March, 1, 6, 0, 0, 0, chrono.Portal()))
	recorder := telemetry.NewRecorder()
	path := filepath.Join(t.TempDir(), "session", "ireps_session.json")
	return NewStore(path, DefaultMaxAge, clock, recorder), clock, recorder
}

func TestSessionFreshness(t *testing.T) {
	cases := []struct {
		name  string
		age   time.Duration
		valid bool
	}{
		{name: "just saved", age: 0, valid: true},
		{name: "20 hours minus a minute", age: 20*time.Hour - time.Minute, valid: true},
		{name: "exactly 20 hours", age: 20 * time.Hour, valid: false},
		{name: "21 hours", age: 21 * time.Hour, valid: false},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			store, clock, _ := newTestStore(t)
			_, err := store.Save(json.RawMessage(`{"cookies":[]}`))
			require.NoError(t, err)

			clock.Advance(test.age)
			_, ok := store.Get()
			require.Equal(t, test.valid, ok)

			_, ok = store.Peek()
			require.True(t, ok, "peek ignores age")
		})
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store, clock, _ := newTestStore(t)
	state := json.RawMessage(`{"cookies":[{"name":"JSESSIONID","value":"abc"}]}`)

	saved, err := store.Save(state)
	require.NoError(t, err)

	loaded, ok := store.Get()
	require.True(t, ok)
	require.JSONEq(t, string(state), string(loaded.State))
	require.True(t, saved.CreatedAt.Equal(loaded.CreatedAt))
	require.Equal(t, time.Duration(0), loaded.Age(clock.Now()))
}

func TestSessionInvalidate(t *testing.T) {
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Invalidate(), "invalidating nothing is fine")

	_, err := store.Save(json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.Invalidate())

	_, ok := store.Get()
	require.False(t, ok)
	_, err = os.Stat(store.Path())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSessionUnreadableFile(t *testing.T) {
	store, _, recorder := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{"), 0644))

	_, ok := store.Get()
	require.False(t, ok)
	require.True(t, recorder.Has(telemetry.KIND_WARNING, report_store_get))
}

func TestSessionNaiveTimestamp(t *testing.T) {
	store, clock, _ := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	contents := `{"created_at": "2024-03-01T01:00:00.123456", "state": {"cookies": []}}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(contents), 0644))

	session, ok := store.Get()
	require.True(t, ok)
	require.Equal(t, 5*time.Hour, session.Age(clock.Now()).Round(time.Hour))
}
