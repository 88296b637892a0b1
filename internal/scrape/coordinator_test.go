package scrape

import (
	"context"
	"errors"
	"fmt"
	"ireps-scraper/internal/changes"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/history"
	"ireps-scraper/internal/login"
	"ireps-scraper/internal/memory"
	"ireps-scraper/internal/notify"
	"ireps-scraper/internal/portal"
	"ireps-scraper/internal/tender"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLogin struct {
	result login.Result
	err    error
	calls  int
}

func (f *fakeLogin) Ensure(ctx context.Context) (login.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeScraper struct {
	result Result
	err    error
	calls  int
}

func (f *fakeScraper) Scrape(ctx context.Context) (Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeSessions struct {
	invalidated int
}

func (f *fakeSessions) Invalidate() error {
	f.invalidated++
	return nil
}

type fakeHistory struct {
	runs []history.Run
}

func (f *fakeHistory) Record(ctx context.Context, run history.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Notify(ctx context.Context, event notify.Event) error {
	f.events = append(f.events, event)
	return nil
}

type coordinatorFixture struct {
	login    *fakeLogin
	scraper  *fakeScraper
	sessions *fakeSessions
	memory   *memory.Store
	history  *fakeHistory
	notifier *fakeNotifier
	clock    *chrono.Fake
	tel      *telemetry.Recorder
}

func newCoordinatorFixture(t *testing.T) (*Coordinator, *coordinatorFixture) {
	tel := telemetry.NewRecorder()
	f := &coordinatorFixture{
		login:    &fakeLogin{},
		scraper:  &fakeScraper{},
		sessions: &fakeSessions{},
		memory:   memory.NewStore(filepath.Join(t.TempDir(), "tenders_memory.json"), tel),
		history:  &fakeHistory{},
		notifier: &fakeNotifier{},
		clock:    chrono.NewFake(time.Date(2024, 3, 1, 6, 0, 0, 0, chrono.Portal())),
		tel:      tel,
	}
	coordinator, err := NewCoordinator(CoordinatorDependencies{
		Login:    f.login,
		Scraper:  f.scraper,
		Sessions: f.sessions,
		Memory:   f.memory,
		Detector: changes.NewDetector(tel),
		History:  f.history,
		Notifier: f.notifier,
		Clock:    f.clock,
		Tel:      tel,
	})
	require.NoError(t, err)
	return coordinator, f
}

func scrapedRecords(statuses ...string) []tender.Record {
	var out []tender.Record
	for i, status := range statuses {
		out = append(out, tender.Record{
			TenderNo:    fmt.Sprintf("NR-%d", i),
			TenderTitle: "Track renewal",
			Status:      status,
			WorkArea:    "Works",
		})
	}
	return out
}

func TestRunPersistsAndNotifies(t *testing.T) {
	coordinator, f := newCoordinatorFixture(t)
	require.NoError(t, f.memory.SaveAtomic(tender.Snapshot{
		"NR-0": {TenderNo: "NR-0", TenderTitle: "Track renewal", Status: "Published", WorkArea: "Works"},
		"NR-1": {TenderNo: "NR-1", TenderTitle: "Track renewal", Status: "Published", WorkArea: "Works"},
		"OLD":  {TenderNo: "OLD", Status: "Closed"},
	}))
	f.login.result = login.Result{Reused: true}
	f.scraper.result = Result{
		Records: scrapedRecords("Published", "Closed", "Published"),
		Stats:   Stats{Listed: 3, Enriched: 3},
	}

	outcome, err := coordinator.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, changes.Summary{TotalScraped: 3, New: 1, StatusChanged: 1, Unchanged: 1}, outcome.Run.Summary)
	require.Equal(t, history.STATUS_SUCCESS, outcome.Run.Status)
	require.True(t, outcome.Run.ReusedSession)
	require.Len(t, outcome.Run.Changes, 2)

	loaded, err := f.memory.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"NR-0", "NR-1", "NR-2", "OLD"}, loaded.Snapshot.Keys())
	require.Equal(t, "Closed", loaded.Snapshot["NR-1"].Status)

	require.Len(t, f.history.runs, 1)
	require.Equal(t, outcome.Run.Id, f.history.runs[0].Id)
	require.Len(t, f.notifier.events, 1)
	require.Equal(t, notify.STATUS_SUCCESS, f.notifier.events[0].Status)
	require.Contains(t, f.notifier.events[0].Message, "3 tenders (1 new, 0 updated, 1 status changed, 1 unchanged)")
}

func TestRunLoginFailure(t *testing.T) {
	coordinator, f := newCoordinatorFixture(t)
	f.login.err = &login.FailedError{Reason: login.ErrOtpQuotaExceeded, State: login.REQUEST_OTP}

	outcome, err := coordinator.Run(context.Background())
	require.ErrorIs(t, err, login.ErrOtpQuotaExceeded)
	require.Equal(t, 0, f.scraper.calls)
	require.Equal(t, history.STATUS_FAILURE, outcome.Run.Status)
	require.Equal(t, "otp_quota_exceeded", outcome.Run.ErrorKind)

	require.Len(t, f.history.runs, 1)
	require.Len(t, f.notifier.events, 1)
	require.Equal(t, notify.STATUS_FAILURE, f.notifier.events[0].Status)
	require.Contains(t, f.notifier.events[0].Message, "scrape run failed")
	require.True(t, f.tel.Has(telemetry.KIND_BROKEN, report_coordinator_run))

	_, statErr := os.Stat(f.memory.Path())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunEmptyScrapeSkipsPersistence(t *testing.T) {
	coordinator, f := newCoordinatorFixture(t)

	outcome, err := coordinator.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, history.STATUS_SUCCESS, outcome.Run.Status)
	require.True(t, f.tel.Has(telemetry.KIND_WARNING, report_coordinator_run))

	_, statErr := os.Stat(f.memory.Path())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunSessionExpiredMidScrape(t *testing.T) {
	coordinator, f := newCoordinatorFixture(t)
	f.scraper.result = Result{
		Records: scrapedRecords("Published", "Published"),
		Stats:   Stats{Listed: 2, Enriched: 1},
	}
	f.scraper.err = fmt.Errorf("read detail: %w", portal.ErrNotLoggedIn)

	outcome, err := coordinator.Run(context.Background())
	require.ErrorIs(t, err, portal.ErrNotLoggedIn)
	require.Equal(t, 1, f.sessions.invalidated)
	require.Equal(t, history.STATUS_PARTIAL, outcome.Run.Status)
	require.Equal(t, kind_session_expired, outcome.Run.ErrorKind)
	require.Contains(t, outcome.Run.Message, "partial run")

	loaded, err := f.memory.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Snapshot, 2)
	require.Equal(t, notify.STATUS_FAILURE, f.notifier.events[0].Status)
}

func TestRunScrapeFailure(t *testing.T) {
	coordinator, f := newCoordinatorFixture(t)
	f.scraper.err = errors.New("listing table not found")

	outcome, err := coordinator.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, f.sessions.invalidated)
	require.Equal(t, history.STATUS_FAILURE, outcome.Run.Status)
	require.Equal(t, kind_scrape, outcome.Run.ErrorKind)
}

func TestRunContinuesOnCorruptMemory(t *testing.T) {
	coordinator, f := newCoordinatorFixture(t)
	require.NoError(t, os.WriteFile(f.memory.Path(), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(f.memory.BackupPath(), []byte(""), 0644))
	f.scraper.result = Result{Records: scrapedRecords("Published")}

	outcome, err := coordinator.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Run.Summary.New)
	require.Contains(t, f.notifier.events[0].Message, "memory was unreadable")
	require.True(t, f.tel.Has(telemetry.KIND_BROKEN, report_coordinator_memory))

	loaded, err := f.memory.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Snapshot, 1)
}

func TestErrorKind(t *testing.T) {
	testCases := []struct {
		err  error
		kind string
	}{
		{&login.FailedError{Reason: login.ErrCaptchaExhausted}, "captcha_exhausted"},
		{fmt.Errorf("page 3: %w", portal.ErrNotLoggedIn), kind_session_expired},
		{fmt.Errorf("%w: disk full", ErrSave), kind_persistence},
		{changes.ErrMergeInconsistency, kind_merge},
		{errors.New("boom"), kind_scrape},
	}
	for _, test := range testCases {
		require.Equal(t, test.kind, errorKind(test.err), test.err.Error())
	}
}
