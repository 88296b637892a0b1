package memory

import (
	"errors"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/tender"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(status string) tender.Snapshot {
	return tender.Snapshot{
		"NR-1": {
			TenderNo:    "NR-1",
			TenderTitle: "Bridge works (सेतु)",
			Status:      status,
			WorkArea:    "Works",
			AttachedDocuments: tender.NewDocumentSet(tender.Document{
				FileName: "nit.pdf",
				FileUrl:  "https://www.ireps.gov.in/ireps/upload/files/nit.pdf?a=1&b=2",
			}),
			LastSeen: tender.NewTimestamp(time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)),
		},
		"NR-2": {TenderNo: "NR-2", Status: "Closed"},
	}
}

func newTestStore(t *testing.T) (*Store, *telemetry.Recorder) {
	recorder := telemetry.NewRecorder()
	return NewStore(filepath.Join(t.TempDir(), "data", "tenders_memory.json"), recorder), recorder
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	result, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, SOURCE_NONE, result.Source)
	require.Empty(t, result.Snapshot)

	snapshot := sampleSnapshot("Published")
	require.NoError(t, store.SaveAtomic(snapshot))

	result, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, SOURCE_PRIMARY, result.Source)
	if diff := cmp.Diff(snapshot, result.Snapshot); diff != "" {
		t.Fatal(diff)
	}

	contents, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.Contains(t, string(contents), "सेतु")
	require.Contains(t, string(contents), "a=1&b=2")
}

func TestSaveRotatesBackup(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SaveAtomic(sampleSnapshot("Published")))
	_, err := os.Stat(store.BackupPath())
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, store.SaveAtomic(sampleSnapshot("Closed")))

	backup, err := readSnapshot(store.BackupPath())
	require.NoError(t, err)
	require.Equal(t, "Published", backup["NR-1"].Status)

	primary, err := readSnapshot(store.Path())
	require.NoError(t, err)
	require.Equal(t, "Closed", primary["NR-1"].Status)
}

func TestInterruptedSaveKeepsPreviousSnapshot(t *testing.T) {
	for _, at := range []step{step_temp_written, step_backup_rotated} {
		t.Run(string(at), func(t *testing.T) {
			store, recorder := newTestStore(t)
			require.NoError(t, store.SaveAtomic(sampleSnapshot("Published")))

			killed := errors.New("killed")
			store.interrupt = func(current step) error {
				if current == at {
					return killed
				}
				return nil
			}
			err := store.SaveAtomic(sampleSnapshot("Closed"))
			require.ErrorIs(t, err, killed)
			store.interrupt = nil

			result, err := store.Load()
			require.NoError(t, err)
			require.Equal(t, "Published", result.Snapshot["NR-1"].Status)
			require.True(t, recorder.Has(telemetry.KIND_WARNING, report_store_load), "stale temp removal is reported")

			_, err = os.Stat(store.tempPath())
			require.ErrorIs(t, err, os.ErrNotExist)
		})
	}
}

func TestLoadFallsBackToBackup(t *testing.T) {
	store, recorder := newTestStore(t)
	require.NoError(t, store.SaveAtomic(sampleSnapshot("Published")))
	require.NoError(t, store.SaveAtomic(sampleSnapshot("Closed")))

	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"NR-1": {"tender_no": `), 0644))

	result, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, SOURCE_BACKUP, result.Source)
	require.True(t, result.Recovered)
	require.Equal(t, "Published", result.Snapshot["NR-1"].Status)
	require.True(t, recorder.Has(telemetry.KIND_WARNING, report_store_load))
}

func TestLoadBothCorrupt(t *testing.T) {
	store, recorder := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("not json"), 0644))
	require.NoError(t, os.WriteFile(store.BackupPath(), []byte(""), 0644))

	result, err := store.Load()
	require.ErrorIs(t, err, ErrCorruption)
	require.NotNil(t, result.Snapshot)
	require.Empty(t, result.Snapshot)
	require.True(t, recorder.Has(telemetry.KIND_BROKEN, report_store_load))
}

func TestSaveMovesCorruptPrimaryAside(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.SaveAtomic(sampleSnapshot("Published")))
	require.NoError(t, store.SaveAtomic(sampleSnapshot("Closed")))
	require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0644))

	require.NoError(t, store.SaveAtomic(sampleSnapshot("Cancelled")))

	backup, err := readSnapshot(store.BackupPath())
	require.NoError(t, err)
	require.Equal(t, "Published", backup["NR-1"].Status, "a corrupt primary must not replace a good backup")

	corrupt, err := os.ReadFile(store.corruptPath())
	require.NoError(t, err)
	require.Equal(t, "garbage", string(corrupt))
}

func TestVerify(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.SaveAtomic(sampleSnapshot("Published")))

	statuses := store.Verify()
	require.Len(t, statuses, 2)
	require.True(t, statuses[0].Exists)
	require.Equal(t, 2, statuses[0].Records)
	require.NoError(t, statuses[0].Err)
	require.False(t, statuses[1].Exists)
}

func TestCheckReadable(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, CheckReadable(store.Verify()), "a fresh data directory is not corrupt")

	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0644))
	require.ErrorIs(t, CheckReadable(store.Verify()), ErrCorruption)

	require.NoError(t, os.WriteFile(store.BackupPath(), []byte(`{}`), 0644))
	require.NoError(t, CheckReadable(store.Verify()))
}

func TestLoadFillsMissingTenderNo(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"NR-7": {"status": "Published"}}`), 0644))

	result, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "NR-7", result.Snapshot["NR-7"].TenderNo)
}
