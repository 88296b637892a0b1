// Package memory persists the tender snapshot between runs.
//
// The snapshot lives in a primary file with a standby backup next to it, a save
// never leaves a moment where neither file holds a complete snapshot.
package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/tender"
	"ireps-scraper/lib/osutil"
	"os"
	"path/filepath"
)

const (
	report_store_load = "store.load"
	report_store_save = "store.save"
)

// ErrCorruption is returned by Load when snapshot files exist but none of them
// can be read.
var ErrCorruption = errors.New("persistence corruption: primary and backup snapshots are unreadable")

type Source int

const (
	SOURCE_NONE Source = iota
	SOURCE_PRIMARY
	SOURCE_BACKUP
)

func (s Source) String() string {
	switch s {
	case SOURCE_PRIMARY:
		return "primary"
	case SOURCE_BACKUP:
		return "backup"
	default:
		return "none"
	}
}

type LoadResult struct {
	Snapshot tender.Snapshot
	Source   Source
	// Recovered is true when the primary was unreadable and the backup was used.
	Recovered bool
}

// step names a point of SaveAtomic at which a test can interrupt it.
type step string

const (
	step_temp_written   step = "temp-written"
	step_backup_rotated step = "backup-rotated"
)

type Store struct {
	path string
	tel  telemetry.API

	// interrupt simulates the process dying right after the given step.
	interrupt func(step) error
}

func NewStore(path string, tel telemetry.API) *Store {
	assert.NotEmptyStr(path)
	assert.NotNil(tel)
	return &Store{
		path: path,
		tel:  telemetry.NewScopedAPI("memory", tel),
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) BackupPath() string {
	return s.path + ".bak"
}

func (s *Store) tempPath() string {
	return s.path + ".tmp"
}

func (s *Store) backupTempPath() string {
	return s.path + ".bak.tmp"
}

func (s *Store) corruptPath() string {
	return s.path + ".corrupt"
}

func readSnapshot(path string) (tender.Snapshot, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(contents)
}

func decodeSnapshot(contents []byte) (tender.Snapshot, error) {
	if len(bytes.TrimSpace(contents)) == 0 {
		return nil, fmt.Errorf("empty snapshot file")
	}
	var snapshot tender.Snapshot
	err := json.Unmarshal(contents, &snapshot)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot is not an object")
	}
	for key, record := range snapshot {
		if record.TenderNo == "" {
			record.TenderNo = key
			snapshot[key] = record
		}
	}
	return snapshot, nil
}

// Load reads the primary snapshot, falling back to the backup. Missing files
// give an empty snapshot. When files exist but none parses an empty snapshot
// is returned together with ErrCorruption.
func (s *Store) Load() (LoadResult, error) {
	s.removeStaleTemps()

	primary, primaryErr := readSnapshot(s.path)
	if primaryErr == nil {
		return LoadResult{Snapshot: primary, Source: SOURCE_PRIMARY}, nil
	}
	primaryMissing := errors.Is(primaryErr, os.ErrNotExist)

	backup, backupErr := readSnapshot(s.BackupPath())
	if backupErr == nil {
		if !primaryMissing {
			s.tel.ReportWarning(
				report_store_load,
				fmt.Errorf("primary snapshot unreadable, recovered from backup: %w", primaryErr),
				s.path,
			)
		} else {
			s.tel.ReportWarning(report_store_load, "primary snapshot missing, recovered from backup", s.path)
		}
		return LoadResult{Snapshot: backup, Source: SOURCE_BACKUP, Recovered: true}, nil
	}
	backupMissing := errors.Is(backupErr, os.ErrNotExist)

	if primaryMissing && backupMissing {
		return LoadResult{Snapshot: tender.Snapshot{}, Source: SOURCE_NONE}, nil
	}

	err := fmt.Errorf("%w: primary: %v, backup: %v", ErrCorruption, primaryErr, backupErr)
	s.tel.ReportBroken(report_store_load, err, s.path)
	return LoadResult{Snapshot: tender.Snapshot{}, Source: SOURCE_NONE}, err
}

func (s *Store) removeStaleTemps() {
	for _, path := range []string{s.tempPath(), s.backupTempPath()} {
		err := os.Remove(path)
		if err == nil {
			s.tel.ReportWarning(report_store_load, "removed temp file left by an interrupted save", path)
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			s.tel.ReportWarning(report_store_load, fmt.Errorf("remove stale temp: %w", err), path)
		}
	}
}

func encodeSnapshot(snapshot tender.Snapshot) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	// map keys are written in sorted order by encoding/json
	err := encoder.Encode(snapshot)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (s *Store) checkpoint(at step) error {
	if s.interrupt == nil {
		return nil
	}
	return s.interrupt(at)
}

// SaveAtomic persists snapshot:
//  1. the snapshot is written to a temp file, synced and read back
//  2. a readable primary is copied over the backup (through its own temp file),
//     an unreadable one is moved aside to <path>.corrupt
//  3. the temp file is renamed over the primary
//
// Either the primary or the backup holds a complete snapshot at every instant.
func (s *Store) SaveAtomic(snapshot tender.Snapshot) error {
	err := s.saveAtomic(snapshot)
	if err != nil {
		s.tel.ReportBroken(report_store_save, err, s.path)
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.tel.ReportDebug("snapshot saved", s.path, len(snapshot))
	return nil
}

func (s *Store) saveAtomic(snapshot tender.Snapshot) error {
	if snapshot == nil {
		snapshot = tender.Snapshot{}
	}
	dir := filepath.Dir(s.path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	contents, err := encodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	err = osutil.WriteSynced(s.tempPath(), contents)
	if err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	written, err := readSnapshot(s.tempPath())
	if err != nil {
		return fmt.Errorf("verify temp: %w", err)
	}
	if len(written) != len(snapshot) {
		return fmt.Errorf("verify temp: wrote %d records, read back %d", len(snapshot), len(written))
	}
	err = s.checkpoint(step_temp_written)
	if err != nil {
		return err
	}

	_, primaryErr := readSnapshot(s.path)
	switch {
	case primaryErr == nil:
		err = osutil.CopySynced(s.path, s.backupTempPath())
		if err != nil {
			return fmt.Errorf("copy primary to backup: %w", err)
		}
		err = os.Rename(s.backupTempPath(), s.BackupPath())
		if err != nil {
			return fmt.Errorf("rotate backup: %w", err)
		}
	case errors.Is(primaryErr, os.ErrNotExist):
	default:
		s.tel.ReportWarning(
			report_store_save,
			fmt.Errorf("primary unreadable, keeping it aside instead of rotating it into the backup: %w", primaryErr),
			s.corruptPath(),
		)
		err = os.Rename(s.path, s.corruptPath())
		if err != nil {
			return fmt.Errorf("move corrupt primary aside: %w", err)
		}
	}
	err = s.checkpoint(step_backup_rotated)
	if err != nil {
		return err
	}

	err = os.Rename(s.tempPath(), s.path)
	if err != nil {
		return fmt.Errorf("replace primary: %w", err)
	}
	err = osutil.SyncDir(dir)
	if err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}

type FileStatus struct {
	Path    string
	Exists  bool
	Records int
	Err     error
}

// Verify reports the state of the primary and backup files without changing them.
func (s *Store) Verify() []FileStatus {
	var out []FileStatus
	for _, path := range []string{s.path, s.BackupPath()} {
		status := FileStatus{Path: path}
		snapshot, err := readSnapshot(path)
		switch {
		case err == nil:
			status.Exists = true
			status.Records = len(snapshot)
		case errors.Is(err, os.ErrNotExist):
		default:
			status.Exists = true
			status.Err = err
		}
		out = append(out, status)
	}
	return out
}

// CheckReadable mirrors the verdict of Load over statuses: ErrCorruption when
// some file exists but none parses. Missing files are a fresh, empty memory.
func CheckReadable(statuses []FileStatus) error {
	present := false
	for _, status := range statuses {
		if !status.Exists {
			continue
		}
		if status.Err == nil {
			return nil
		}
		present = true
	}
	if present {
		return ErrCorruption
	}
	return nil
}
