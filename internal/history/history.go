// Package history keeps a ledger of scraper runs and the tenders each run
// found new or changed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"ireps-scraper/internal/changes"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/history/db"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ireps-scraper/internal/history")

const report_ledger_record = "ledger.record"

type Status string

const (
	STATUS_SUCCESS Status = "success"
	STATUS_PARTIAL Status = "partial"
	STATUS_FAILURE Status = "failure"
)

// Change is one tender a run classified as something other than UNCHANGED.
type Change struct {
	TenderNo       string
	Classification changes.Classification
	ChangedFields  []string
}

type Run struct {
	Id         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	// ErrorKind is the short machine readable reason of a failed run.
	ErrorKind     string
	Message       string
	Summary       changes.Summary
	ReusedSession bool
	UsedCachedOtp bool
	Changes       []Change
}

func NewRunId() string {
	return uuid.NewString()
}

// ChangesOf keeps the results worth recording, unchanged tenders are dropped.
func ChangesOf(results []changes.Result) []Change {
	var out []Change
	for _, result := range results {
		if result.Classification == changes.UNCHANGED {
			continue
		}
		change := Change{
			TenderNo:       result.TenderNo,
			Classification: result.Classification,
		}
		for _, field := range result.Changes {
			change.ChangedFields = append(change.ChangedFields, field.Field)
		}
		out = append(out, change)
	}
	return out
}

type Ledger struct {
	db  *sql.DB
	qry *db.Queries
	tel telemetry.API
}

// NewLedger creates the ledger tables if they do not exist yet.
func NewLedger(ctx context.Context, database *sql.DB, tel telemetry.API) (*Ledger, error) {
	assert.NotNil(database)
	assert.NotNil(tel)

	_, err := database.ExecContext(ctx, db.Schema)
	if err != nil {
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Ledger{
		db:  database,
		qry: db.New(database),
		tel: telemetry.NewScopedAPI("history", tel),
	}, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (l *Ledger) Record(ctx context.Context, run Run) error {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("run", run.Id),
		attribute.String("status", string(run.Status)),
	)

	if run.Id == "" {
		run.Id = NewRunId()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()
	txqry := l.qry.WithTx(tx)

	err = txqry.CreateRun(ctx, db.CreateRunParams{
		ID:                 run.Id,
		StartedAt:          run.StartedAt.Unix(),
		FinishedAt:         run.FinishedAt.Unix(),
		Status:             string(run.Status),
		ErrorKind:          run.ErrorKind,
		Message:            run.Message,
		TotalScraped:       int64(run.Summary.TotalScraped),
		NewCount:           int64(run.Summary.New),
		UpdatedCount:       int64(run.Summary.Updated),
		StatusChangedCount: int64(run.Summary.StatusChanged),
		UnchangedCount:     int64(run.Summary.Unchanged),
		ReusedSession:      boolInt(run.ReusedSession),
		UsedCachedOtp:      boolInt(run.UsedCachedOtp),
	})
	if err != nil {
		l.tel.ReportBroken(report_ledger_record, err, run.Id)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	for _, change := range run.Changes {
		err = txqry.CreateRunChange(ctx, db.CreateRunChangeParams{
			RunID:          run.Id,
			TenderNo:       change.TenderNo,
			Classification: string(change.Classification),
			ChangedFields:  strings.Join(change.ChangedFields, ","),
		})
		if err != nil {
			l.tel.ReportBroken(report_ledger_record, err, run.Id, change.TenderNo)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	return tx.Commit()
}

// List returns the latest runs, newest first. Changes are not loaded.
func (l *Ledger) List(ctx context.Context, limit int) ([]Run, error) {
	ctx, span := tracer.Start(ctx, "List")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := l.qry.ListRuns(ctx, int64(limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	runs := make([]Run, len(rows))
	for i, row := range rows {
		runs[i] = Run{
			Id:         row.ID,
			StartedAt:  time.Unix(row.StartedAt, 0),
			FinishedAt: time.Unix(row.FinishedAt, 0),
			Status:     Status(row.Status),
			ErrorKind:  row.ErrorKind,
			Message:    row.Message,
			Summary: changes.Summary{
				TotalScraped:  int(row.TotalScraped),
				New:           int(row.NewCount),
				Updated:       int(row.UpdatedCount),
				StatusChanged: int(row.StatusChangedCount),
				Unchanged:     int(row.UnchangedCount),
			},
			ReusedSession: row.ReusedSession != 0,
			UsedCachedOtp: row.UsedCachedOtp != 0,
		}
	}
	return runs, nil
}

func (l *Ledger) Changes(ctx context.Context, runId string) ([]Change, error) {
	rows, err := l.qry.GetRunChanges(ctx, runId)
	if err != nil {
		return nil, err
	}
	out := make([]Change, len(rows))
	for i, row := range rows {
		out[i] = Change{
			TenderNo:       row.TenderNo,
			Classification: changes.Classification(row.Classification),
		}
		if row.ChangedFields != "" {
			out[i].ChangedFields = strings.Split(row.ChangedFields, ",")
		}
	}
	return out, nil
}
