// Package changes classifies freshly scraped tenders against the last known
// snapshot and merges them into the next one.
package changes

import (
	"errors"
	"fmt"
	"ireps-scraper/internal/tender"
	"strings"
	"time"
)

type Classification string

const (
	NEW            Classification = "NEW"
	UPDATED        Classification = "UPDATED"
	STATUS_CHANGED Classification = "STATUS_CHANGED"
	UNCHANGED      Classification = "UNCHANGED"
)

// ErrMergeInconsistency is returned when merging two records that do not share
// a tender number.
var ErrMergeInconsistency = errors.New("merge inconsistency")

const (
	field_tender_doc_url     = "tender_doc_download_url"
	field_attached_documents = "attached_documents"
	field_tender_no          = "tender_no"
)

// FieldChange is a single differing field, values are trimmed.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Result is the classification of one scraped record.
type Result struct {
	TenderNo       string
	Classification Classification
	Changes        []FieldChange
	// Anomaly is set when the record could not be compared normally, the
	// record is then classified as UPDATED.
	Anomaly string
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}

// Diff lists every compared field that differs between old and new.
//
// The tender doc url only counts when the new value is non-empty and documents
// only count when new carries a document old does not have, since a merge
// keeps the old values in both cases.
func Diff(old, new tender.Record) []FieldChange {
	var out []FieldChange
	if normalize(old.TenderNo) != normalize(new.TenderNo) {
		out = append(out, FieldChange{
			Field: field_tender_no,
			Old:   normalize(old.TenderNo),
			New:   normalize(new.TenderNo),
		})
	}
	for _, f := range tender.Fields {
		oldValue := normalize(f.Get(old))
		newValue := normalize(f.Get(new))
		if oldValue != newValue {
			out = append(out, FieldChange{Field: f.Name, Old: oldValue, New: newValue})
		}
	}

	newDocUrl := normalize(new.TenderDocUrl)
	oldDocUrl := normalize(old.TenderDocUrl)
	if newDocUrl != "" && newDocUrl != oldDocUrl {
		out = append(out, FieldChange{Field: field_tender_doc_url, Old: oldDocUrl, New: newDocUrl})
	}

	added := old.AttachedDocuments.Missing(new.AttachedDocuments)
	if len(added) > 0 {
		urls := make([]string, len(added))
		for i, d := range added {
			urls[i] = d.FileUrl
		}
		out = append(out, FieldChange{
			Field: field_attached_documents,
			Old:   fmt.Sprintf("%d documents", old.AttachedDocuments.Len()),
			New:   "+ " + strings.Join(urls, ", "),
		})
	}
	return out
}

// Classify compares a freshly scraped record against the stored one, old is nil
// for a tender never seen before.
func Classify(old *tender.Record, new tender.Record) Result {
	result := Result{TenderNo: normalize(new.TenderNo)}
	if old == nil {
		result.Classification = NEW
		return result
	}

	result.Changes = Diff(*old, new)
	if normalize(old.TenderNo) != normalize(new.TenderNo) {
		result.Classification = UPDATED
		result.Anomaly = fmt.Sprintf(
			"compared records with different tender numbers %q and %q",
			old.TenderNo, new.TenderNo,
		)
		return result
	}

	switch {
	case len(result.Changes) == 0:
		result.Classification = UNCHANGED
	case normalize(old.Status) != normalize(new.Status):
		result.Classification = STATUS_CHANGED
	default:
		result.Classification = UPDATED
	}
	return result
}

// Merge produces the record to persist: documents are the union of old and new
// by url, an empty tender doc url keeps the old one, every other field comes
// from new and LastSeen is set to now.
func Merge(old *tender.Record, new tender.Record, now time.Time) (tender.Record, error) {
	merged := new
	merged.TenderNo = normalize(new.TenderNo)
	merged.DetailUrl = ""
	merged.LastSeen = tender.NewTimestamp(now)

	if old == nil {
		merged.AttachedDocuments = tender.NewDocumentSet(new.AttachedDocuments.Slice()...)
		return merged, nil
	}
	if normalize(old.TenderNo) != merged.TenderNo {
		return tender.Record{}, fmt.Errorf(
			"%w: stored %q, scraped %q",
			ErrMergeInconsistency, old.TenderNo, new.TenderNo,
		)
	}

	merged.AttachedDocuments = old.AttachedDocuments.Union(new.AttachedDocuments)
	if normalize(new.TenderDocUrl) == "" {
		merged.TenderDocUrl = old.TenderDocUrl
	}
	return merged, nil
}
