package memory

import (
	"ireps-scraper/internal/tender"
	"strings"
)

// DocumentPathPatterns are the url paths under which IREPS serves tender documents.
var DocumentPathPatterns = []string{
	"/ireps/upload/files/",
	"/ireps/upload/WorksCorrigendum/",
	"/ireps/works/pdfdocs/",
}

var junkSignals = []string{
	"createOptorDpdw",
	"document.getElementById",
	"Tender Closing Date",
	"Tender Uploading Date",
	"Starting with",
}

// IsJunkValue reports values that were scraped from form widgets or scripts
// instead of the tender itself.
func IsJunkValue(value, tenderNo string) bool {
	if value == "" {
		return false
	}
	if value == tenderNo {
		return true
	}
	if strings.Count(value, "\t") > 3 {
		return true
	}
	for _, signal := range junkSignals {
		if strings.Contains(value, signal) {
			return true
		}
	}
	return false
}

// IsDocumentUrl reports whether url points at a known document location.
func IsDocumentUrl(url string) bool {
	for _, pattern := range DocumentPathPatterns {
		if strings.Contains(url, pattern) {
			return true
		}
	}
	return false
}

type CleanupReport struct {
	ClearedFields    int
	RemovedDocuments int
	Touched          []string
}

var cleanedFields = []string{"closing_date", "description", "tender_type"}

// Cleanup clears junk values and drops documents outside the known document
// paths. It returns a cleaned copy, snapshot is left untouched.
func Cleanup(snapshot tender.Snapshot) (tender.Snapshot, CleanupReport) {
	var report CleanupReport
	out := snapshot.Clone()

	for _, key := range out.Keys() {
		record := out[key]
		touched := false

		for _, f := range tender.Fields {
			if !contains(cleanedFields, f.Name) {
				continue
			}
			if IsJunkValue(f.Get(record), record.TenderNo) {
				f.Set(&record, "")
				report.ClearedFields++
				touched = true
			}
		}

		kept := record.AttachedDocuments.Filter(func(d tender.Document) bool {
			return IsDocumentUrl(d.FileUrl)
		})
		if removed := record.AttachedDocuments.Len() - kept.Len(); removed > 0 {
			report.RemovedDocuments += removed
			record.AttachedDocuments = kept
			touched = true
		}

		if touched {
			out[key] = record
			report.Touched = append(report.Touched, key)
		}
	}
	return out, report
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
