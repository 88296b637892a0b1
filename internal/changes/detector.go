package changes

import (
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/tender"
	"strings"
	"time"
)

const (
	report_detector_detect = "detector.detect"
	report_detector_merge  = "detector.merge"
)

type Summary struct {
	TotalScraped  int `json:"total_scraped"`
	New           int `json:"new_count"`
	Updated       int `json:"updated_count"`
	StatusChanged int `json:"status_changed_count"`
	Unchanged     int `json:"unchanged_count"`
}

func (s *Summary) add(c Classification) {
	switch c {
	case NEW:
		s.New++
	case UPDATED:
		s.Updated++
	case STATUS_CHANGED:
		s.StatusChanged++
	case UNCHANGED:
		s.Unchanged++
	}
}

type Report struct {
	Results []Result
	Summary Summary
	// Next is the snapshot to persist, it contains every record of the previous
	// snapshot plus the merged scraped records.
	Next tender.Snapshot
}

// Detector runs Classify and Merge over a whole scrape.
type Detector struct {
	tel telemetry.API
}

func NewDetector(tel telemetry.API) Detector {
	assert.NotNil(tel)
	return Detector{tel: telemetry.NewScopedAPI("changes", tel)}
}

// Detect classifies every scraped record against previous and merges it into the
// next snapshot. Records with an empty tender number are skipped and when the
// same tender is scraped twice the later copy is merged over the first.
// previous is not modified.
func (d Detector) Detect(previous tender.Snapshot, scraped []tender.Record, now time.Time) (Report, error) {
	report := Report{Next: previous.Clone()}

	for _, record := range scraped {
		key := strings.TrimSpace(record.TenderNo)
		if key == "" {
			d.tel.ReportWarning(report_detector_detect, "skipped record without tender number", record.TenderTitle)
			continue
		}
		report.Summary.TotalScraped++

		var old *tender.Record
		if stored, ok := previous[key]; ok {
			old = &stored
		}
		result := Classify(old, record)
		if result.Anomaly != "" {
			d.tel.ReportWarning(report_detector_detect, key, result.Anomaly)
		}
		report.Summary.add(result.Classification)
		report.Results = append(report.Results, result)

		switch result.Classification {
		case STATUS_CHANGED:
			d.tel.ReportDebug("status changed", key, old.Status, record.Status)
		case UPDATED:
			for _, change := range result.Changes {
				d.tel.ReportDebug("field changed", key, change.Field, change.Old, change.New)
			}
		}

		var base *tender.Record
		if existing, ok := report.Next[key]; ok {
			// the snapshot key is authoritative for a stored record whose own
			// tender number drifted, the anomaly was already reported above
			existing.TenderNo = key
			base = &existing
		}
		merged, err := Merge(base, record, now)
		if err != nil {
			d.tel.ReportBroken(report_detector_merge, err, key)
			return Report{}, err
		}
		report.Next[key] = merged
	}

	d.tel.ReportCount("detector.new", int64(report.Summary.New))
	d.tel.ReportCount("detector.updated", int64(report.Summary.Updated))
	d.tel.ReportCount("detector.status-changed", int64(report.Summary.StatusChanged))
	d.tel.ReportCount("detector.unchanged", int64(report.Summary.Unchanged))

	return report, nil
}
