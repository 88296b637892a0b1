package changes

import (
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/tender"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func baseRecord() tender.Record {
	return tender.Record{
		TenderNo:     "T1",
		DepttRlyUnit: "Northern Railway",
		TenderTitle:  "X",
		Status:       "Published",
		WorkArea:     "Works",
		DueDateTime:  "10/04/2024 15:00",
		TenderType:   "Open",
		TenderDocUrl: "https://www.ireps.gov.in/ireps/works/pdfdocs/T1.pdf",
		AttachedDocuments: tender.NewDocumentSet(tender.Document{
			FileName: "nit.pdf",
			FileUrl:  "https://www.ireps.gov.in/ireps/upload/files/nit.pdf",
		}),
	}
}

func TestClassify(t *testing.T) {
	statusChanged := baseRecord()
	statusChanged.Status = "Closed"

	statusAndTitle := baseRecord()
	statusAndTitle.Status = "Closed"
	statusAndTitle.TenderTitle = "Y"

	titleChanged := baseRecord()
	titleChanged.TenderTitle = "Y"

	whitespaceOnly := baseRecord()
	whitespaceOnly.TenderTitle = "  X \n"

	docUrlMissing := baseRecord()
	docUrlMissing.TenderDocUrl = ""

	docsMissing := baseRecord()
	docsMissing.AttachedDocuments = tender.NewDocumentSet()

	docAdded := baseRecord()
	docAdded.AttachedDocuments = tender.NewDocumentSet(tender.Document{FileUrl: "https://www.ireps.gov.in/ireps/upload/files/corr.pdf"})

	lastSeenOnly := baseRecord()
	lastSeenOnly.LastSeen = tender.NewTimestamp(time.Now())

	old := baseRecord()

	cases := []struct {
		name     string
		old      *tender.Record
		new      tender.Record
		expected Classification
	}{
		{name: "absent old", old: nil, new: tender.Record{TenderNo: "A"}, expected: NEW},
		{name: "status changed", old: &old, new: statusChanged, expected: STATUS_CHANGED},
		{name: "status dominates", old: &old, new: statusAndTitle, expected: STATUS_CHANGED},
		{name: "title changed", old: &old, new: titleChanged, expected: UPDATED},
		{name: "identical", old: &old, new: baseRecord(), expected: UNCHANGED},
		{name: "surrounding whitespace", old: &old, new: whitespaceOnly, expected: UNCHANGED},
		{name: "doc url extraction miss", old: &old, new: docUrlMissing, expected: UNCHANGED},
		{name: "documents missing from scrape", old: &old, new: docsMissing, expected: UNCHANGED},
		{name: "document added", old: &old, new: docAdded, expected: UPDATED},
		{name: "bookkeeping timestamp", old: &old, new: lastSeenOnly, expected: UNCHANGED},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.old, test.new)
			require.Equal(t, test.expected, result.Classification)
			require.Empty(t, result.Anomaly)
		})
	}
}

func TestClassifyKeyMismatchIsUpdated(t *testing.T) {
	old := baseRecord()
	other := baseRecord()
	other.TenderNo = "T2"

	result := Classify(&old, other)
	require.Equal(t, UPDATED, result.Classification)
	require.NotEmpty(t, result.Anomaly)
}

func TestDiffReportsFields(t *testing.T) {
	old := baseRecord()
	new := baseRecord()
	new.DueDateTime = "12/04/2024 15:00"
	new.TenderType = " Limited "

	expected := []FieldChange{
		{Field: "due_date_time", Old: "10/04/2024 15:00", New: "12/04/2024 15:00"},
		{Field: "tender_type", Old: "Open", New: "Limited"},
	}
	if diff := cmp.Diff(expected, Diff(old, new)); diff != "" {
		t.Fatal(diff)
	}
}

func TestMergeKeepsDocumentsAndDocUrl(t *testing.T) {
	now := time.Date(2024, time.March, 2, 6, 0, 0, 0, time.UTC)
	old := baseRecord()
	old.AttachedDocuments = tender.NewDocumentSet(
		tender.Document{FileName: "1.pdf", FileUrl: "u1"},
		tender.Document{FileName: "2.pdf", FileUrl: "u2"},
		tender.Document{FileName: "3.pdf", FileUrl: "u3"},
	)

	new := baseRecord()
	new.AttachedDocuments = tender.NewDocumentSet()
	new.TenderDocUrl = ""
	new.TenderTitle = "Y"
	new.DetailUrl = "https://www.ireps.gov.in/epsn/nitPublish.do?id=1"

	merged, err := Merge(&old, new, now)
	require.NoError(t, err)
	require.Equal(t, 3, merged.AttachedDocuments.Len())
	require.Equal(t, old.TenderDocUrl, merged.TenderDocUrl)
	require.Equal(t, "Y", merged.TenderTitle)
	require.Empty(t, merged.DetailUrl)
	require.True(t, now.Equal(merged.LastSeen.Time))

	new.AttachedDocuments = tender.NewDocumentSet(
		tender.Document{FileName: "2 renamed", FileUrl: "u2"},
		tender.Document{FileName: "4.pdf", FileUrl: "u4"},
	)
	new.TenderDocUrl = "https://www.ireps.gov.in/ireps/works/pdfdocs/new.pdf"
	merged, err = Merge(&old, new, now)
	require.NoError(t, err)

	var urls []string
	for _, d := range merged.AttachedDocuments.Slice() {
		urls = append(urls, d.FileUrl)
	}
	require.Equal(t, []string{"u1", "u2", "u3", "u4"}, urls)
	doc, _ := merged.AttachedDocuments.Get("u2")
	require.Equal(t, "2.pdf", doc.FileName)
	require.Equal(t, new.TenderDocUrl, merged.TenderDocUrl)
}

func TestMergeIsDeterministic(t *testing.T) {
	old := baseRecord()
	new := baseRecord()
	new.Status = "Closed"
	new.AttachedDocuments = tender.NewDocumentSet(tender.Document{FileUrl: "u9"})

	first, err := Merge(&old, new, time.Date(2024, time.March, 2, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	second, err := Merge(&first, new, time.Date(2024, time.March, 2, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(tender.Record{}, "LastSeen")); diff != "" {
		t.Fatal(diff)
	}
}

func TestMergeKeyMismatch(t *testing.T) {
	old := baseRecord()
	new := baseRecord()
	new.TenderNo = "T2"
	_, err := Merge(&old, new, time.Now())
	require.ErrorIs(t, err, ErrMergeInconsistency)
}

func TestDetectEndToEnd(t *testing.T) {
	now := time.Date(2024, time.March, 2, 6, 0, 0, 0, time.UTC)
	previous := tender.Snapshot{
		"T1": baseRecord(),
		"T9": {TenderNo: "T9", Status: "Closed"},
	}

	rescraped := baseRecord()
	rescraped.AttachedDocuments = tender.NewDocumentSet()
	rescraped.DueDateTime = "15/04/2024 15:00"

	scraped := []tender.Record{
		rescraped,
		{TenderNo: "  T2 ", Status: "Published"},
		{TenderNo: "", TenderTitle: "header row"},
	}

	recorder := telemetry.NewRecorder()
	report, err := NewDetector(recorder).Detect(previous, scraped, now)
	require.NoError(t, err)

	require.Equal(t, Summary{TotalScraped: 2, New: 1, Updated: 1}, report.Summary)
	require.Equal(t, UPDATED, report.Results[0].Classification)
	require.Equal(t, NEW, report.Results[1].Classification)
	require.Equal(t, "T2", report.Results[1].TenderNo)

	t1 := report.Next["T1"]
	require.Equal(t, 1, t1.AttachedDocuments.Len())
	require.Equal(t, "15/04/2024 15:00", t1.DueDateTime)
	require.Contains(t, report.Next, "T2")
	require.Contains(t, report.Next, "T9")

	require.Equal(t, "10/04/2024 15:00", previous["T1"].DueDateTime, "previous snapshot must not be modified")
	require.True(t, recorder.Has(telemetry.KIND_WARNING, report_detector_detect))
}

func TestDetectDriftedStoredKey(t *testing.T) {
	stored := baseRecord()
	stored.TenderNo = "T1-old"
	previous := tender.Snapshot{"T1": stored}

	recorder := telemetry.NewRecorder()
	report, err := NewDetector(recorder).Detect(previous, []tender.Record{baseRecord()}, time.Now())
	require.NoError(t, err)
	require.Equal(t, UPDATED, report.Results[0].Classification)
	require.Equal(t, "T1", report.Next["T1"].TenderNo)
	require.True(t, recorder.Has(telemetry.KIND_WARNING, report_detector_detect))
}
