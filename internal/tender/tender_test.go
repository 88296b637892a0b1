package tender

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDocumentSet(t *testing.T) {
	set := NewDocumentSet(
		Document{FileName: "a.pdf", FileUrl: "https://x/a.pdf"},
		Document{FileName: "no url"},
		Document{FileName: "b.pdf", FileUrl: "https://x/b.pdf"},
		Document{FileName: "a duplicate", FileUrl: " https://x/a.pdf "},
	)
	require.Equal(t, 2, set.Len())

	a, ok := set.Get("https://x/a.pdf")
	require.True(t, ok)
	require.Equal(t, "a.pdf", a.FileName)

	other := NewDocumentSet(
		Document{FileName: "c.pdf", FileUrl: "https://x/c.pdf"},
		Document{FileName: "renamed a", FileUrl: "https://x/a.pdf"},
	)
	union := set.Union(other)
	require.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, names(union))
	require.Equal(t, 2, set.Len(), "union must not mutate the receiver")

	missing := set.Missing(other)
	require.Len(t, missing, 1)
	require.Equal(t, "https://x/c.pdf", missing[0].FileUrl)

	filtered := union.Filter(func(d Document) bool { return d.FileName != "b.pdf" })
	require.Equal(t, []string{"a.pdf", "c.pdf"}, names(filtered))
}

func names(set DocumentSet) []string {
	var out []string
	for _, d := range set.Slice() {
		out = append(out, d.FileName)
	}
	return out
}

func TestDocumentSetJSON(t *testing.T) {
	var empty DocumentSet
	serialized, err := json.Marshal(empty)
	require.NoError(t, err)
	require.Equal(t, "[]", string(serialized))

	var set DocumentSet
	err = json.Unmarshal([]byte(`[
		{"file_name": "a.pdf", "file_url": "https://x/a.pdf", "description": "NIT"},
		{"file_name": "a again", "file_url": "https://x/a.pdf", "description": ""},
		{"file_name": "lost", "file_url": "", "description": ""}
	]`), &set)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	require.True(t, set.Equal(NewDocumentSet(Document{FileName: "a.pdf", FileUrl: "https://x/a.pdf", Description: "NIT"})))
}

func TestRecordReadsLegacyFile(t *testing.T) {
	legacy := `{
		"tender_no": "NR-1",
		"deptt_rly_unit": "Northern Railway",
		"tender_title": "Bridge works",
		"status": "Published",
		"work_area": "Works",
		"due_date_time": "10/04/2024 15:00",
		"tender_type": "Open",
		"closing_date": "",
		"tender_doc_download_url": null,
		"attached_documents": [],
		"_last_seen": "2024-03-01T10:15:00.123456"
	}`

	var record Record
	require.NoError(t, json.Unmarshal([]byte(legacy), &record))

	expected := Record{
		TenderNo:          "NR-1",
		DepttRlyUnit:      "Northern Railway",
		TenderTitle:       "Bridge works",
		Status:            "Published",
		WorkArea:          "Works",
		DueDateTime:       "10/04/2024 15:00",
		TenderType:        "Open",
		AttachedDocuments: NewDocumentSet(),
		LastSeen:          NewTimestamp(time.Date(2024, time.March, 1, 10, 15, 0, 123456000, portalZone(t))),
	}
	if diff := cmp.Diff(expected, record); diff != "" {
		t.Fatal(diff)
	}
}

func portalZone(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestSnapshotClone(t *testing.T) {
	snapshot := Snapshot{
		"B": {TenderNo: "B"},
		"A": {TenderNo: "A", AttachedDocuments: NewDocumentSet(Document{FileUrl: "u1"})},
	}
	require.Equal(t, []string{"A", "B"}, snapshot.Keys())

	clone := snapshot.Clone()
	docs := clone["A"].AttachedDocuments
	docs.Add(Document{FileUrl: "u2"})
	a := clone["A"]
	a.AttachedDocuments = docs
	clone["A"] = a

	require.Equal(t, 1, snapshot["A"].AttachedDocuments.Len())
	require.Equal(t, 2, clone["A"].AttachedDocuments.Len())
}
