// Package tender holds the records scraped from IREPS and persisted between runs.
package tender

import (
	"bytes"
	"encoding/json"
	"ireps-scraper/internal/components/chrono"
	"sort"
	"strings"
	"time"
)

// Timestamp is a time.Time that also reads the offset-less ISO-8601 timestamps
// written by earlier versions of the scraper, those are taken to be portal time.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(chrono.FormatTimestamp(t.Time))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var text string
	err := json.Unmarshal(data, &text)
	if err != nil {
		return err
	}
	if text == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := chrono.ParseTimestamp(text, chrono.Portal())
	if err != nil {
		return err
	}
	*t = Timestamp{Time: parsed}
	return nil
}

type Document struct {
	FileName    string `json:"file_name"`
	FileUrl     string `json:"file_url"`
	Description string `json:"description"`
}

// DocumentSet is an insertion-ordered set of documents keyed by FileUrl.
//
// Documents without a FileUrl are never admitted and the first document added
// under a given FileUrl wins. The zero value is an empty set.
type DocumentSet struct {
	order []string
	byUrl map[string]Document
}

func NewDocumentSet(docs ...Document) DocumentSet {
	var set DocumentSet
	for _, d := range docs {
		set.Add(d)
	}
	return set
}

// Add admits doc unless its url is empty or already present, it reports whether
// the set changed.
func (s *DocumentSet) Add(doc Document) bool {
	doc.FileUrl = strings.TrimSpace(doc.FileUrl)
	if doc.FileUrl == "" {
		return false
	}
	if s.byUrl == nil {
		s.byUrl = map[string]Document{}
	}
	if _, exists := s.byUrl[doc.FileUrl]; exists {
		return false
	}
	s.byUrl[doc.FileUrl] = doc
	s.order = append(s.order, doc.FileUrl)
	return true
}

func (s DocumentSet) Contains(fileUrl string) bool {
	_, ok := s.byUrl[strings.TrimSpace(fileUrl)]
	return ok
}

func (s DocumentSet) Len() int {
	return len(s.order)
}

func (s DocumentSet) Get(fileUrl string) (Document, bool) {
	doc, ok := s.byUrl[fileUrl]
	return doc, ok
}

// Slice returns the documents in insertion order.
func (s DocumentSet) Slice() []Document {
	out := make([]Document, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.byUrl[url])
	}
	return out
}

// Union returns a new set with every document of s followed by the documents of
// other that s does not have.
func (s DocumentSet) Union(other DocumentSet) DocumentSet {
	out := NewDocumentSet(s.Slice()...)
	for _, doc := range other.Slice() {
		out.Add(doc)
	}
	return out
}

// Missing returns the documents of other that s does not have.
func (s DocumentSet) Missing(other DocumentSet) []Document {
	var out []Document
	for _, doc := range other.Slice() {
		if !s.Contains(doc.FileUrl) {
			out = append(out, doc)
		}
	}
	return out
}

// Filter returns the documents for which keep returns true.
func (s DocumentSet) Filter(keep func(Document) bool) DocumentSet {
	var out DocumentSet
	for _, doc := range s.Slice() {
		if keep(doc) {
			out.Add(doc)
		}
	}
	return out
}

// Equal reports whether both sets hold the same documents in the same order.
func (s DocumentSet) Equal(other DocumentSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i, url := range s.order {
		if other.order[i] != url || other.byUrl[url] != s.byUrl[url] {
			return false
		}
	}
	return true
}

func (s DocumentSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *DocumentSet) UnmarshalJSON(data []byte) error {
	var docs []Document
	err := json.Unmarshal(data, &docs)
	if err != nil {
		return err
	}
	*s = NewDocumentSet(docs...)
	return nil
}

// Record is a single tender keyed by TenderNo.
type Record struct {
	TenderNo     string `json:"tender_no"`
	DepttRlyUnit string `json:"deptt_rly_unit"`
	TenderTitle  string `json:"tender_title"`
	Status       string `json:"status"`
	WorkArea     string `json:"work_area"`
	DueDateTime  string `json:"due_date_time"`
	DueDays      string `json:"due_days,omitempty"`

	TenderType     string `json:"tender_type"`
	ClosingDate    string `json:"closing_date"`
	DateOfIssue    string `json:"date_of_issue,omitempty"`
	EstimatedValue string `json:"estimated_value,omitempty"`
	EmdAmount      string `json:"emd_amount,omitempty"`
	DocumentCost   string `json:"document_cost,omitempty"`
	ContactOfficer string `json:"contact_officer,omitempty"`
	Corrigendum    string `json:"corrigendum,omitempty"`
	Description    string `json:"description,omitempty"`

	TenderDocUrl      string      `json:"tender_doc_download_url"`
	AttachedDocuments DocumentSet `json:"attached_documents"`

	// DetailUrl is only used to navigate to the detail page, it is never persisted.
	DetailUrl string `json:"-"`

	LastSeen Timestamp `json:"_last_seen"`
}

// Field is a named, comparable string field of a record.
type Field struct {
	Name string
	Get  func(Record) string
	Set  func(*Record, string)
}

// Fields lists every plain string field of a record that is persisted, in the
// order they are written. TenderDocUrl, the documents and the bookkeeping
// timestamp are handled separately.
var Fields = []Field{
	{"deptt_rly_unit", func(r Record) string { return r.DepttRlyUnit }, func(r *Record, v string) { r.DepttRlyUnit = v }},
	{"tender_title", func(r Record) string { return r.TenderTitle }, func(r *Record, v string) { r.TenderTitle = v }},
	{"status", func(r Record) string { return r.Status }, func(r *Record, v string) { r.Status = v }},
	{"work_area", func(r Record) string { return r.WorkArea }, func(r *Record, v string) { r.WorkArea = v }},
	{"due_date_time", func(r Record) string { return r.DueDateTime }, func(r *Record, v string) { r.DueDateTime = v }},
	{"due_days", func(r Record) string { return r.DueDays }, func(r *Record, v string) { r.DueDays = v }},
	{"tender_type", func(r Record) string { return r.TenderType }, func(r *Record, v string) { r.TenderType = v }},
	{"closing_date", func(r Record) string { return r.ClosingDate }, func(r *Record, v string) { r.ClosingDate = v }},
	{"date_of_issue", func(r Record) string { return r.DateOfIssue }, func(r *Record, v string) { r.DateOfIssue = v }},
	{"estimated_value", func(r Record) string { return r.EstimatedValue }, func(r *Record, v string) { r.EstimatedValue = v }},
	{"emd_amount", func(r Record) string { return r.EmdAmount }, func(r *Record, v string) { r.EmdAmount = v }},
	{"document_cost", func(r Record) string { return r.DocumentCost }, func(r *Record, v string) { r.DocumentCost = v }},
	{"contact_officer", func(r Record) string { return r.ContactOfficer }, func(r *Record, v string) { r.ContactOfficer = v }},
	{"corrigendum", func(r Record) string { return r.Corrigendum }, func(r *Record, v string) { r.Corrigendum = v }},
	{"description", func(r Record) string { return r.Description }, func(r *Record, v string) { r.Description = v }},
}

// Snapshot is every known tender keyed by tender number.
type Snapshot map[string]Record

// Keys returns the tender numbers of the snapshot in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of the snapshot that can be mutated independently.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		v.AttachedDocuments = NewDocumentSet(v.AttachedDocuments.Slice()...)
		out[k] = v
	}
	return out
}
