package ireps

import (
	"context"
	"fmt"
	"ireps-scraper/internal/portal"
	"ireps-scraper/internal/tender"
	"ireps-scraper/lib/htmlutil"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type detailLabel struct {
	text string
	set  func(*portal.Detail, string)
	// accept rejects values that were read from the wrong cell
	accept func(string) bool
}

var detailLabels = []detailLabel{
	{"Tender Type", func(d *portal.Detail, v string) { d.TenderType = v }, nil},
	{"Date of Issue", func(d *portal.Detail, v string) { d.DateOfIssue = v }, nil},
	{"Estimated Value", func(d *portal.Detail, v string) { d.EstimatedValue = v }, nil},
	{"EMD Amount", func(d *portal.Detail, v string) { d.EmdAmount = v }, nil},
	{"Document Cost", func(d *portal.Detail, v string) { d.DocumentCost = v }, nil},
	{"Contact Officer", func(d *portal.Detail, v string) { d.ContactOfficer = v }, nil},
	{"Corrigendum", func(d *portal.Detail, v string) { d.Corrigendum = v }, nil},
	{"Description", func(d *portal.Detail, v string) { d.Description = v }, func(v string) bool {
		switch v {
		case "File Name", "file name", "Description", "Sl. No":
			return false
		}
		return true
	}},
	{"Closing Date", func(d *portal.Detail, v string) { d.ClosingDate = v }, func(v string) bool {
		return strings.Contains(v, "/")
	}},
}

// isJunkCell reports text dumped from a select box or an inline script.
func isJunkCell(raw string) bool {
	if strings.Count(raw, "\t") > 3 {
		return true
	}
	if strings.Contains(raw, "createOptorDpdw()") || strings.Contains(raw, "document.getElementById") {
		return true
	}
	return len(raw) > 500
}

// labelCandidates returns the elements reading exactly label, or when there
// are none the innermost elements containing it.
func labelCandidates(doc *goquery.Document, label string) []*goquery.Selection {
	var exact, loose []*goquery.Selection
	doc.Find("td, th, span, label, b, strong, div").Each(func(_ int, sel *goquery.Selection) {
		if sel.Closest("#attach_docs").Length() > 0 {
			return
		}
		text := htmlutil.SelectionText(sel)
		if text == label {
			exact = append(exact, sel)
			return
		}
		if strings.Contains(text, label) && sel.Children().Length() == 0 {
			loose = append(loose, sel)
		}
	})
	if len(exact) > 0 {
		return exact
	}
	return loose
}

// valueNextTo reads the value shown beside a label: the next cell of its row,
// or failing that its next sibling element.
func valueNextTo(label *goquery.Selection, labelText string) string {
	read := func(sel *goquery.Selection) string {
		if sel.Length() == 0 {
			return ""
		}
		raw := strings.TrimSpace(sel.Text())
		if raw == "" || isJunkCell(raw) {
			return ""
		}
		value := htmlutil.CleanText(raw)
		if value == labelText {
			return ""
		}
		return value
	}

	cell := label
	if !cell.Is("td, th") {
		cell = label.Closest("td, th")
	}
	if cell.Length() > 0 {
		value := read(cell.NextAllFiltered("td").First())
		if value != "" {
			return value
		}
	}
	return read(label.Next())
}

var (
	docWindowOpen = regexp.MustCompile(`(?s)downloadtenderDoc[^}]*window\.open\(['"]([^'"]+)['"]`)
	docFormAction = regexp.MustCompile(`(?s)downloadtenderDoc[^}]*\.action\s*=\s*['"]([^'"]+)['"]`)
	docLocation   = regexp.MustCompile(`(?s)downloadtenderDoc[^}]*(?:href|location)\s*=\s*['"]([^'"]+)['"]`)
	windowOpen    = regexp.MustCompile(`window\.open\(['"]([^'"]+)['"]`)
)

// tenderDocUrl finds where downloadtenderDoc() sends the browser by reading
// the function's source out of the page scripts.
func tenderDocUrl(doc *goquery.Document, base *url.URL) string {
	var found string
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		if !strings.Contains(text, "downloadtenderDoc") {
			return true
		}
		for _, pattern := range []*regexp.Regexp{docWindowOpen, docFormAction, docLocation} {
			if groups := pattern.FindStringSubmatch(text); len(groups) == 2 {
				found = groups[1]
				return false
			}
		}
		return true
	})
	if found == "" {
		doc.Find("form[action]").EachWithBreak(func(_ int, form *goquery.Selection) bool {
			action := form.AttrOr("action", "")
			if strings.Contains(action, "pdfdocs") {
				found = action
				return false
			}
			return true
		})
	}
	if found == "" {
		return ""
	}
	return htmlutil.Resolve(base, found)
}

func attachedDocuments(ctx context.Context, doc *goquery.Document, base *url.URL) []tender.Document {
	var out []tender.Document
	seen := map[string]bool{}
	doc.Find("#attach_docs tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return
		}
		anchors := htmlutil.GetAnchors(ctx, base, cells.Eq(1).Find("a").First())
		if len(anchors) == 0 {
			return
		}
		link := anchors[0]

		// the onclick popup is the real file, href is usually a placeholder
		fileUrl := link.Href
		if groups := windowOpen.FindStringSubmatch(link.Onclick); len(groups) == 2 {
			fileUrl = htmlutil.Resolve(base, groups[1])
		}
		if fileUrl == "" || seen[fileUrl] {
			return
		}
		seen[fileUrl] = true

		var description string
		if cells.Length() >= 3 {
			description = htmlutil.SelectionText(cells.Eq(2))
		}
		out = append(out, tender.Document{
			FileName:    link.Name,
			FileUrl:     fileUrl,
			Description: description,
		})
	})
	return out
}

func parseDetail(ctx context.Context, doc *goquery.Document, base *url.URL) portal.Detail {
	var detail portal.Detail
	for _, label := range detailLabels {
		for _, candidate := range labelCandidates(doc, label.text) {
			value := valueNextTo(candidate, label.text)
			if value == "" || (label.accept != nil && !label.accept(value)) {
				continue
			}
			label.set(&detail, value)
			break
		}
	}
	detail.TenderDocUrl = tenderDocUrl(doc, base)
	detail.Documents = attachedDocuments(ctx, doc, base)
	return detail
}

// ReadDetailPage opens a detail page the way postRequestNewWindow does, by
// posting the link's query parameters to its path.
func (d *Driver) ReadDetailPage(ctx context.Context, detailUrl string) (portal.Detail, error) {
	target, err := url.Parse(d.resolve(detailUrl))
	if err != nil {
		return portal.Detail{}, fmt.Errorf("invalid detail url %q: %w", detailUrl, err)
	}
	values := target.Query()
	target.RawQuery = ""

	err = d.load(ctx, http.MethodPost, target.String(), values)
	if err != nil {
		d.tel.ReportWarning(report_driver_detail, err.Error(), detailUrl)
		return portal.Detail{}, err
	}
	if d.showsLogin() {
		return portal.Detail{}, portalNotLoggedIn("detail page")
	}
	return parseDetail(ctx, d.page, d.pageUrl), nil
}
