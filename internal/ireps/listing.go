package ireps

import (
	"context"
	"fmt"
	"ireps-scraper/internal/tender"
	"ireps-scraper/lib/htmlutil"
	"ireps-scraper/lib/textutil"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listing columns in the order the portal renders them
const (
	col_deptt = iota
	col_tender_no
	col_tender_title
	col_status
	col_work_area
	col_due_date
	col_due_days
	col_actions
)

var listingHeaders = []string{
	"Deptt./Rly. Unit",
	"Tender No",
	"Tender Title",
	"Status",
	"Work Area",
	"Due Date/Time",
	"Due Days",
	"Actions",
}

var junkTenderNos = map[string]bool{
	"Tender No":             true,
	"tender no":             true,
	"Search Tender":         true,
	"Organization":          true,
	"Select Date":           true,
	"Tender Closing Date":   true,
	"Tender Uploading Date": true,
	"Deptt./Rly. Unit":      true,
	"Actions":               true,
}

var validStatuses = map[string]bool{
	"published": true,
	"active":    true,
	"closed":    true,
	"cancelled": true,
	"expired":   true,
}

var postRequestRegex = regexp.MustCompile(`postRequestNewWindow\(['"]([^'"]+)['"]`)

const headerMatchThreshold = 0.9

// findListingTable returns the innermost table holding the listing, the
// portal nests it inside a layout table that also holds the search form.
func findListingTable(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestLen := -1
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		text := table.Text()
		if !strings.Contains(text, "Tender No") || !strings.Contains(text, "Deptt") {
			return
		}
		if bestLen == -1 || len(text) < bestLen {
			best = table
			bestLen = len(text)
		}
	})
	return best
}

// columnLayout maps each listing column to its cell index using the header row.
func columnLayout(table *goquery.Selection) []int {
	layout := make([]int, len(listingHeaders))
	for i := range layout {
		layout[i] = i
	}
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.ChildrenFiltered("th, td")
		if cells.Length() < len(listingHeaders)-1 {
			return true
		}
		matched := map[int]int{}
		cells.Each(func(cellIndex int, cell *goquery.Selection) {
			column, _ := textutil.BestMatch(htmlutil.SelectionText(cell), listingHeaders, headerMatchThreshold)
			if column >= 0 {
				if _, taken := matched[column]; !taken {
					matched[column] = cellIndex
				}
			}
		})
		if len(matched) < 5 {
			return true
		}
		for column, cellIndex := range matched {
			layout[column] = cellIndex
		}
		return false
	})
	return layout
}

type listingParse struct {
	records []tender.Record
	// skipped counts rows that were dropped as headers or junk
	skipped  int
	warnings []string
}

func parseListing(doc *goquery.Document, base *url.URL) listingParse {
	var out listingParse
	table := findListingTable(doc)
	if table == nil {
		out.warnings = append(out.warnings, "listing table not found")
		return out
	}
	layout := columnLayout(table)

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 7 {
			return
		}
		text := func(column int) string {
			index := layout[column]
			if index >= cells.Length() {
				return ""
			}
			return htmlutil.SelectionText(cells.Eq(index))
		}

		record := tender.Record{
			DepttRlyUnit: text(col_deptt),
			TenderNo:     text(col_tender_no),
			TenderTitle:  text(col_tender_title),
			Status:       text(col_status),
			WorkArea:     text(col_work_area),
			DueDateTime:  text(col_due_date),
			DueDays:      text(col_due_days),
		}
		rawTenderNo := strings.TrimSpace(cells.Eq(layout[col_tender_no]).Text())
		if !validTenderNo(rawTenderNo) || !validStatus(record.Status) {
			out.skipped++
			return
		}

		if layout[col_actions] < cells.Length() {
			record.DetailUrl = detailUrl(cells.Eq(layout[col_actions]), base)
		}
		if record.DetailUrl == "" {
			out.warnings = append(out.warnings, fmt.Sprintf("no detail link for tender %s", record.TenderNo))
		}
		out.records = append(out.records, record)
	})
	return out
}

func validTenderNo(tenderNo string) bool {
	if tenderNo == "" || len(tenderNo) > 50 || strings.Contains(tenderNo, "\n") {
		return false
	}
	return !junkTenderNos[tenderNo]
}

func validStatus(status string) bool {
	return status == "" || validStatuses[strings.ToLower(status)]
}

// detailUrl reads the link behind the "View Tender Details" icon. Its
// position among the action icons varies from row to row.
func detailUrl(actions *goquery.Selection, base *url.URL) string {
	link := actions.Find(`img[title="View Tender Details"]`).First().Closest("a")
	if link.Length() == 0 {
		return ""
	}
	groups := postRequestRegex.FindStringSubmatch(link.AttrOr("onclick", ""))
	if len(groups) == 2 {
		return htmlutil.Resolve(base, groups[1])
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	if href == "" || href == "#" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	return htmlutil.Resolve(base, href)
}

func (d *Driver) ReadListingTable(ctx context.Context) ([]tender.Record, error) {
	if d.page == nil {
		return nil, fmt.Errorf("read listing: no page loaded")
	}
	if d.showsLogin() {
		return nil, portalNotLoggedIn("listing")
	}
	parsed := parseListing(d.page, d.base)
	for _, warning := range parsed.warnings {
		d.tel.ReportWarning(report_driver_listing, warning)
	}
	d.tel.ReportDebug("listing page read", len(parsed.records), parsed.skipped)
	return parsed.records, nil
}

var nextLabels = []string{"Next", "»", ">"}

func (d *Driver) NextListingPage(ctx context.Context) (bool, error) {
	if d.page == nil {
		return false, nil
	}
	for _, label := range nextLabels {
		var link *goquery.Selection
		d.page.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if htmlutil.SelectionText(a) == label {
				link = a
				return false
			}
			return true
		})
		if link == nil {
			continue
		}
		if strings.Contains(strings.ToLower(link.AttrOr("class", "")), "disabled") {
			return false, nil
		}
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href != "" && href != "#" && !strings.HasPrefix(href, "javascript:") {
			return true, d.load(ctx, http.MethodGet, d.resolveFrom(href), nil)
		}
		if groups := quotedPathRegex.FindStringSubmatch(link.AttrOr("onclick", "")); len(groups) == 2 {
			return true, d.load(ctx, http.MethodGet, d.resolveFrom(groups[1]), nil)
		}
	}

	target, values, ok := findTab(d.page, "Next")
	if !ok {
		return false, nil
	}
	return true, d.load(ctx, http.MethodPost, d.resolveFrom(target), values)
}
