// Package ireps drives the IREPS portal over plain HTTP: it emulates the
// login form, walks the tender listing and reads detail pages.
package ireps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/portal"
	"ireps-scraper/lib/restyutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

const (
	report_driver_navigate = "driver.navigate"
	report_driver_listing  = "driver.read-listing-table"
	report_driver_detail   = "driver.read-detail-page"
	report_driver_session  = "driver.session"
)

const (
	loginPath        = "/epsn/guestLogin.do"
	anonSearchPath   = "/epsn/anonymSearch.do"
	searchTenderPath = "/epsn/searchTender.do"

	authHeading = "Authenticate Yourself"
	allActive   = "All Active Tenders"
)

var tracer = otel.Tracer("ireps-scraper/internal/ireps")

type Options struct {
	BaseUrl           string
	RequestsPerSecond float64
	Timeout           time.Duration
	// DumpDir, when set, receives a dump of every http exchange.
	DumpDir string
}

// Driver implements portal.Driver. It is not safe for concurrent use, it
// tracks the page currently shown like a browser tab would.
type Driver struct {
	base *url.URL
	http *resty.Client
	jar  *cookiejar.Jar
	tel  telemetry.API

	page      *goquery.Document
	pageUrl   *url.URL
	form      *loginForm
	lastClick portal.Button
}

var _ portal.Driver = (*Driver)(nil)

func NewDriver(opts Options, tel telemetry.API) (*Driver, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	tel = telemetry.NewScopedAPI("ireps", tel)

	base, err := url.Parse(strings.TrimSuffix(opts.BaseUrl, "/"))
	if err != nil {
		return nil, err
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(base.String())
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	httpClient.SetTimeout(opts.Timeout)

	// burst >= 1 means that no requests will be dropped, only delayed
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	var output restyutil.InstrumentOutput
	if opts.DumpDir != "" {
		fsOutput, err := restyutil.NewFilesystemOutput(opts.DumpDir)
		if err != nil {
			return nil, fmt.Errorf("prepare http dump dir: %w", err)
		}
		output = fsOutput
	}
	restyutil.InstrumentClient(httpClient, tracer, output)

	return &Driver{
		base: base,
		http: httpClient,
		jar:  jar,
		tel:  tel,
	}, nil
}

func (d *Driver) resolve(ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(parsed).String()
}

// load performs a request and makes its response the current page.
func (d *Driver) load(ctx context.Context, method, target string, form url.Values) error {
	req := d.http.R().SetContext(ctx)
	if form != nil {
		req.SetFormDataFromValues(form)
	}
	res, err := req.Execute(method, d.resolve(target))
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("%s %s: unexpected status %s", method, target, res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	d.page = doc
	d.pageUrl = res.RawResponse.Request.URL
	return nil
}

func (d *Driver) showsLogin() bool {
	return d.page != nil && strings.Contains(d.page.Text(), authHeading)
}

func (d *Driver) Navigate(ctx context.Context, page portal.Page) error {
	var err error
	switch page {
	case portal.PAGE_LOGIN:
		err = d.openLogin(ctx)
	case portal.PAGE_SEARCH:
		err = d.load(ctx, http.MethodGet, searchTenderPath, nil)
	case portal.PAGE_ACTIVE_TENDER:
		err = d.openActiveTenders(ctx)
	default:
		err = fmt.Errorf("unknown page %q", page)
	}
	if err != nil {
		d.tel.ReportBroken(report_driver_navigate, err, string(page))
		return fmt.Errorf("navigate to %s: %w", page, err)
	}
	return nil
}

// openActiveTenders opens the listing and selects its "All Active Tenders" tab.
func (d *Driver) openActiveTenders(ctx context.Context) error {
	err := d.load(ctx, http.MethodGet, anonSearchPath, nil)
	if err != nil {
		return err
	}
	target, values, ok := findTab(d.page, allActive)
	if !ok {
		d.tel.ReportWarning(report_driver_navigate, "could not find the all active tenders tab, using the current view")
		return nil
	}
	if values != nil {
		return d.load(ctx, http.MethodPost, d.resolveFrom(target), values)
	}
	return d.load(ctx, http.MethodGet, d.resolveFrom(target), nil)
}

// resolveFrom resolves ref against the current page.
func (d *Driver) resolveFrom(ref string) string {
	if d.pageUrl == nil {
		return d.resolve(ref)
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return d.pageUrl.ResolveReference(parsed).String()
}

func (d *Driver) IsLoggedIn(ctx context.Context) (bool, error) {
	err := d.load(ctx, http.MethodGet, anonSearchPath, nil)
	if err != nil {
		return false, fmt.Errorf("check login state: %w", err)
	}
	return !d.showsLogin(), nil
}

type exportedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type exportedSession struct {
	BaseUrl string           `json:"base_url"`
	Cookies []exportedCookie `json:"cookies"`
}

// cookieScopes are the paths the portal sets cookies on.
var cookieScopes = []string{"/", "/epsn/", "/ireps/"}

func (d *Driver) ExportSession(ctx context.Context) (json.RawMessage, error) {
	state := exportedSession{BaseUrl: d.base.String(), Cookies: []exportedCookie{}}
	seen := map[string]bool{}
	for _, scope := range cookieScopes {
		for _, cookie := range d.jar.Cookies(d.base.ResolveReference(&url.URL{Path: scope})) {
			if seen[cookie.Name] {
				continue
			}
			seen[cookie.Name] = true
			state.Cookies = append(state.Cookies, exportedCookie{Name: cookie.Name, Value: cookie.Value})
		}
	}
	if len(state.Cookies) == 0 {
		d.tel.ReportWarning(report_driver_session, "exporting a session without cookies")
	}
	return json.Marshal(state)
}

func (d *Driver) RestoreSession(ctx context.Context, raw json.RawMessage) error {
	var state exportedSession
	err := json.Unmarshal(raw, &state)
	if err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if len(state.Cookies) == 0 {
		return fmt.Errorf("session has no cookies")
	}
	cookies := make([]*http.Cookie, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	d.jar.SetCookies(d.base.ResolveReference(&url.URL{Path: "/"}), cookies)
	return nil
}

func portalNotLoggedIn(page string) error {
	return fmt.Errorf("read %s: %w", page, portal.ErrNotLoggedIn)
}
