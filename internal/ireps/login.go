package ireps

import (
	"context"
	"fmt"
	"ireps-scraper/internal/portal"
	"ireps-scraper/lib/htmlutil"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var fieldPlaceholders = map[portal.Field]string{
	portal.FIELD_MOBILE:  "Enter Mobile No.",
	portal.FIELD_CAPTCHA: "Enter Verification Code",
	portal.FIELD_OTP:     "Enter OTP",
}

var buttonLabels = map[portal.Button]string{
	portal.BUTTON_GET_OTP: "Get OTP",
	portal.BUTTON_PROCEED: "Proceed",
}

var rejectionWords = []string{"incorrect", "invalid", "wrong"}

type formButton struct {
	label  string
	name   string
	value  string
	target string
}

// loginForm is the browser-side state of the login form.
type loginForm struct {
	action  string
	inputs  url.Values
	fields  map[portal.Field]string
	buttons []formButton
	// filled survives re-renders of the form between submits
	filled map[string]string
}

var quotedPathRegex = regexp.MustCompile(`['"](/[^'"]+\.do[^'"]*)['"]`)

func parseLoginForm(doc *goquery.Document, pageUrl *url.URL) (*loginForm, bool) {
	mobile := doc.Find(fmt.Sprintf(`input[placeholder="%s"]`, fieldPlaceholders[portal.FIELD_MOBILE])).First()
	if mobile.Length() == 0 {
		return nil, false
	}
	root := mobile.Closest("form")
	action := pageUrl.String()
	if root.Length() == 0 {
		root = doc.Selection
	} else if raw, ok := root.Attr("action"); ok && strings.TrimSpace(raw) != "" {
		action = htmlutil.Resolve(pageUrl, raw)
	}

	form := &loginForm{
		action: action,
		inputs: url.Values{},
		fields: map[portal.Field]string{},
		filled: map[string]string{},
	}
	root.Find("input, select, textarea").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		kind := strings.ToLower(input.AttrOr("type", "text"))
		if name == "" || kind == "submit" || kind == "button" || kind == "image" {
			return
		}
		form.inputs.Set(name, input.AttrOr("value", ""))
		placeholder := input.AttrOr("placeholder", "")
		for field, expected := range fieldPlaceholders {
			if placeholder == expected {
				form.fields[field] = name
			}
		}
	})
	root.Find(`button, input[type="submit"], input[type="button"]`).Each(func(_ int, button *goquery.Selection) {
		label := htmlutil.SelectionText(button)
		if label == "" {
			label = strings.TrimSpace(button.AttrOr("value", ""))
		}
		target := ""
		if formaction, ok := button.Attr("formaction"); ok {
			target = htmlutil.Resolve(pageUrl, formaction)
		} else if groups := quotedPathRegex.FindStringSubmatch(button.AttrOr("onclick", "")); len(groups) == 2 {
			target = htmlutil.Resolve(pageUrl, groups[1])
		}
		form.buttons = append(form.buttons, formButton{
			label:  label,
			name:   button.AttrOr("name", ""),
			value:  button.AttrOr("value", label),
			target: target,
		})
	})
	return form, true
}

// adopt takes over the re-rendered form, keeping what the user already typed.
func (f *loginForm) adopt(next *loginForm) {
	next.filled = f.filled
	for name, value := range f.filled {
		if _, exists := next.inputs[name]; exists {
			next.inputs.Set(name, value)
		}
	}
	*f = *next
}

func (d *Driver) openLogin(ctx context.Context) error {
	err := d.load(ctx, http.MethodGet, loginPath, nil)
	if err != nil {
		return err
	}
	d.lastClick = ""
	form, ok := parseLoginForm(d.page, d.pageUrl)
	if !ok {
		// the form is sometimes served inside an iframe
		src, hasFrame := d.page.Find("iframe[src]").First().Attr("src")
		if !hasFrame {
			return fmt.Errorf("login form not found")
		}
		err = d.load(ctx, http.MethodGet, d.resolveFrom(src), nil)
		if err != nil {
			return fmt.Errorf("load login iframe: %w", err)
		}
		form, ok = parseLoginForm(d.page, d.pageUrl)
		if !ok {
			return fmt.Errorf("login form not found in iframe")
		}
	}
	d.form = form
	return nil
}

func (d *Driver) FillField(ctx context.Context, field portal.Field, value string) error {
	if d.form == nil {
		return fmt.Errorf("fill %s: no login form open", field)
	}
	name, ok := d.form.fields[field]
	if !ok {
		return fmt.Errorf("fill %s: field not present on the form", field)
	}
	d.form.inputs.Set(name, value)
	d.form.filled[name] = value
	return nil
}

func (d *Driver) Click(ctx context.Context, button portal.Button) error {
	if d.form == nil {
		return fmt.Errorf("click %s: no login form open", button)
	}
	label := buttonLabels[button]
	var found *formButton
	for i, b := range d.form.buttons {
		if strings.EqualFold(b.label, label) {
			found = &d.form.buttons[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("click %s: button %q not found", button, label)
	}

	values := url.Values{}
	for name, vals := range d.form.inputs {
		values[name] = append([]string(nil), vals...)
	}
	if found.name != "" {
		values.Set(found.name, found.value)
	}
	target := found.target
	if target == "" {
		target = d.form.action
	}

	err := d.load(ctx, http.MethodPost, target, values)
	if err != nil {
		return fmt.Errorf("click %s: %w", button, err)
	}
	d.lastClick = button

	next, ok := parseLoginForm(d.page, d.pageUrl)
	if ok {
		d.form.adopt(next)
	}
	return nil
}

var captchaHints = []string{"captcha", "verification", "verify"}

func (d *Driver) CaptchaImage(ctx context.Context) ([]byte, error) {
	if d.page == nil {
		return nil, fmt.Errorf("captcha image: no page loaded")
	}
	src := ""
	d.page.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		attrs := strings.ToLower(img.AttrOr("src", "") + " " + img.AttrOr("id", "") + " " + img.AttrOr("alt", "") + " " + img.AttrOr("class", ""))
		for _, hint := range captchaHints {
			if strings.Contains(attrs, hint) && !strings.Contains(attrs, "refresh") && !strings.Contains(attrs, "reload") {
				src = img.AttrOr("src", "")
				return false
			}
		}
		return true
	})
	if src == "" {
		// fall back to the first image next to the verification code label
		d.page.Find("td, div, label, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if htmlutil.SelectionText(s) != "Verification Code" {
				return true
			}
			src = s.Parent().Find("img[src]").First().AttrOr("src", "")
			return src == ""
		})
	}
	if src == "" {
		return nil, fmt.Errorf("captcha image not found on the page")
	}

	res, err := d.http.R().SetContext(ctx).Get(d.resolveFrom(src))
	if err != nil {
		return nil, fmt.Errorf("fetch captcha image: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("fetch captcha image: unexpected status %s", res.Status())
	}
	return res.Body(), nil
}

// rejectionMessage finds the shortest text on the page that reads like a
// rejection, the portal renders these in assorted inline elements.
func rejectionMessage(doc *goquery.Document) string {
	best := ""
	doc.Find("body *").Not("script, style, option, select").Each(func(_ int, s *goquery.Selection) {
		text := htmlutil.SelectionText(s)
		if text == "" || len(text) > 200 {
			return
		}
		lower := strings.ToLower(text)
		for _, word := range rejectionWords {
			if strings.Contains(lower, word) {
				if best == "" || len(text) < len(best) {
					best = text
				}
				return
			}
		}
	})
	return best
}

func (d *Driver) Inspect(ctx context.Context) (portal.Inspection, error) {
	if d.page == nil {
		return portal.Inspection{}, fmt.Errorf("inspect: no page loaded")
	}
	message := rejectionMessage(d.page)
	lower := strings.ToLower(message)
	aboutCaptcha := strings.Contains(lower, "captcha") || strings.Contains(lower, "verification")
	onLogin := d.showsLogin()

	switch d.lastClick {
	case portal.BUTTON_GET_OTP:
		if message != "" && !strings.Contains(lower, "otp") {
			return portal.Inspection{Outcome: portal.OUTCOME_CAPTCHA_REJECTED, Message: message}, nil
		}
		if message != "" {
			return portal.Inspection{Outcome: portal.OUTCOME_UNKNOWN, Message: message}, nil
		}
		return portal.Inspection{Outcome: portal.OUTCOME_OTP_SENT}, nil
	case portal.BUTTON_PROCEED:
		if !onLogin {
			return portal.Inspection{Outcome: portal.OUTCOME_LOGGED_IN}, nil
		}
		if aboutCaptcha {
			return portal.Inspection{Outcome: portal.OUTCOME_CAPTCHA_REJECTED, Message: message}, nil
		}
		return portal.Inspection{Outcome: portal.OUTCOME_OTP_REJECTED, Message: message}, nil
	}
	if !onLogin {
		return portal.Inspection{Outcome: portal.OUTCOME_LOGGED_IN}, nil
	}
	return portal.Inspection{Outcome: portal.OUTCOME_UNKNOWN, Message: message}, nil
}

// findTab locates a tab by its label. It returns the url to load and, when
// the tab is a form button, the form values to post.
func findTab(doc *goquery.Document, label string) (string, url.Values, bool) {
	var target string
	var values url.Values
	found := false

	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if htmlutil.SelectionText(a) != label {
			return true
		}
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href != "" && href != "#" && !strings.HasPrefix(href, "javascript:") {
			target, found = href, true
			return false
		}
		if groups := quotedPathRegex.FindStringSubmatch(a.AttrOr("onclick", "")); len(groups) == 2 {
			target, found = groups[1], true
			return false
		}
		return true
	})
	if found {
		return target, nil, true
	}

	doc.Find(`button, input[type="submit"], input[type="button"]`).EachWithBreak(func(_ int, b *goquery.Selection) bool {
		text := htmlutil.SelectionText(b)
		if text == "" {
			text = strings.TrimSpace(b.AttrOr("value", ""))
		}
		if text != label {
			return true
		}
		form := b.Closest("form")
		if form.Length() == 0 {
			return true
		}
		values = url.Values{}
		form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
			kind := strings.ToLower(input.AttrOr("type", "text"))
			if kind == "submit" || kind == "button" {
				return
			}
			values.Set(input.AttrOr("name", ""), input.AttrOr("value", ""))
		})
		if name := b.AttrOr("name", ""); name != "" {
			values.Set(name, b.AttrOr("value", text))
		}
		target, found = form.AttrOr("action", ""), true
		return false
	})
	return target, values, found
}
