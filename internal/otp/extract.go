package otp

import "regexp"

var (
	sixDigitRegex  = regexp.MustCompile(`\b(\d{6})\b`)
	anyLengthRegex = regexp.MustCompile(`\b(\d{4,8})\b`)
)

// ExtractCode pulls a one-time code out of an SMS body. A standalone 6 digit
// number wins, otherwise the first standalone number of 4 to 8 digits is used.
func ExtractCode(text string) (string, bool) {
	groups := sixDigitRegex.FindStringSubmatch(text)
	if len(groups) == 2 {
		return groups[1], true
	}
	groups = anyLengthRegex.FindStringSubmatch(text)
	if len(groups) == 2 {
		return groups[1], true
	}
	return "", false
}
