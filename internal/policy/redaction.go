package policy

import "regexp"

// redactionRule masks one PII class. Rules run in order; card numbers go
// before phone numbers so a long digit run is not half-claimed as a phone.
type redactionRule struct {
	pattern *regexp.Regexp
	mask    string
}

var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns in recognized speech
// before it leaves the gateway.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		masked := rule.pattern.ReplaceAllString(out, rule.mask)
		if masked != out {
			changed = true
			out = masked
		}
	}
	return out, changed
}
