// Package sanitize redacts credential-like substrings from text before it is
// logged or returned by the API.
//
// This is a best-effort safety net, not a security boundary. The patterns are
// narrow on purpose so ordinary output is never mangled, which means some
// secrets in unusual formats will slip through.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	// TokenPlaceholder replaces bare GitHub tokens.
	TokenPlaceholder = "[GITHUB_TOKEN_HIDDEN]"
	// Placeholder replaces credential values in JSON fields and CLI flags.
	Placeholder = "[HIDDEN]"
)

var (
	githubTokenPattern       = regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)
	registrationTokenPattern = regexp.MustCompile(`BNNAW[A-Z0-9]{60,}`)
	jsonFieldPattern         = regexp.MustCompile(`"(github_token|token|registration_token|access_token|password|secret)":\s*"[^"]{20,}"`)
	flagValuePattern         = regexp.MustCompile(`(--(?:github-token|token|registration-token|password|secret))(\s+|=)([^\s"']+|"[^"]*"|'[^']*')`)
)

// credentialFlags lists argv flags whose following element is a secret.
var credentialFlags = map[string]struct{}{
	"--github-token":       {},
	"--token":              {},
	"--registration-token": {},
	"--password":           {},
	"--secret":             {},
}

// maxPasses bounds the fixed-point loop in Sanitize. A flag redaction can
// lengthen a short JSON value past the field threshold, so a single pass is
// not always stable.
const maxPasses = 4

// Sanitize applies every redaction pattern to text. Sanitize(Sanitize(x)) ==
// Sanitize(x) for any x.
func Sanitize(text string) string {
	if text == "" {
		return text
	}

	for i := 0; i < maxPasses; i++ {
		next := pass(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func pass(text string) string {
	text = githubTokenPattern.ReplaceAllString(text, TokenPlaceholder)
	text = registrationTokenPattern.ReplaceAllString(text, TokenPlaceholder)
	text = jsonFieldPattern.ReplaceAllString(text, `"$1": "`+Placeholder+`"`)
	text = flagValuePattern.ReplaceAllString(text, "${1}${2}"+Placeholder)
	return text
}

// Args returns a sanitized copy of argv. The element following a credential
// flag is replaced outright, whatever it looks like.
func Args(args []string) []string {
	out := make([]string, len(args))
	redactNext := false
	for i, arg := range args {
		if redactNext {
			out[i] = Placeholder
			redactNext = false
			continue
		}
		if _, ok := credentialFlags[arg]; ok {
			redactNext = true
		}
		out[i] = Sanitize(arg)
	}
	return out
}

// Command renders argv as a single sanitized string suitable for logging.
func Command(binary string, args []string) string {
	parts := append([]string{binary}, Args(args)...)
	return strings.Join(parts, " ")
}
