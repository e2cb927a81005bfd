// Package redact masks secrets in loop output before it reaches a screen.
//
// Loop logs routinely echo environment assignments, HTTP headers and URLs.
// The activity feed shows those lines verbatim, so every message passes
// through a Redactor first.
package redact

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Mode selects how much a Redactor masks.
type Mode string

const (
	// ModeOff passes text through unchanged.
	ModeOff Mode = "off"
	// ModeBasic masks key=value secrets, auth headers, URL credentials and
	// PEM blocks.
	ModeBasic Mode = "basic"
	// ModeAggressive adds well-known token prefixes and high-entropy words.
	ModeAggressive Mode = "aggressive"

	// DefaultReplacement stands in for every masked value.
	DefaultReplacement = "***"

	minEntropyLen    = 20
	entropyThreshold = 4.0
)

// ParseMode accepts off, basic or aggressive. The empty string means basic.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBasic, nil
	case ModeOff, ModeBasic, ModeAggressive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown redaction mode %q (want off, basic or aggressive)", s)
	}
}

// Config holds the settings for New.
type Config struct {
	Mode Mode
	// Keys are extra assignment names to mask, matched exactly.
	Keys        []string
	Replacement string
}

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor masks secrets in single strings. It is safe for concurrent use.
type Redactor struct {
	mode        Mode
	replacement string
	rules       []rule
	prefixes    []rule
}

var (
	pemBlock = regexp.MustCompile(`-----BEGIN [A-Za-z0-9 ]+-----[\s\S]*?-----END [A-Za-z0-9 ]+-----`)
	// A lone PEM header line, as seen when a log is read line by line.
	pemHeader = regexp.MustCompile(`-----BEGIN [A-Za-z0-9 ]*PRIVATE KEY-----.*`)

	assignment = regexp.MustCompile(`\b([A-Z0-9_]*(?:TOKEN|_KEY|APIKEY|SECRET|PASSWORD|PASSWD|AUTHORIZATION))\s*=\s*(?:"[^"]*"|'[^']*'|\S+)`)
	header     = regexp.MustCompile(`(?i)\b(authorization|proxy-authorization|authentication|x-api-key|x-auth-token|x-github-token|cookie|set-cookie)\s*:\s*.+$`)
	queryParam = regexp.MustCompile(`(?i)([?&])(token|key|secret|password|api_key|apikey|access_token|refresh_token|auth_token|authorization)=[^&\s#'"]+`)
	userinfo   = regexp.MustCompile(`(://[^/\s:@]+):[^/\s@]+@`)

	entropyCandidate = regexp.MustCompile(fmt.Sprintf(`\b[A-Za-z0-9_\-\.]{%d,}\b`, minEntropyLen))

	knownPrefixes = []struct{ prefix, pattern string }{
		{"ghp_", `ghp_[A-Za-z0-9_]{32,36}`},
		{"gho_", `gho_[A-Za-z0-9_]{32,36}`},
		{"ghu_", `ghu_[A-Za-z0-9_]{32,36}`},
		{"ghs_", `ghs_[A-Za-z0-9_]{32,36}`},
		{"ghr_", `ghr_[A-Za-z0-9_]{32,36}`},
		{"github_pat_", `github_pat_[A-Za-z0-9_]{40,90}`},
		{"sk-ant-", `sk-ant-[A-Za-z0-9_\-]{30,120}`},
		{"sk_live_", `sk_live_[A-Za-z0-9_]{24,40}`},
		{"sk_test_", `sk_test_[A-Za-z0-9_]{24,40}`},
		{"sk-", `sk-[A-Za-z0-9_]{26,60}`},
		{"hf_", `hf_[A-Za-z0-9_]{26,46}`},
		{"AKIA", `AKIA[A-Z0-9]{16}`},
		{"xoxb-", `xoxb-[A-Za-z0-9\-]{26,60}`},
		{"xoxp-", `xoxp-[A-Za-z0-9\-]{26,60}`},
		{"ya29.", `ya29\.[A-Za-z0-9_\-]{46,196}`},
	}
)

// New builds a Redactor. An empty mode means basic.
func New(cfg Config) *Redactor {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBasic
	}
	repl := cfg.Replacement
	if repl == "" {
		repl = DefaultReplacement
	}
	lit := strings.ReplaceAll(repl, "$", "$$")

	r := &Redactor{mode: mode, replacement: repl}
	r.rules = []rule{
		{pemBlock, "-----BEGIN REDACTED-----" + lit + "-----END REDACTED-----"},
		{pemHeader, "-----BEGIN REDACTED-----"},
		{assignment, "$1=" + lit},
		{header, "$1: " + lit},
		{queryParam, "$1$2=" + lit},
		{userinfo, "$1:" + lit + "@"},
	}
	var keys []string
	for _, k := range cfg.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, regexp.QuoteMeta(k))
		}
	}
	if len(keys) > 0 {
		custom := regexp.MustCompile(`\b(` + strings.Join(keys, "|") + `)\s*[=:]\s*(?:"[^"]*"|'[^']*'|\S+)`)
		r.rules = append(r.rules, rule{custom, "$1=" + lit})
	}
	for _, p := range knownPrefixes {
		r.prefixes = append(r.prefixes, rule{regexp.MustCompile(p.pattern), p.prefix + lit})
	}
	return r
}

// Mode reports the redaction mode.
func (r *Redactor) Mode() Mode {
	if r == nil {
		return ModeOff
	}
	return r.mode
}

// String returns s with secrets masked. A nil Redactor returns s unchanged.
func (r *Redactor) String(s string) string {
	if r == nil || r.mode == ModeOff || s == "" {
		return s
	}
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	if r.mode != ModeAggressive {
		return s
	}
	for _, rl := range r.prefixes {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	return entropyCandidate.ReplaceAllStringFunc(s, func(word string) string {
		if strings.Contains(word, r.replacement) || plausibleWord(word) || !highEntropy(word) {
			return word
		}
		return r.replacement
	})
}

// highEntropy reports whether s looks random enough to be a credential,
// using Shannon entropy over its characters.
func highEntropy(s string) bool {
	if len(s) < minEntropyLen {
		return false
	}
	freq := make(map[rune]int)
	n := 0
	for _, ch := range s {
		freq[ch]++
		n++
	}
	var h float64
	for _, c := range freq {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h > entropyThreshold
}

// plausibleWord filters out identifiers, versions and file names that
// happen to be long.
func plausibleWord(s string) bool {
	lower := 0
	for _, ch := range s {
		if ch >= 'a' && ch <= 'z' {
			lower++
		}
	}
	switch {
	case s == strings.ToLower(s) && len(s) < 30:
		return true
	case s == strings.ToUpper(s) && len(s) < 20:
		return true
	case strings.Count(s, ".") >= 2:
		return true
	}
	return float64(lower)/float64(len(s)) > 0.7
}
