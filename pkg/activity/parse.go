package activity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// lineKind says what a recognised log line means for the deriver.
type lineKind int

const (
	kindMessage lineKind = iota
	kindPhaseStart
	kindPhaseEnd
)

// parsedLine is the result of classifying one raw log line.
type parsedLine struct {
	kind    lineKind
	message string
	status  Status
	phase   string
	// at is zero when the line carries no timestamp of its own.
	at time.Time
}

var (
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

	isoPrefix   = regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\]?\s*`)
	clockPrefix = regexp.MustCompile(`^\[(\d{2}):(\d{2}):(\d{2})\]\s*`)
	levelPrefix = regexp.MustCompile(`^(?i)\[?(debug|info|warn|warning|error)\]?:?\s+`)

	phaseStart  = regexp.MustCompile(`^(?i)(?:PHASE:|\[phase\])\s*(.+)$`)
	phaseBanner = regexp.MustCompile(`^={3,}\s*(.+?)\s*={3,}$`)
	phaseDone   = regexp.MustCompile(`^(?i)PHASE_DONE:\s*(.+)$`)
	phaseFailed = regexp.MustCompile(`^(?i)PHASE_FAILED:\s*(.+)$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

var (
	errorWords   = regexp.MustCompile(`(?i)\b(errors?|failed|failure|fatal|panic)\b|[✗✘❌]`)
	successWords = regexp.MustCompile(`(?i)\b(passed|success|successful|succeeded|complete|completed|committed|done)\b|[✓✔✅]`)
)

// parseLine classifies a raw log line. ref supplies the date for clock-only
// timestamps. It reports false for lines that carry nothing displayable.
func parseLine(raw string, ref time.Time) (parsedLine, bool) {
	line := strings.TrimSpace(ansiPattern.ReplaceAllString(raw, ""))
	if line == "" {
		return parsedLine{}, false
	}
	if strings.HasPrefix(line, "{") {
		return parseStreamJSON(line)
	}

	var p parsedLine
	if m := isoPrefix.FindStringSubmatch(line); m != nil {
		if t, ok := parseISO(m[1]); ok {
			p.at = t
			line = line[len(m[0]):]
		}
	} else if m := clockPrefix.FindStringSubmatch(line); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		y, mo, d := ref.Date()
		p.at = time.Date(y, mo, d, h, min, sec, 0, ref.Location())
		line = line[len(m[0]):]
	}

	levelError := false
	if m := levelPrefix.FindStringSubmatch(line); m != nil {
		levelError = strings.EqualFold(m[1], "error")
		line = line[len(m[0]):]
	}
	line = strings.TrimSpace(line)
	if !hasWordChar(line) {
		return parsedLine{}, false
	}

	switch {
	case phaseDone.MatchString(line):
		p.kind, p.phase, p.status = kindPhaseEnd, phaseDone.FindStringSubmatch(line)[1], StatusSuccess
		p.message = "Phase complete: " + p.phase
	case phaseFailed.MatchString(line):
		p.kind, p.phase, p.status = kindPhaseEnd, phaseFailed.FindStringSubmatch(line)[1], StatusError
		p.message = "Phase failed: " + p.phase
	case phaseStart.MatchString(line):
		p.kind, p.phase, p.status = kindPhaseStart, phaseStart.FindStringSubmatch(line)[1], StatusInProgress
		p.message = "Phase: " + p.phase
	case phaseBanner.MatchString(line):
		p.kind, p.phase, p.status = kindPhaseStart, phaseBanner.FindStringSubmatch(line)[1], StatusInProgress
		p.message = "Phase: " + p.phase
	default:
		p.kind = kindMessage
		p.message = line
		p.status = classify(line)
		if levelError {
			p.status = StatusError
		}
	}
	p.phase = strings.TrimSpace(p.phase)
	return p, true
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// classify picks a status from keywords. Error markers win over success
// markers.
func classify(line string) Status {
	switch {
	case errorWords.MatchString(line):
		return StatusError
	case successWords.MatchString(line):
		return StatusSuccess
	default:
		return StatusInProgress
	}
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// streamEntry is the subset of an agent's stream-json output the feed uses.
type streamEntry struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Message *struct {
		Content []json.RawMessage `json:"content"`
	} `json:"message,omitempty"`
}

type contentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

func parseStreamJSON(line string) (parsedLine, bool) {
	var entry streamEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return parsedLine{}, false
	}

	switch entry.Type {
	case "system":
		if entry.Subtype == "init" {
			return parsedLine{kind: kindMessage, message: "Agent session started", status: StatusInProgress}, true
		}
	case "result":
		lowered := strings.ToLower(entry.Subtype)
		if entry.IsError || strings.Contains(lowered, "error") || strings.Contains(lowered, "fail") {
			return parsedLine{kind: kindMessage, message: "Agent run failed: " + entry.Subtype, status: StatusError}, true
		}
		return parsedLine{kind: kindMessage, message: "Agent run completed", status: StatusSuccess}, true
	case "assistant":
		if entry.Message == nil {
			return parsedLine{}, false
		}
		var text string
		for _, raw := range entry.Message.Content {
			var block contentBlock
			if err := json.Unmarshal(raw, &block); err != nil {
				continue
			}
			switch block.Type {
			case "tool_use":
				return parsedLine{kind: kindMessage, message: describeTool(block), status: StatusInProgress}, true
			case "text":
				if text == "" {
					text = firstLine(block.Text)
				}
			}
		}
		if text != "" {
			return parsedLine{kind: kindMessage, message: text, status: StatusInProgress}, true
		}
	}
	return parsedLine{}, false
}

func describeTool(block contentBlock) string {
	for _, key := range []string{"file_path", "command", "pattern", "description"} {
		if v, ok := block.Input[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", block.Name, firstLine(v))
		}
	}
	return block.Name
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
