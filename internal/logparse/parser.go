// Package logparse turns captured toolchain output into structured entries
// for the log view and the status line.
//
// The parser understands the usual shapes of TeX engine output: the
// file:line:message form produced with -file-line-error, classic "! ..."
// errors followed by an "l.<n>" line marker, LaTeX/package/class warnings
// and over/underfull box notices. Anything else mentioning "error" is kept
// as an entry of unknown kind so it is not silently lost.
package logparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a parsed entry.
type Kind int

const (
	KindUnknown Kind = iota
	KindError
	KindWarning
	KindBadBox
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindWarning:
		return "warning"
	case KindBadBox:
		return "badbox"
	default:
		return "unknown"
	}
}

// Entry is one diagnostic extracted from build output.
type Entry struct {
	Kind    Kind     `json:"kind"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Message string   `json:"message"`
	Raw     string   `json:"raw"`
	Context []string `json:"context,omitempty"`
}

func (e Entry) String() string {
	if e.File == "" && e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Kind, e.Message)
}

// Report is the parsed form of one step's output.
type Report struct {
	Raw     string  `json:"raw"`
	Entries []Entry `json:"entries"`
}

// Count returns how many entries of kind k the report holds.
func (r Report) Count(k Kind) int {
	n := 0
	for _, e := range r.Entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Parser parses TeX tool output.
type Parser struct {
	patterns []pattern
	lineRef  *regexp.Regexp
}

type pattern struct {
	regex       *regexp.Regexp
	kind        Kind
	parseFields func(matches []string) (file string, line int, message string)
}

// NewParser creates a parser with the built-in TeX patterns.
func NewParser() *Parser {
	return &Parser{
		patterns: buildPatterns(),
		lineRef:  regexp.MustCompile(`^l\.(\d+)`),
	}
}

// Parse extracts diagnostics from output.
func (p *Parser) Parse(output string) Report {
	report := Report{Raw: output}
	lines := strings.Split(output, "\n")

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if entry, ok := p.match(line); ok {
			if entry.Kind == KindError && entry.Line == 0 {
				entry.Line = p.findLineRef(lines, i)
			}
			entry.Context = contextLines(lines, i, 2)
			report.Entries = append(report.Entries, entry)
			continue
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") && !strings.Contains(lower, "no errors") {
			report.Entries = append(report.Entries, Entry{
				Kind:    KindUnknown,
				Message: strings.TrimSpace(line),
				Raw:     line,
				Context: contextLines(lines, i, 1),
			})
		}
	}

	return report
}

func (p *Parser) match(line string) (Entry, bool) {
	for _, pat := range p.patterns {
		matches := pat.regex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		file, lineNum, message := pat.parseFields(matches)
		return Entry{
			Kind:    pat.kind,
			File:    file,
			Line:    lineNum,
			Message: message,
			Raw:     line,
		}, true
	}
	return Entry{}, false
}

// findLineRef looks a few lines ahead of a "! ..." error for the "l.<n>"
// marker TeX prints with the offending input line.
func (p *Parser) findLineRef(lines []string, index int) int {
	end := min(len(lines), index+8)
	for i := index + 1; i < end; i++ {
		if m := p.lineRef.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n
		}
	}
	return 0
}

func contextLines(lines []string, index int, radius int) []string {
	start := max(0, index-radius)
	end := min(len(lines), index+radius+1)

	var context []string
	for i := start; i < end; i++ {
		prefix := "  "
		if i == index {
			prefix = "→ "
		}
		context = append(context, prefix+strings.TrimRight(lines[i], "\r"))
	}
	return context
}

func buildPatterns() []pattern {
	return []pattern{
		{
			regex: regexp.MustCompile(`^(.+?\.\w+):(\d+): (.+)$`),
			kind:  KindError,
			parseFields: func(m []string) (string, int, string) {
				line, _ := strconv.Atoi(m[2])
				return strings.TrimPrefix(m[1], "./"), line, m[3]
			},
		},
		{
			regex: regexp.MustCompile(`^! (.+)$`),
			kind:  KindError,
			parseFields: func(m []string) (string, int, string) {
				return "", 0, m[1]
			},
		},
		{
			regex: regexp.MustCompile(`^(?:LaTeX|Package \S+|Class \S+) Warning: (.+?)(?: on input line (\d+))?\.?$`),
			kind:  KindWarning,
			parseFields: func(m []string) (string, int, string) {
				line, _ := strconv.Atoi(m[2])
				return "", line, m[1]
			},
		},
		{
			regex: regexp.MustCompile(`^((?:Over|Under)full \\[hv]box .+?)(?: (?:in paragraph|detected) at lines? (\d+).*)?$`),
			kind:  KindBadBox,
			parseFields: func(m []string) (string, int, string) {
				line, _ := strconv.Atoi(m[2])
				return "", line, m[1]
			},
		},
	}
}
