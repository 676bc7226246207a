package root

import (
	"fmt"
	"regexp"
	"strings"
)

// Markers recognises the in-document magic comments and the document-start
// marker of one source dialect.
type Markers struct {
	root          *regexp.Regexp
	program       *regexp.Regexp
	documentStart string
}

// NewMarkers builds the marker set for magic comments of the form
// "%!<name> root = <path>" and "%!<name> (TS-)program = <program>". The
// name segment is matched case-insensitively and may be omitted.
func NewMarkers(name, documentStart string) *Markers {
	prefix := `%\s*!\s*`
	if name != "" {
		prefix += fmt.Sprintf(`(?:(?i:%s)\s+)?`, regexp.QuoteMeta(name))
	}
	return &Markers{
		root:          regexp.MustCompile(`(?m)` + prefix + `root\s*=\s*(\S+)\s*$`),
		program:       regexp.MustCompile(`(?m)` + prefix + `(?:TS-)?program\s*=\s*(\S+)\s*$`),
		documentStart: documentStart,
	}
}

// Root returns the path declared by a root magic comment.
func (m *Markers) Root(text string) (string, bool) {
	return firstGroup(m.root, text)
}

// Program returns the program declared by a program magic comment.
func (m *Markers) Program(text string) (string, bool) {
	return firstGroup(m.program, text)
}

// IsDocumentRoot reports whether text contains the document-start marker.
func (m *Markers) IsDocumentRoot(text string) bool {
	return m.documentStart != "" && strings.Contains(text, m.documentStart)
}

func firstGroup(re *regexp.Regexp, text string) (string, bool) {
	match := re.FindStringSubmatch(text)
	if match == nil || match[1] == "" {
		return "", false
	}
	return match[1], true
}
