// Package bodyparse reads and edits issue bodies as structured markdown.
//
// The parser keeps the raw lines of the source body. Every edit splices the
// smallest possible range of lines, so regions the edit does not touch are
// reproduced byte for byte by String(). Parse(body).String() == body for any
// input whose lines are joined by "\n" (CR characters survive inside lines).
package bodyparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/justynbrt/ghoo/internal/core"
)

var (
	sectionPattern = regexp.MustCompile(`^## (.+)$`)
	todoPattern    = regexp.MustCompile(`^- \[([ xX])\] (.+)$`)
	entryPattern   = regexp.MustCompile(`^### (.+)$`)
	changePattern  = regexp.MustCompile("^State changed from `([^`]*)` to `([^`]*)` by @(\\S+)$")
	parentPattern  = regexp.MustCompile(`(?im)^\*\*Parent:?\*\*\s*#(\d+)`)
	taskRefPattern = regexp.MustCompile(`^- \[([ xX])\] (?:([\w.-]+/[\w.-]+))?#(\d+)(?:\s+(.*))?$`)
)

// LogSectionTitle is the sentinel heading opening the audit log block.
const LogSectionTitle = "Log"

// SectionSpan is a parsed section with its position in the source lines.
type SectionSpan struct {
	core.Section
	HeadingLine int // index of the "## Title" line
	EndLine     int // exclusive end: next heading, log sentinel, or EOF
}

// LogBlock is the parsed audit log at the end of a body.
type LogBlock struct {
	HeadingLine int // index of the "## Log" line
	Entries     []core.LogEntry
}

// ParsedBody is a body held as raw lines plus the structure read from them.
// All edits go through its methods; structure is refreshed after each edit.
type ParsedBody struct {
	lines []string

	Prelude    string // trimmed text before the first section heading
	preludeEnd int    // index of the first heading line, or len(lines)
	Sections   []*SectionSpan
	Log        *LogBlock
}

// Parse scans a body into sections, todos and the audit log. Fenced code
// blocks are opaque: headings and todos inside them are plain text.
func Parse(body string) *ParsedBody {
	p := &ParsedBody{lines: strings.Split(body, "\n")}
	p.reparse()
	return p
}

// String reassembles the body. Unedited regions are byte-identical to the
// parsed input.
func (p *ParsedBody) String() string {
	return strings.Join(p.lines, "\n")
}

// Len returns the body length in UTF-16 code units, the unit the remote
// service enforces its ceiling in.
func (p *ParsedBody) Len() int {
	n := 0
	for _, r := range p.String() {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// stripCR removes a trailing carriage return for matching. The raw line keeps
// it, so CRLF bodies round-trip.
func stripCR(line string) string {
	return strings.TrimSuffix(line, "\r")
}

// fenceMarker reports the opening marker of a code fence line ("```" or
// "~~~", possibly longer), or "".
func fenceMarker(line string) string {
	t := strings.TrimLeft(stripCR(line), " ")
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(t) && t[n] == ch {
			n++
		}
		if n >= 3 {
			return t[:n]
		}
	}
	return ""
}

// closesFence reports whether line closes a fence opened with marker.
func closesFence(line, marker string) bool {
	m := fenceMarker(line)
	return m != "" && m[0] == marker[0] && len(m) >= len(marker)
}

func (p *ParsedBody) reparse() {
	p.Prelude = ""
	p.Sections = nil
	p.Log = nil
	p.preludeEnd = len(p.lines)

	var (
		current   *SectionSpan
		fence     string // open fence marker, "" when outside
		preludeTo = -1
	)

	closeSection := func(end int) {
		if current == nil {
			return
		}
		current.EndLine = end
		current.Body = strings.TrimSpace(strings.Join(p.lines[current.HeadingLine+1:end], "\n"))
		p.Sections = append(p.Sections, current)
		current = nil
	}

	for i, raw := range p.lines {
		line := stripCR(raw)

		if fence != "" {
			if closesFence(line, fence) {
				fence = ""
			}
			continue
		}
		if m := fenceMarker(line); m != "" {
			fence = m
			continue
		}

		hm := sectionPattern.FindStringSubmatch(line)
		if hm == nil {
			if current != nil {
				if tm := todoPattern.FindStringSubmatch(line); tm != nil {
					current.Todos = append(current.Todos, &core.Todo{
						Text:    strings.TrimSpace(tm[2]),
						Checked: tm[1] == "x" || tm[1] == "X",
						Line:    i,
					})
				}
			}
			continue
		}

		title := strings.TrimSpace(hm[1])
		if preludeTo < 0 {
			preludeTo = i
		}
		closeSection(i)

		if strings.EqualFold(title, LogSectionTitle) {
			p.Log = p.parseLog(i)
			break
		}
		current = &SectionSpan{
			Section:     core.Section{Title: title},
			HeadingLine: i,
		}
	}

	end := len(p.lines)
	if p.Log != nil {
		end = p.Log.HeadingLine
	}
	closeSection(end)

	if preludeTo < 0 {
		preludeTo = len(p.lines)
	}
	p.preludeEnd = preludeTo
	p.Prelude = strings.TrimSpace(strings.Join(p.lines[:preludeTo], "\n"))
}

// parseLog reads audit entries from the sentinel to EOF. Everything after
// "## Log" belongs to the log; malformed lines are ignored rather than
// misread as sections.
func (p *ParsedBody) parseLog(heading int) *LogBlock {
	lb := &LogBlock{HeadingLine: heading}
	var cur *core.LogEntry
	flush := func() {
		if cur != nil {
			cur.Message = strings.TrimSpace(cur.Message)
			lb.Entries = append(lb.Entries, *cur)
			cur = nil
		}
	}
	for i := heading + 1; i < len(p.lines); i++ {
		line := stripCR(p.lines[i])
		if em := entryPattern.FindStringSubmatch(line); em != nil {
			flush()
			cur = &core.LogEntry{}
			if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(em[1])); err == nil {
				cur.Timestamp = ts.UTC()
			}
			continue
		}
		if cur == nil {
			continue
		}
		if cm := changePattern.FindStringSubmatch(line); cm != nil {
			cur.From = core.ParseWorkflowState(cm[1])
			cur.To = core.ParseWorkflowState(cm[2])
			cur.Actor = cm[3]
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Reason: "); ok {
			cur.Message = rest
		}
	}
	flush()
	return lb
}

// Section returns the section with the given title (case-insensitive), or nil.
func (p *ParsedBody) Section(title string) *SectionSpan {
	for _, s := range p.Sections {
		if s.TitleEquals(title) {
			return s
		}
	}
	return nil
}

// SectionTitles lists section titles in document order, log excluded.
func (p *ParsedBody) SectionTitles() []string {
	out := make([]string, len(p.Sections))
	for i, s := range p.Sections {
		out[i] = s.Title
	}
	return out
}

// MissingSections returns the required titles with no matching section.
func (p *ParsedBody) MissingSections(required []string) []string {
	var missing []string
	for _, want := range required {
		if p.Section(want) == nil {
			missing = append(missing, want)
		}
	}
	return missing
}

// UncheckedTodos returns every unchecked todo across all sections, located
// by section title.
func (p *ParsedBody) UncheckedTodos() []core.BlockedTodo {
	var out []core.BlockedTodo
	for _, s := range p.Sections {
		for _, td := range s.Todos {
			if !td.Checked {
				out = append(out, core.BlockedTodo{Section: s.Title, Text: td.Text})
			}
		}
	}
	return out
}

// References extracts hierarchy links: the prelude parent marker and any
// checkbox issue references in the body.
func (p *ParsedBody) References() core.References {
	var refs core.References
	if m := parentPattern.FindStringSubmatch(p.Prelude); m != nil {
		refs.Parent = atoiSafe(m[1])
	}
	fence := ""
	end := len(p.lines)
	if p.Log != nil {
		end = p.Log.HeadingLine
	}
	for _, raw := range p.lines[:end] {
		line := stripCR(raw)
		if fence != "" {
			if closesFence(line, fence) {
				fence = ""
			}
			continue
		}
		if m := fenceMarker(line); m != "" {
			fence = m
			continue
		}
		if m := taskRefPattern.FindStringSubmatch(line); m != nil {
			refs.Tasks = append(refs.Tasks, core.TaskRef{
				Checked: m[1] == "x" || m[1] == "X",
				Repo:    m[2],
				Number:  atoiSafe(m[3]),
				Title:   strings.TrimSpace(m[4]),
			})
		}
	}
	return refs
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// FormatLogEntry renders one audit entry in the log grammar.
func FormatLogEntry(e core.LogEntry) []string {
	lines := []string{
		fmt.Sprintf("### %s", e.Timestamp.UTC().Format(time.RFC3339)),
		fmt.Sprintf("State changed from `%s` to `%s` by @%s", e.From, e.To, e.Actor),
	}
	if e.Message != "" {
		lines = append(lines, "Reason: "+e.Message)
	}
	return lines
}
