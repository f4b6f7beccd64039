package deb

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ParseError reports a malformed control document, naming the offending
// file and line.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// Stanza is one RFC-822-style control paragraph. Field names preserve
// their original spelling; lookups are by exact name.
type Stanza struct {
	Fields map[string]string
	Line   int
}

// Get returns the named field's value, or "" if absent.
func (s Stanza) Get(name string) string {
	return s.Fields[name]
}

// Has reports whether the named field is present.
func (s Stanza) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// ParseControl reads every stanza from r. Continuation lines (leading
// space or tab) are appended to the preceding field with a newline
// separator. Stanzas are separated by one or more blank lines. The
// file argument is used only for error reporting.
func ParseControl(r io.Reader, file string) ([]Stanza, error) {
	var stanzas []Stanza
	var cur *Stanza
	var lastField string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			if cur != nil {
				stanzas = append(stanzas, *cur)
				cur = nil
				lastField = ""
			}
			continue
		}
		if text[0] == ' ' || text[0] == '\t' {
			if cur == nil || lastField == "" {
				return nil, &ParseError{File: file, Line: line, Msg: "continuation line without a preceding field"}
			}
			cur.Fields[lastField] += "\n" + strings.TrimRight(text[1:], " \t")
			continue
		}
		i := strings.IndexByte(text, ':')
		if i <= 0 {
			return nil, &ParseError{File: file, Line: line, Msg: fmt.Sprintf("malformed field line %q", text)}
		}
		name := text[:i]
		if strings.ContainsAny(name, " \t") {
			return nil, &ParseError{File: file, Line: line, Msg: fmt.Sprintf("whitespace in field name %q", name)}
		}
		if cur == nil {
			cur = &Stanza{Fields: make(map[string]string), Line: line}
		}
		if _, dup := cur.Fields[name]; dup {
			return nil, &ParseError{File: file, Line: line, Msg: fmt.Sprintf("duplicate field %q", name)}
		}
		cur.Fields[name] = strings.TrimSpace(text[i+1:])
		lastField = name
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", file)
	}
	if cur != nil {
		stanzas = append(stanzas, *cur)
	}
	return stanzas, nil
}
