// Package depfile reads and writes make-style dependency files.
//
// A dependency file names an artifact followed by the files it was derived
// from:
//
//	build/box.idx: \
//	  src/lib/box.cpp \
//	  src/lib/box.hpp \
//	  src/my\ lib/fruit.hpp
//
// Spaces in paths are escaped with a backslash and a trailing backslash
// continues a rule on the next line. Internally a dependency file is a list
// of types.DependencyList, one per rule.
package depfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/scenariogen/pkg/types"
)

// Write encodes lists as make rules.
func Write(w io.Writer, lists ...types.DependencyList) error {
	bw := bufio.NewWriter(w)
	for _, l := range lists {
		if _, err := fmt.Fprintf(bw, "%s:", escape(l.Artifact)); err != nil {
			return err
		}
		for _, f := range l.Files {
			if _, err := fmt.Fprintf(bw, " \\\n  %s", escape(f)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Encode is Write into a byte slice.
func Encode(lists ...types.DependencyList) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, lists...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes every rule in r. Rules with no prerequisites (phony targets
// emitted by some compilers) are kept with an empty file list.
func Parse(r io.Reader) ([]types.DependencyList, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var (
		lists   []types.DependencyList
		logical strings.Builder
		lineNo  int
	)
	flush := func() error {
		line := logical.String()
		logical.Reset()
		if strings.TrimSpace(line) == "" {
			return nil
		}
		l, err := parseRule(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		lists = append(lists, l)
		return nil
	}

	for _, raw := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		lineNo++
		if strings.HasPrefix(strings.TrimSpace(raw), "#") && logical.Len() == 0 {
			continue
		}
		if continued(raw) {
			logical.WriteString(raw[:len(raw)-1])
			logical.WriteByte(' ')
			continue
		}
		logical.WriteString(raw)
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return lists, nil
}

// continued reports whether a line ends with an unescaped backslash.
func continued(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func parseRule(line string) (types.DependencyList, error) {
	tokens := tokenize(line)
	var l types.DependencyList
	for i, tok := range tokens {
		if tok.colon {
			if i != 1 {
				return l, fmt.Errorf("malformed rule %q", strings.TrimSpace(line))
			}
			continue
		}
		if i == 0 {
			l.Artifact = tok.text
			continue
		}
		l.Files = append(l.Files, tok.text)
	}
	if len(tokens) < 2 || !tokens[1].colon {
		return l, fmt.Errorf("missing ':' in rule %q", strings.TrimSpace(line))
	}
	return l, nil
}

type token struct {
	text  string
	colon bool
}

// tokenize splits on unescaped whitespace and emits the first unescaped colon
// that ends a word as its own token.
func tokenize(line string) []token {
	var (
		out      []token
		cur      strings.Builder
		sawColon bool
	)
	emit := func() {
		if cur.Len() > 0 {
			out = append(out, token{text: cur.String()})
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '#' || line[i+1] == ':'):
			cur.WriteByte(line[i+1])
			i++
		case c == '$' && i+1 < len(line) && line[i+1] == '$':
			cur.WriteByte('$')
			i++
		case c == ' ' || c == '\t':
			emit()
		case c == ':' && !sawColon && (i+1 == len(line) || line[i+1] == ' ' || line[i+1] == '\t'):
			emit()
			out = append(out, token{colon: true})
			sawColon = true
		default:
			cur.WriteByte(c)
		}
	}
	emit()
	return out
}

func escape(path string) string {
	r := strings.NewReplacer(" ", `\ `, "#", `\#`, "$", "$$")
	return r.Replace(path)
}
