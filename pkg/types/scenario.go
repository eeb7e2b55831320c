package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// StructuredScenario is a Given/When/Then triple extracted from an entity's
// documentation.
type StructuredScenario struct {
	Given string `json:"given"`
	When  string `json:"when"`
	Then  string `json:"then"`
}

// Validate requires all three clauses.
func (s *StructuredScenario) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Given) == "" {
		missing = append(missing, "Given")
	}
	if strings.TrimSpace(s.When) == "" {
		missing = append(missing, "When")
	}
	if strings.TrimSpace(s.Then) == "" {
		missing = append(missing, "Then")
	}
	if len(missing) > 0 {
		return fmt.Errorf("scenario is missing %s clause", strings.Join(missing, "/"))
	}
	return nil
}

// String renders the scenario in its documentation form.
func (s StructuredScenario) String() string {
	return "Given " + s.Given + "\nWhen " + s.When + "\nThen " + s.Then
}

// ErrIncompleteScenario is returned by ParseScenarios when a scenario lacks a clause.
var ErrIncompleteScenario = errors.New("incomplete scenario")

type clause int

const (
	clauseNone clause = iota
	clauseGiven
	clauseWhen
	clauseThen
)

var (
	keywordRe = regexp.MustCompile(`^(?i)(given|when|then|and|but)\b[:\s]*`)
	inlineRe  = regexp.MustCompile(`([.!?])\s+(Given|When|Then|And|But)\b`)
)

// ParseScenarios extracts Given/When/Then scenarios from documentation text.
// A Given line opens a new scenario, When and Then fill it, And/But lines and
// plain continuation lines extend the clause before them. Text preceding the
// first Given is free description and is ignored.
func ParseScenarios(doc string) ([]StructuredScenario, error) {
	var (
		out     []StructuredScenario
		cur     *StructuredScenario
		last    clause
		started bool
	)

	flush := func() error {
		if cur == nil {
			return nil
		}
		if err := cur.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrIncompleteScenario, err)
		}
		out = append(out, *cur)
		cur = nil
		return nil
	}

	appendTo := func(c clause, text string, sep string) {
		if cur == nil || text == "" {
			return
		}
		var field *string
		switch c {
		case clauseGiven:
			field = &cur.Given
		case clauseWhen:
			field = &cur.When
		case clauseThen:
			field = &cur.Then
		default:
			return
		}
		if *field == "" {
			*field = text
		} else {
			*field += sep + text
		}
	}

	for _, line := range splitScenarioLines(doc) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := keywordRe.FindStringSubmatch(line)
		if m == nil {
			if started {
				appendTo(last, line, " ")
			}
			continue
		}
		rest := strings.TrimSpace(line[len(m[0]):])
		switch strings.ToLower(m[1]) {
		case "given":
			if err := flush(); err != nil {
				return nil, err
			}
			cur = &StructuredScenario{}
			started = true
			last = clauseGiven
			appendTo(last, rest, " ")
		case "when":
			if !started {
				continue
			}
			if cur == nil || cur.Then != "" {
				if err := flush(); err != nil {
					return nil, err
				}
				cur = &StructuredScenario{}
			}
			last = clauseWhen
			appendTo(last, rest, " ")
		case "then":
			if !started {
				continue
			}
			if cur == nil {
				cur = &StructuredScenario{}
			}
			last = clauseThen
			appendTo(last, rest, " ")
		default:
			if started {
				appendTo(last, rest, " and ")
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// splitScenarioLines breaks documentation into lines and additionally splits
// sentences that start a new clause on the same line.
func splitScenarioLines(doc string) []string {
	var lines []string
	for _, raw := range strings.Split(doc, "\n") {
		idx := inlineRe.FindAllStringSubmatchIndex(raw, -1)
		if len(idx) == 0 {
			lines = append(lines, raw)
			continue
		}
		start := 0
		for _, m := range idx {
			// m[3] is the end of the sentence punctuation, m[4] the keyword start.
			lines = append(lines, raw[start:m[3]])
			start = m[4]
		}
		lines = append(lines, raw[start:])
	}
	return lines
}
