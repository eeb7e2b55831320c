package synth

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/scenariogen/internal/embedder"
)

var (
	literalRe = regexp.MustCompile(`"([^"]*)"|“([^”]*)”`)
	numberRe  = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?|zero|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b`)
	timesRe   = regexp.MustCompile(`(?i)^\s*(?:x\b|×|times\b)`)
	negateRe  = regexp.MustCompile(`(?i)\b(?:not|no longer|isn't|aren't|doesn't|never)\b`)
)

var numberWords = map[string]int64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "it": true, "its": true, "in": true,
	"into": true, "on": true, "of": true, "to": true, "is": true, "are": true, "was": true,
	"be": true, "with": true, "and": true, "or": true, "that": true, "this": true,
	"there": true, "some": true, "my": true, "we": true, "you": true, "has": true,
	"have": true, "new": true, "for": true, "from": true, "at": true, "by": true,
}

// Verb groups for mutating calls: a clause using any verb of a group may
// call a method named after any member of it.
var verbGroups = [][]string{
	{"add", "place", "put", "insert", "push", "append", "store", "include", "emplace"},
	{"remove", "take", "delete", "erase", "pop", "extract", "drop"},
	{"clear", "empty", "reset", "flush"},
}

// Query methods reporting a quantity, and the clause words that ask for one.
var (
	quantityNames = []string{"count", "size", "length", "len", "total", "number", "num"}
	quantityWords = map[string]bool{
		"contain": true, "hold": true, "item": true, "element": true, "entry": true,
		"count": true, "size": true, "number": true, "total": true, "length": true,
		"empty": true, "no": true, "nothing": true, "none": true,
	}
	emptinessWords = map[string]bool{"empty": true, "no": true, "nothing": true, "none": true}
)

type number struct {
	value   float64
	integer bool
	pos     int
}

// clause is the lexical analysis of one Given/When/Then sentence.
type clause struct {
	text     string
	words    []string
	wordSet  map[string]bool
	literals []string
	numbers  []number
	// count is the multiplicity written as "2 x" or "3 times", 1 when absent.
	count int64
}

func analyze(text string) *clause {
	c := &clause{text: text, count: 1, wordSet: make(map[string]bool)}
	for _, m := range literalRe.FindAllStringSubmatch(text, -1) {
		lit := m[1]
		if lit == "" {
			lit = m[2]
		}
		c.literals = append(c.literals, lit)
	}
	// Blank the literals so their content is not read as words or numbers.
	bare := literalRe.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Repeat(" ", len(s))
	})

	for _, w := range embedder.Tokenize(bare) {
		w = singular(w)
		c.words = append(c.words, w)
		c.wordSet[w] = true
	}

	countPos := -1
	for _, m := range numberRe.FindAllStringSubmatchIndex(bare, -1) {
		raw := strings.ToLower(bare[m[2]:m[3]])
		n := number{pos: m[0]}
		if v, ok := numberWords[raw]; ok {
			n.value, n.integer = float64(v), true
		} else if v, err := strconv.ParseFloat(raw, 64); err == nil {
			n.value, n.integer = v, !strings.Contains(raw, ".")
		} else {
			continue
		}
		if countPos < 0 && n.integer && timesRe.MatchString(bare[m[1]:]) {
			countPos = n.pos
			c.count = int64(n.value)
			continue
		}
		c.numbers = append(c.numbers, n)
	}
	return c
}

func (c *clause) has(words ...string) bool {
	for _, w := range words {
		if c.wordSet[w] {
			return true
		}
	}
	return false
}

// names reports whether every token of identifier occurs in the clause.
func (c *clause) names(identifier string) bool {
	toks := nameTokens(identifier)
	if len(toks) == 0 {
		return false
	}
	for _, t := range toks {
		if !c.wordSet[t] {
			return false
		}
	}
	return true
}

func (c *clause) negated() bool {
	return negateRe.MatchString(c.text)
}

// contentWords are the clause words minus stopwords, deduplicated.
func (c *clause) contentWords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range c.words {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func nameTokens(identifier string) []string {
	toks := embedder.Tokenize(identifier)
	for i, t := range toks {
		toks[i] = singular(t)
	}
	return toks
}

// singular folds common English plurals so "fruits" matches Fruit.
func singular(w string) string {
	switch {
	case len(w) <= 3 || strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "ies"):
		return strings.TrimSuffix(w, "ies") + "y"
	case strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "sses"):
		return strings.TrimSuffix(w, "es")
	case strings.HasSuffix(w, "s"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// comparison finds the relational phrase of a Then clause.
func comparison(text string) string {
	lower := strings.ToLower(text)
	for _, p := range []struct{ phrase, op string }{
		{"no more than", "<="},
		{"no fewer than", ">="},
		{"no less than", ">="},
		{"at least", ">="},
		{"at most", "<="},
		{"more than", ">"},
		{"greater than", ">"},
		{"fewer than", "<"},
		{"less than", "<"},
	} {
		if strings.Contains(lower, p.phrase) {
			return p.op
		}
	}
	return "=="
}

// splitConjunction splits a clause on "and" joining independent
// statements. Quoted text is never split.
func splitConjunction(text string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	fields := strings.Fields(text)
	for _, f := range fields {
		if strings.Count(f, `"`)%2 == 1 {
			inQuote = !inQuote
		}
		if !inQuote && strings.EqualFold(f, "and") && cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(f)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
