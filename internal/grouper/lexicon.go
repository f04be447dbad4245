package grouper

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Attribute names produced by the default lexicon.
const (
	AttrSize     = "Size"
	AttrPack     = "Pack"
	AttrColor    = "Color"
	AttrScent    = "Scent"
	AttrShade    = "Shade"
	AttrStrength = "Strength"
	AttrFinish   = "Finish"
	AttrGender   = "Gender"
	AttrOption   = "Option"
)

// Match is a variant-attribute span found in a display name. Start and End
// are byte offsets into the name.
type Match struct {
	Attribute string
	Value     string
	Start     int
	End       int
}

// Classifier recognises variant-attribute tokens in product names.
type Classifier interface {
	// Classify reports the attribute name of a single token.
	Classify(token string) (string, bool)
	// Match returns the non-overlapping attribute spans of name ordered by
	// position.
	Match(name string) []Match
}

type patternRule struct {
	attr string
	re   *regexp.Regexp
}

// Lexicon is a Classifier driven by multi-token regular expressions and a
// keyword table. Patterns are tried first, in insertion order; remaining
// whitespace-separated tokens are looked up as keywords. A Lexicon must not
// be modified once it is in use.
type Lexicon struct {
	patterns []patternRule
	keywords map[string]string
}

// NewLexicon returns an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{keywords: make(map[string]string)}
}

// AddPattern registers a case-insensitive pattern for attr.
func (l *Lexicon) AddPattern(attr, expr string) error {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return eris.Wrapf(err, "grouper: compile pattern for %s", attr)
	}
	l.patterns = append(l.patterns, patternRule{attr: attr, re: re})
	return nil
}

// AddKeywords registers single-token keywords for attr. A keyword already
// bound to another attribute is rebound to attr.
func (l *Lexicon) AddKeywords(attr string, words ...string) {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			l.keywords[w] = attr
		}
	}
}

// Classify implements Classifier.
func (l *Lexicon) Classify(token string) (string, bool) {
	token = trimToken(token)
	if token == "" {
		return "", false
	}
	if attr, ok := l.keywords[strings.ToLower(token)]; ok {
		return attr, true
	}
	for _, p := range l.patterns {
		loc := p.re.FindStringIndex(token)
		if loc != nil && loc[0] == 0 && loc[1] == len(token) {
			return p.attr, true
		}
	}
	return "", false
}

var tokenRe = regexp.MustCompile(`\S+`)

// Match implements Classifier.
func (l *Lexicon) Match(name string) []Match {
	var matches []Match
	overlaps := func(start, end int) bool {
		for _, m := range matches {
			if start < m.End && end > m.Start {
				return true
			}
		}
		return false
	}

	for _, p := range l.patterns {
		for _, loc := range p.re.FindAllStringIndex(name, -1) {
			if loc[0] == loc[1] || overlaps(loc[0], loc[1]) {
				continue
			}
			matches = append(matches, Match{
				Attribute: p.attr,
				Value:     patternValue(name[loc[0]:loc[1]]),
				Start:     loc[0],
				End:       loc[1],
			})
		}
	}

	for _, loc := range tokenRe.FindAllStringIndex(name, -1) {
		raw := name[loc[0]:loc[1]]
		tok := trimToken(raw)
		if tok == "" {
			continue
		}
		start := loc[0] + strings.Index(raw, tok)
		end := start + len(tok)
		if overlaps(start, end) {
			continue
		}
		attr, ok := l.keywords[strings.ToLower(tok)]
		if !ok {
			continue
		}
		matches = append(matches, Match{Attribute: attr, Value: tok, Start: start, End: end})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return mergeAdjacent(name, matches)
}

// mergeAdjacent joins consecutive matches of the same attribute separated
// only by whitespace, e.g. "Rose Gold".
func mergeAdjacent(name string, matches []Match) []Match {
	if len(matches) < 2 {
		return matches
	}
	out := matches[:1]
	for _, m := range matches[1:] {
		prev := &out[len(out)-1]
		if prev.Attribute == m.Attribute && strings.TrimSpace(name[prev.End:m.Start]) == "" {
			prev.Value += " " + m.Value
			prev.End = m.End
			continue
		}
		out = append(out, m)
	}
	return out
}

func patternValue(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return strings.Join(strings.Fields(s), " ")
}

func trimToken(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#' && r != '%'
	})
}

// DefaultLexicon returns the built-in lexicon.
func DefaultLexicon() *Lexicon {
	l := NewLexicon()
	for _, p := range defaultPatterns {
		if err := l.AddPattern(p.attr, p.expr); err != nil {
			panic(err)
		}
	}
	for attr, words := range defaultKeywords {
		l.AddKeywords(attr, words...)
	}
	return l
}

var defaultPatterns = []struct {
	attr string
	expr string
}{
	{AttrPack, `\b\d+\s*(?:pack|pk|pcs|pieces|count|ct)\b`},
	{AttrPack, `\bpack\s+of\s+\d+\b`},
	{AttrSize, `\b\d+(?:[.,]\d+)?\s*(?:fl\.?\s?oz|ml|cl|mg|kg|g|oz|lb|l)\b`},
	{AttrStrength, `\bspf\s*\d+\+?`},
	{AttrStrength, `\b\d+(?:[.,]\d+)?\s*%`},
	{AttrShade, `#\s?\d+\b`},
	{AttrShade, `\bshade\s+\d+\b`},
	{AttrOption, `\([^)]*\)`},
}

var defaultKeywords = map[string][]string{
	AttrSize: {"xs", "s", "m", "l", "xl", "xxl", "small", "medium", "large"},
	AttrColor: {
		"black", "white", "red", "blue", "green", "yellow", "pink", "purple",
		"brown", "gray", "grey", "beige", "nude", "clear", "gold", "silver",
		"orange", "coral", "burgundy", "ivory", "navy",
	},
	AttrScent: {
		"vanilla", "chocolate", "mint", "rose", "lavender", "coconut", "lemon",
		"berry", "fruit", "strawberry", "peach", "apple", "cherry", "jasmine",
		"musk", "citrus", "oud", "honey", "aloe", "unscented",
	},
	AttrShade:    {"light", "dark", "fair", "deep", "tan"},
	AttrFinish:   {"matte", "glossy", "gloss", "shimmer", "metallic", "satin"},
	AttrStrength: {"mild", "regular", "strong", "intense"},
	AttrGender: {
		"men", "mens", "men's", "women", "womens", "women's", "unisex",
		"kids", "baby", "boys", "girls",
	},
}

// lexiconFile is the YAML form accepted by LoadLexicon.
type lexiconFile struct {
	Replace  bool                `yaml:"replace"`
	Patterns map[string][]string `yaml:"patterns"`
	Keywords map[string][]string `yaml:"keywords"`
}

// LoadLexicon reads a lexicon YAML file. Entries extend the default lexicon
// unless the file sets replace: true. File patterns are tried after the
// built-in ones.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grouper: read lexicon %s", path)
	}
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "grouper: parse lexicon")
	}

	l := DefaultLexicon()
	if f.Replace {
		l = NewLexicon()
	}

	for _, attr := range sortedKeys(f.Patterns) {
		for _, expr := range f.Patterns[attr] {
			if err := l.AddPattern(attr, expr); err != nil {
				return nil, err
			}
		}
	}
	for _, attr := range sortedKeys(f.Keywords) {
		l.AddKeywords(attr, f.Keywords[attr]...)
	}
	return l, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
