// Package generator produces random passwords from a small pattern language.
//
// A pattern is a run of directives. Each directive is one token character,
// optionally followed by *N to repeat it N times:
//
//	w  lowercase word         W  capitalized word
//	n  digit                  s  literal "-"
//	r  letter or digit        a  letter or digit
//	S  special character
//
// For example "Ws*2n*4" yields something like "Canyon--4821".
package generator

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxUnits bounds the total number of units a single pattern may expand to.
const MaxUnits = 4096

const (
	digits       = "0123456789"
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" + digits
	special      = "!@#$%^&*()_+[]{}?"
	separator    = "-"
)

var words = []string{
	"sage",
	"valley",
	"trail",
	"river",
	"pine",
	"willow",
	"summit",
	"canyon",
}

// Words returns a copy of the list w and W draw from.
func Words() []string {
	return append([]string(nil), words...)
}

// PatternError reports a pattern that cannot be parsed.
type PatternError struct {
	Pattern string
	Pos     int
	Msg     string
}

func (e *PatternError) Error() string {
	if e.Pattern == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Pos)
}

type Generator struct {
	rand io.Reader
}

// New returns a Generator drawing from r, or crypto/rand when r is nil.
func New(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

var defaultGenerator = New(nil)

func Generate(pattern string) (string, error) {
	return defaultGenerator.Generate(pattern)
}

type directive struct {
	token rune
	count int
}

func (g *Generator) Generate(pattern string) (string, error) {
	directives, err := parse(pattern)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, d := range directives {
		for i := 0; i < d.count; i++ {
			if err := g.emit(&b, d.token); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}

func parse(pattern string) ([]directive, error) {
	if pattern == "" {
		return nil, &PatternError{Msg: "pattern cannot be empty"}
	}

	var (
		out   []directive
		total int
	)
	for i := 0; i < len(pattern); {
		token, size := utf8.DecodeRuneInString(pattern[i:])
		pos := i
		i += size

		if !supported(token) {
			return nil, &PatternError{Pattern: pattern, Pos: pos, Msg: fmt.Sprintf("unsupported token %q", token)}
		}

		count := 1
		if i < len(pattern) && pattern[i] == '*' {
			i++
			start := i
			for i < len(pattern) && pattern[i] >= '0' && pattern[i] <= '9' {
				i++
			}
			if start == i {
				return nil, &PatternError{Pattern: pattern, Pos: start, Msg: "missing multiplier after '*'"}
			}
			n, err := strconv.Atoi(pattern[start:i])
			if err != nil || n > MaxUnits {
				return nil, &PatternError{Pattern: pattern, Pos: start, Msg: fmt.Sprintf("multiplier exceeds %d", MaxUnits)}
			}
			if n <= 0 {
				return nil, &PatternError{Pattern: pattern, Pos: start, Msg: "multiplier must be positive"}
			}
			count = n
		}

		total += count
		if total > MaxUnits {
			return nil, &PatternError{Pattern: pattern, Pos: pos, Msg: fmt.Sprintf("pattern expands past %d units", MaxUnits)}
		}
		out = append(out, directive{token: token, count: count})
	}
	return out, nil
}

func supported(token rune) bool {
	switch token {
	case 'w', 'W', 'n', 's', 'r', 'a', 'S':
		return true
	}
	return false
}

func (g *Generator) emit(b *strings.Builder, token rune) error {
	switch token {
	case 'w':
		word, err := g.pickWord()
		if err != nil {
			return err
		}
		b.WriteString(word)
	case 'W':
		word, err := g.pickWord()
		if err != nil {
			return err
		}
		b.WriteString(strings.ToUpper(word[:1]) + word[1:])
	case 'n':
		return g.pickChar(b, digits)
	case 's':
		b.WriteString(separator)
	case 'r', 'a':
		return g.pickChar(b, alphanumeric)
	case 'S':
		return g.pickChar(b, special)
	}
	return nil
}

func (g *Generator) pickWord() (string, error) {
	i, err := g.intn(len(words))
	if err != nil {
		return "", err
	}
	return words[i], nil
}

func (g *Generator) pickChar(b *strings.Builder, charset string) error {
	i, err := g.intn(len(charset))
	if err != nil {
		return err
	}
	b.WriteByte(charset[i])
	return nil
}

func (g *Generator) intn(n int) (int, error) {
	v, err := rand.Int(g.rand, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("reading randomness: %w", err)
	}
	return int(v.Int64()), nil
}
