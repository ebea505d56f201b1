// Package filter implements the filter-expression language shared by
// the status, kill and rerun subcommands. An expression compiles to a
// Matcher closure over a job.Job, the same composable-predicate shape
// cmd/cocofarm/addr.go's AddressMatcher used for matching worker
// addresses against worker groups.
package filter

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"tpar/job"
)

// Matcher reports whether a job satisfies a filter.
type Matcher func(job.Job) bool

// All matches every job; it is what an empty filter expression compiles
// to.
func All(job.Job) bool { return true }

// Parse compiles a JobMatch expression. An empty or all-whitespace
// expression returns All.
//
// Grammar:
//
//	expr  := term (("and"|"or") term)*
//	term  := "not" term | "(" expr ")" | atom
//	atom  := "id:" INT | "name:" GLOB | "state:" STATE
func Parse(expr string) (Matcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All, nil
	}
	toks := tokenize(expr)
	p := &parser{toks: toks}
	m, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("filter: unexpected token %q", p.toks[p.pos])
	}
	return m, nil
}

func tokenize(expr string) []string {
	expr = strings.ReplaceAll(expr, "(", " ( ")
	expr = strings.ReplaceAll(expr, ")", " ) ")
	return strings.Fields(expr)
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (string, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

func (p *parser) parseExpr() (Matcher, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok {
			return left, nil
		}
		switch strings.ToLower(tok) {
		case "and":
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			l := left
			r := right
			left = func(j job.Job) bool { return l(j) && r(j) }
		case "or":
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			l := left
			r := right
			left = func(j job.Job) bool { return l(j) || r(j) }
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (Matcher, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("filter: unexpected end of expression")
	}
	switch strings.ToLower(tok) {
	case "not":
		p.next()
		m, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return func(j job.Job) bool { return !m(j) }, nil
	case "(":
		p.next()
		m, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closeTok, ok := p.next()
		if !ok || closeTok != ")" {
			return nil, fmt.Errorf("filter: missing closing paren")
		}
		return m, nil
	default:
		return p.parseAtom()
	}
}

func (p *parser) parseAtom() (Matcher, error) {
	tok, _ := p.next()
	key, val, ok := strings.Cut(tok, ":")
	if !ok {
		return nil, fmt.Errorf("filter: expected id:/name:/state: atom, got %q", tok)
	}
	switch strings.ToLower(key) {
	case "id":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("filter: invalid id %q: %w", val, err)
		}
		id := job.ID(n)
		return func(j job.Job) bool { return j.ID == id }, nil
	case "name":
		pattern := val
		return func(j job.Job) bool {
			ok, _ := filepath.Match(pattern, j.Request.Name)
			return ok
		}, nil
	case "state":
		kind, err := job.ParseStateKind(strings.ToLower(val))
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		return func(j job.Job) bool { return j.State.Kind == kind }, nil
	default:
		return nil, fmt.Errorf("filter: unknown atom key %q", key)
	}
}
