package marker

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

var compareOps = []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("marker: parse %q: %s", p.src, fmt.Sprintf(format, args...))
}

func (p *parser) tokenize() error {
	s := p.src
	i := 0
scan:
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			p.toks = append(p.toks, token{tokLParen, "("})
			i++
		case c == ')':
			p.toks = append(p.toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return p.errorf("unterminated string")
			}
			p.toks = append(p.toks, token{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			p.toks = append(p.toks, token{tokWord, s[i:j]})
			i = j
		default:
			for _, op := range compareOps {
				if strings.HasPrefix(s[i:], op) {
					p.toks = append(p.toks, token{tokOp, op})
					i += len(op)
					continue scan
				}
			}
			return p.errorf("unexpected character %q", c)
		}
	}
	return nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) peekWord(word string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokWord && t.text == word
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for p.peekWord("or") {
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if or, ok := next.(orNode); ok {
			terms = append(terms, or.terms...)
			continue
		}
		terms = append(terms, next)
	}
	if or, ok := first.(orNode); ok && len(terms) > 1 {
		terms = append(append([]node(nil), or.terms...), terms[1:]...)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return orNode{terms: terms}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for p.peekWord("and") {
		p.pos++
		next, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return andNode{terms: terms}, nil
}

func (p *parser) parseAtom() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of expression")
	}
	if t.kind == tokLParen {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if left.variable == "" && right.variable == "" {
		return nil, p.errorf("comparison of two literals")
	}
	return compareNode{left: left, right: right, op: op}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t, ok := p.peek()
	if !ok {
		return operand{}, p.errorf("expected variable or string")
	}
	switch t.kind {
	case tokString:
		p.pos++
		return operand{literal: t.text}, nil
	case tokWord:
		name := strings.ReplaceAll(t.text, ".", "_")
		if !knownVariables[name] {
			return operand{}, p.errorf("unknown variable %q", t.text)
		}
		p.pos++
		return operand{variable: name}, nil
	}
	return operand{}, p.errorf("expected variable or string, got %q", t.text)
}

func (p *parser) parseOp() (string, error) {
	t, ok := p.peek()
	if !ok {
		return "", p.errorf("expected operator")
	}
	switch {
	case t.kind == tokOp:
		p.pos++
		return t.text, nil
	case t.kind == tokWord && t.text == "in":
		p.pos++
		return "in", nil
	case t.kind == tokWord && t.text == "not":
		p.pos++
		if !p.peekWord("in") {
			return "", p.errorf("expected 'in' after 'not'")
		}
		p.pos++
		return "not in", nil
	}
	return "", p.errorf("expected operator, got %q", t.text)
}
