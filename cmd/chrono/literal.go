package main

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"chrono/runtime-go/pkg/runtime"
)

// parseLiteral reads a single shell value literal: nil, true, false,
// integers, floats, double-quoted strings, [elem, ...] arrays, and
// {key: value, ...} maps.
func parseLiteral(input string) (runtime.Value, error) {
	p := &literalParser{src: input}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected trailing input %q", p.src[p.pos:])
	}
	return v, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) parseValue() (runtime.Value, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == 0:
		return nil, fmt.Errorf("expected a value")
	case c == '[':
		return p.parseArray()
	case c == '{':
		return p.parseMap()
	case c == '"':
		return p.parseString()
	default:
		return p.parseBareword()
	}
}

func (p *literalParser) parseArray() (runtime.Value, error) {
	p.pos++ // consume '['
	arr := runtime.NewArray()
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return arr, nil
	}
	for {
		elem, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, elem)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return arr, nil
		default:
			return nil, fmt.Errorf("expected ',' or ']' at offset %d", p.pos)
		}
	}
}

func (p *literalParser) parseMap() (runtime.Value, error) {
	p.pos++ // consume '{'
	m := runtime.NewMap()
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return m, nil
	}
	for {
		p.skipSpace()
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, fmt.Errorf("expected ':' after map key %q", key)
		}
		p.pos++
		elem, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		m.Entries[key] = elem
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return m, nil
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *literalParser) parseKey() (string, error) {
	if p.peek() == '"' {
		v, err := p.parseString()
		if err != nil {
			return "", err
		}
		return v.(runtime.StringValue).Val, nil
	}
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ':' || c == ',' || c == '}' || unicode.IsSpace(rune(c)) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected map key at offset %d", start)
	}
	return p.src[start:p.pos], nil
}

func (p *literalParser) parseString() (runtime.Value, error) {
	start := p.pos
	p.pos++ // consume opening quote
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			p.pos++
			unquoted, err := strconv.Unquote(p.src[start:p.pos])
			if err != nil {
				return nil, fmt.Errorf("bad string literal %s: %w", p.src[start:p.pos], err)
			}
			return runtime.StringValue{Val: unquoted}, nil
		default:
			p.pos++
		}
	}
	return nil, fmt.Errorf("unterminated string literal")
}

func (p *literalParser) parseBareword() (runtime.Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ',' || c == ']' || c == '}' || c == ':' || unicode.IsSpace(rune(c)) {
			break
		}
		p.pos++
	}
	word := p.src[start:p.pos]
	switch word {
	case "":
		return nil, fmt.Errorf("expected a value at offset %d", start)
	case "nil":
		return runtime.NilValue{}, nil
	case "true":
		return runtime.BoolValue{Val: true}, nil
	case "false":
		return runtime.BoolValue{Val: false}, nil
	}
	if n, ok := new(big.Int).SetString(word, 10); ok {
		return runtime.IntegerValue{Val: n}, nil
	}
	if strings.ContainsAny(word, ".eE") {
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			return runtime.FloatValue{Val: f}, nil
		}
	}
	return nil, fmt.Errorf("unrecognised literal %q", word)
}
