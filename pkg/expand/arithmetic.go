package expand

import (
	"math"
	"strconv"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

// number keeps integer results exact and only falls back to float on inexact division
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func intNumber(i int64) number { return number{i: i, f: float64(i)} }

func floatNumber(f float64) number { return number{f: f, isFloat: true} }

func (n number) String() string {
	if !n.isFloat {
		return strconv.FormatInt(n.i, 10)
	}
	if n.f == math.Trunc(n.f) && math.Abs(n.f) < 1e15 {
		return strconv.FormatInt(int64(n.f), 10)
	}
	return strconv.FormatFloat(n.f, 'f', -1, 64)
}

// Evaluate computes an expression made of digits and + - * / // % ** only.
// Operators follow the usual precedence, % and // floor towards negative infinity.
func Evaluate(expr string) (string, error) {
	p := &arithmeticParser{src: expr}
	value, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.src) {
		return "", p.fail("unexpected character")
	}
	return value.String(), nil
}

type arithmeticParser struct {
	src string
	pos int
}

func (p *arithmeticParser) fail(message string) error {
	return errors.NewConfigurationError("invalid arithmetic expression: "+message, nil).
		WithContext("expression", p.src).
		WithContext("position", p.pos)
}

func (p *arithmeticParser) peek(op string) bool {
	return len(p.src)-p.pos >= len(op) && p.src[p.pos:p.pos+len(op)] == op
}

func (p *arithmeticParser) parseExpr() (number, error) {
	left, err := p.parseTerm()
	if err != nil {
		return number{}, err
	}
	for p.pos < len(p.src) {
		op := p.src[p.pos]
		if op != '+' && op != '-' {
			break
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return number{}, err
		}
		if op == '+' {
			left = add(left, right)
		} else {
			left = add(left, negate(right))
		}
	}
	return left, nil
}

func (p *arithmeticParser) parseTerm() (number, error) {
	left, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}
	for p.pos < len(p.src) {
		var op string
		switch {
		case p.peek("**"):
			return left, nil
		case p.peek("//"):
			op = "//"
		case p.peek("*"), p.peek("/"), p.peek("%"):
			op = p.src[p.pos : p.pos+1]
		default:
			return left, nil
		}
		p.pos += len(op)
		right, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		if left, err = p.apply(op, left, right); err != nil {
			return number{}, err
		}
	}
	return left, nil
}

func (p *arithmeticParser) parseUnary() (number, error) {
	if p.peek("-") {
		p.pos++
		value, err := p.parseUnary()
		return negate(value), err
	}
	if p.peek("+") {
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *arithmeticParser) parsePower() (number, error) {
	base, err := p.parseAtom()
	if err != nil {
		return number{}, err
	}
	if !p.peek("**") {
		return base, nil
	}
	p.pos += 2
	exponent, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}
	if !base.isFloat && !exponent.isFloat && exponent.i >= 0 {
		result := int64(1)
		for k := int64(0); k < exponent.i; k++ {
			result *= base.i
		}
		return intNumber(result), nil
	}
	return floatNumber(math.Pow(base.f, exponent.f)), nil
}

func (p *arithmeticParser) parseAtom() (number, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return number{}, p.fail("expected digits")
	}
	i, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
	if err != nil {
		return number{}, p.fail("number out of range")
	}
	return intNumber(i), nil
}

func (p *arithmeticParser) apply(op string, l, r number) (number, error) {
	if op == "*" {
		if !l.isFloat && !r.isFloat {
			return intNumber(l.i * r.i), nil
		}
		return floatNumber(l.f * r.f), nil
	}

	if r.f == 0 {
		return number{}, p.fail("division by zero")
	}

	switch op {
	case "/":
		if !l.isFloat && !r.isFloat && l.i%r.i == 0 {
			return intNumber(l.i / r.i), nil
		}
		return floatNumber(l.f / r.f), nil
	case "//":
		if !l.isFloat && !r.isFloat {
			return intNumber(floorDiv(l.i, r.i)), nil
		}
		return floatNumber(math.Floor(l.f / r.f)), nil
	default:
		if !l.isFloat && !r.isFloat {
			return intNumber(l.i - floorDiv(l.i, r.i)*r.i), nil
		}
		return floatNumber(l.f - math.Floor(l.f/r.f)*r.f), nil
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func add(l, r number) number {
	if !l.isFloat && !r.isFloat {
		return intNumber(l.i + r.i)
	}
	return floatNumber(l.f + r.f)
}

func negate(n number) number {
	if n.isFloat {
		return floatNumber(-n.f)
	}
	return intNumber(-n.i)
}
