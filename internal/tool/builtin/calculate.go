package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/types"
)

var _ tool.Tool = (*CalculateTool)(nil)

// CalculateTool evaluates arithmetic expressions so the model does not have
// to do mental math out loud.
type CalculateTool struct{}

// Definition implements tool.Tool.
func (t *CalculateTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression with +, -, *, /, %, ** (or ^) for powers, parentheses and decimal numbers, e.g. \"(3 + 4) * 2.5\".",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The expression to evaluate",
				},
			},
			"required": []any{"expression"},
		},
	}
}

// Invoke implements tool.Tool.
func (t *CalculateTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	expr, _ := args["expression"].(string)
	if strings.TrimSpace(expr) == "" {
		return "", errors.New("builtin: expression must not be empty")
	}

	v, err := evaluate(expr)
	if err != nil {
		return "", fmt.Errorf("builtin: evaluate %q: %w", expr, err)
	}
	return formatNumber(v), nil
}

// formatNumber prints integers without a decimal point and everything else
// with up to 10 significant digits.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// ─── expression parser ──────────────────────────────────────────────────────

// evaluate parses and computes a standard infix arithmetic expression using
// recursive descent: expr := term (('+'|'-') term)*, term := unary
// (('*'|'/'|'%') unary)*, unary := '-'* power, power := primary
// [('**'|'^') unary], primary := number | '(' expr ')'.
func evaluate(input string) (float64, error) {
	p := &parser{input: input}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			v *= rhs
		case '/':
			if rhs == 0 {
				return 0, errors.New("division by zero")
			}
			v /= rhs
		case '%':
			if rhs == 0 {
				return 0, errors.New("modulo by zero")
			}
			v = math.Mod(v, rhs)
		}
	}
}

func (p *parser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePower()
}

// parsePower handles '**' and '^'. Exponentiation binds tighter than unary
// minus and associates to the right, so -2**2 is -4 and 2**3**2 is 512.
func (p *parser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	switch {
	case p.peek() == '*' && p.peekAt(1) == '*':
		p.pos += 2
	case p.peek() == '^':
		p.pos++
	default:
		return base, nil
	}
	exp, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) parsePrimary() (float64, error) {
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return v, nil
}

func (p *parser) peek() byte {
	return p.peekAt(0)
}

func (p *parser) peekAt(off int) byte {
	if p.pos+off >= len(p.input) {
		return 0
	}
	return p.input[p.pos+off]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}
