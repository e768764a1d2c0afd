package tools

import (
	"math"
	"strings"
	"testing"
)

func TestEvalExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float64
	}{
		{"addition", "2+3", 5},
		{"precedence", "2+3*4", 14},
		{"parentheses", "(2+3)*4", 20},
		{"division", "10/4", 2.5},
		{"modulo", "10%3", 1},
		{"power", "2^10", 1024},
		{"power right associative", "2^3^2", 512},
		{"unary minus", "-5+3", -2},
		{"double unary", "--5", 5},
		{"unary plus", "+5", 5},
		{"nested groups", "((1+2)*(3+4))", 21},
		{"whitespace", "  2  +  3 ", 5},
		{"decimals", "0.1+0.2", 0.3},
		{"scientific notation", "1e3+1", 1001},
		{"negative exponent", "2.5e-1*4", 1},
		{"mixed", "3 + 4 * 2 / (1 - 5) ^ 2", 3.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalExpression(tt.expr)
			if err != nil {
				t.Fatalf("evalExpression(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("evalExpression(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"division by zero", "1/0", "division by zero"},
		{"modulo by zero", "1%0", "modulo by zero"},
		{"empty", "", "unexpected end"},
		{"dangling operator", "2+", "unexpected end"},
		{"unclosed paren", "(1+2", "closing parenthesis"},
		{"trailing garbage", "2+3 abc", "unexpected"},
		{"letters", "two plus two", "unexpected"},
		{"bad number", "1..2", "invalid number"},
		{"overflow to infinity", "10^10^10", "finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalExpression(tt.expr)
			if err == nil {
				t.Fatalf("evalExpression(%q) succeeded, expected %q error", tt.expr, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("evalExpression(%q) = %v, expected it to mention %q", tt.expr, err, tt.wantErr)
			}
		})
	}
}
