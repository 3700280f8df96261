package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sibylhq/sibyl/internal/application/agent"
)

// Calculator evaluates arithmetic expressions without calling the model.
func Calculator() *agent.Tool {
	return &agent.Tool{
		Name:        "calculator",
		Description: "Evaluates mathematical expressions. Supports basic operations (+, -, *, /), exponentiation (^), and functions like sqrt, sin, cos, tan, log, ln, abs, ceil, floor.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			result, err := evaluateExpression(input)
			if err != nil {
				return "", err
			}
			return formatNumber(result), nil
		},
	}
}

// formatNumber renders integers without a decimal point and everything
// else with up to ten significant digits.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// evaluateExpression is a small recursive evaluator: function prefixes
// first, then operators in reverse precedence order so the top split is
// the loosest-binding one. Nested parentheses inside operator expressions
// are not supported.
func evaluateExpression(expr string) (float64, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))

	if inner, ok := cutCall(expr, "sqrt"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		if val < 0 {
			return 0, fmt.Errorf("square root of negative number")
		}
		return math.Sqrt(val), nil
	}

	if inner, ok := cutCall(expr, "abs"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		return math.Abs(val), nil
	}

	if inner, ok := cutCall(expr, "sin"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		return math.Sin(val), nil
	}

	if inner, ok := cutCall(expr, "cos"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		return math.Cos(val), nil
	}

	if inner, ok := cutCall(expr, "tan"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		return math.Tan(val), nil
	}

	if inner, ok := cutCall(expr, "log"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		if val <= 0 {
			return 0, fmt.Errorf("logarithm of non-positive number")
		}
		return math.Log10(val), nil
	}

	if inner, ok := cutCall(expr, "ln"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		if val <= 0 {
			return 0, fmt.Errorf("logarithm of non-positive number")
		}
		return math.Log(val), nil
	}

	if inner, ok := cutCall(expr, "ceil"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		return math.Ceil(val), nil
	}

	if inner, ok := cutCall(expr, "floor"); ok {
		val, err := evaluateExpression(inner)
		if err != nil {
			return 0, err
		}
		return math.Floor(val), nil
	}

	if idx := lastOperator(expr, "+-"); idx > 0 {
		left, err := evaluateExpression(expr[:idx])
		if err != nil {
			return 0, err
		}
		right, err := evaluateExpression(expr[idx+1:])
		if err != nil {
			return 0, err
		}
		if expr[idx] == '+' {
			return left + right, nil
		}
		return left - right, nil
	}

	if idx := lastOperator(expr, "*/"); idx > 0 {
		left, err := evaluateExpression(expr[:idx])
		if err != nil {
			return 0, err
		}
		right, err := evaluateExpression(expr[idx+1:])
		if err != nil {
			return 0, err
		}
		if expr[idx] == '*' {
			return left * right, nil
		}
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	}

	// Exponentiation associates to the right.
	if strings.Contains(expr, "^") {
		parts := strings.SplitN(expr, "^", 2)
		base, err := evaluateExpression(parts[0])
		if err != nil {
			return 0, err
		}
		exp, err := evaluateExpression(parts[1])
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}

	val, err := strconv.ParseFloat(expr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %s", expr)
	}
	return val, nil
}

// lastOperator finds the rightmost of the given operator bytes, skipping
// signs: a '+' or '-' right after another operator or an exponent marker
// belongs to the number that follows it.
func lastOperator(expr string, ops string) int {
	for i := len(expr) - 1; i > 0; i-- {
		if !strings.ContainsRune(ops, rune(expr[i])) {
			continue
		}
		j := i - 1
		for j > 0 && expr[j] == ' ' {
			j--
		}
		switch expr[j] {
		case '+', '-', '*', '/', '^', 'e':
			continue
		}
		return i
	}
	return -1
}

// cutCall strips a name(...) wrapper, returning the inner expression.
func cutCall(expr, name string) (string, bool) {
	inner, ok := strings.CutPrefix(expr, name+"(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return "", false
	}
	return inner[:len(inner)-1], true
}
