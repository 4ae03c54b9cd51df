// Package expr evaluates arithmetic expressions over complex numbers, as
// used for the numeric fields of a magnetic model. Expressions are parsed
// with the Go parser, so the accepted syntax is Go expression syntax with
// the addition that ^ denotes exponentiation.
package expr

import (
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"math/cmplx"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var funcs = map[string]func(complex128) complex128{
	"sin":   cmplx.Sin,
	"cos":   cmplx.Cos,
	"tan":   cmplx.Tan,
	"asin":  cmplx.Asin,
	"acos":  cmplx.Acos,
	"atan":  cmplx.Atan,
	"sinh":  cmplx.Sinh,
	"cosh":  cmplx.Cosh,
	"tanh":  cmplx.Tanh,
	"sqrt":  cmplx.Sqrt,
	"exp":   cmplx.Exp,
	"log":   cmplx.Log,
	"abs":   func(z complex128) complex128 { return complex(cmplx.Abs(z), 0) },
	"re":    func(z complex128) complex128 { return complex(real(z), 0) },
	"im":    func(z complex128) complex128 { return complex(imag(z), 0) },
	"conj":  cmplx.Conj,
	"arg":   func(z complex128) complex128 { return complex(cmplx.Phase(z), 0) },
}

var consts = map[string]complex128{
	"pi": complex(math.Pi, 0),
	"e":  complex(math.E, 0),
}

// Expr is a parsed expression ready for evaluation.
type Expr struct {
	src  string
	node ast.Expr
}

// Parse compiles the expression source.
func Parse(src string) (*Expr, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse expression %q", src)
	}
	return &Expr{src: src, node: rewritePow(node)}, nil
}

// rewritePow re-associates ^ nodes. The Go parser gives ^ the precedence
// of +, while exponentiation has to bind tighter than any other operator
// and associate to the right.
func rewritePow(node ast.Expr) ast.Expr {
	switch n := node.(type) {
	case *ast.ParenExpr:
		n.X = rewritePow(n.X)
	case *ast.UnaryExpr:
		n.X = rewritePow(n.X)
	case *ast.CallExpr:
		for i := range n.Args {
			n.Args[i] = rewritePow(n.Args[i])
		}
	case *ast.BinaryExpr:
		n.X = rewritePow(n.X)
		n.Y = rewritePow(n.Y)
		if n.Op == token.XOR {
			return liftPow(n.X, n.Y)
		}
	}
	return node
}

// liftPow builds l^r so that the exponentiation only grabs the nearest
// operands: looser-binding operators in l and r are moved outside.
// Parentheses keep their grouping.
func liftPow(l, r ast.Expr) ast.Expr {
	if lb, ok := l.(*ast.BinaryExpr); ok {
		return &ast.BinaryExpr{Op: lb.Op, X: lb.X, Y: liftPow(lb.Y, r)}
	}
	if rb, ok := r.(*ast.BinaryExpr); ok {
		return &ast.BinaryExpr{Op: rb.Op, X: liftPow(l, rb.X), Y: rb.Y}
	}
	return &ast.BinaryExpr{Op: token.XOR, X: l, Y: r}
}

// Eval evaluates the expression with the given variable bindings.
func (e *Expr) Eval(vars map[string]complex128) (complex128, error) {
	v, err := eval(e.node, vars)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot evaluate %q", e.src)
	}
	return v, nil
}

// Eval parses and evaluates src in one step.
func Eval(src string, vars map[string]complex128) (complex128, error) {
	e, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return e.Eval(vars)
}

func eval(node ast.Expr, vars map[string]complex128) (complex128, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		return evalLit(n)
	case *ast.Ident:
		if v, ok := vars[n.Name]; ok {
			return v, nil
		}
		if v, ok := consts[n.Name]; ok {
			return v, nil
		}
		return 0, errors.Errorf("unknown variable %q", n.Name)
	case *ast.ParenExpr:
		return eval(n.X, vars)
	case *ast.UnaryExpr:
		v, err := eval(n.X, vars)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return v, nil
		case token.SUB:
			return -v, nil
		}
		return 0, errors.Errorf("unsupported unary operator %v", n.Op)
	case *ast.BinaryExpr:
		x, err := eval(n.X, vars)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y, vars)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		case token.XOR:
			return cmplx.Pow(x, y), nil
		}
		return 0, errors.Errorf("unsupported operator %v", n.Op)
	case *ast.CallExpr:
		ident, ok := n.Fun.(*ast.Ident)
		if !ok {
			return 0, errors.New("only plain function calls are supported")
		}
		fn, ok := funcs[ident.Name]
		if !ok {
			return 0, errors.Errorf("unknown function %q", ident.Name)
		}
		if len(n.Args) != 1 {
			return 0, errors.Errorf("%s takes one argument, got %d", ident.Name, len(n.Args))
		}
		arg, err := eval(n.Args[0], vars)
		if err != nil {
			return 0, err
		}
		return fn(arg), nil
	}
	return 0, errors.Errorf("unsupported expression node %T", node)
}

func evalLit(lit *ast.BasicLit) (complex128, error) {
	switch lit.Kind {
	case token.INT:
		v, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		return complex(float64(v), 0), nil
	case token.FLOAT:
		v, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		return complex(v, 0), nil
	case token.IMAG:
		v, err := strconv.ParseFloat(strings.TrimSuffix(lit.Value, "i"), 64)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		return complex(0, v), nil
	}
	return 0, errors.Errorf("unsupported literal %q", lit.Value)
}
