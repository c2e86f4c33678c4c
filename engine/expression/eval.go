package expression

import (
	"github.com/shopspring/decimal"
	errors "gopkg.in/src-d/go-errors.v1"
)

// ErrColumnNotFound 行中不存在引用的列
var ErrColumnNotFound = errors.NewKind("expression: column %s not found in row")

// ErrNotEvaluable 表达式由外部运行时求值，引擎内不可直接计算
var ErrNotEvaluable = errors.NewKind("expression: %s is evaluated by an external runtime")

// ErrTypeMismatch 运算数类型不支持该运算
var ErrTypeMismatch = errors.NewKind("expression: unsupported operand types for %s: %T and %T")

// EvalContext 表达式计算上下文
type EvalContext struct {
	Row map[string]interface{}
}

func (c *Column) Eval(ctx *EvalContext) (interface{}, error) {
	if val, ok := ctx.Row[c.ColName]; ok {
		return val, nil
	}
	return nil, ErrColumnNotFound.New(c.ColName)
}

func (c *Constant) Eval(ctx *EvalContext) (interface{}, error) {
	return c.Value, nil
}

func (a *Alias) Eval(ctx *EvalContext) (interface{}, error) {
	return a.Child.Eval(ctx)
}

// Eval UDF由actor池执行，引擎内直接求值视为错误
func (u *UDF) Eval(ctx *EvalContext) (interface{}, error) {
	return nil, ErrNotEvaluable.New(u.FuncName)
}

// Eval 内建函数由向量化执行层求值
func (f *ScalarFunction) Eval(ctx *EvalContext) (interface{}, error) {
	return nil, ErrNotEvaluable.New(f.FuncName)
}

func (b *BinaryOperation) Eval(ctx *EvalContext) (interface{}, error) {
	left, err := b.Left.Eval(ctx)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return nil, nil
	}

	switch b.Op {
	case OpAnd, OpOr:
		lb, lok := left.(bool)
		rb, rok := right.(bool)
		if !lok || !rok {
			return nil, ErrTypeMismatch.New(b.Op.String(), left, right)
		}
		if b.Op == OpAnd {
			return lb && rb, nil
		}
		return lb || rb, nil
	}

	// 字符串只支持比较
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return nil, ErrTypeMismatch.New(b.Op.String(), left, right)
		}
		return compareOrdered(b.Op, compareStrings(ls, rs), left, right)
	}

	ld, lok := toDecimal(left)
	rd, rok := toDecimal(right)
	if !lok || !rok {
		return nil, ErrTypeMismatch.New(b.Op.String(), left, right)
	}

	switch b.Op {
	case OpAdd:
		return narrowDecimal(ld.Add(rd), left, right), nil
	case OpSub:
		return narrowDecimal(ld.Sub(rd), left, right), nil
	case OpMul:
		return narrowDecimal(ld.Mul(rd), left, right), nil
	case OpDiv:
		if rd.IsZero() {
			return nil, nil
		}
		lf, _ := ld.Float64()
		rf, _ := rd.Float64()
		return lf / rf, nil
	default:
		return compareOrdered(b.Op, ld.Cmp(rd), left, right)
	}
}

// toDecimal 将数值转换为decimal用于精确运算
func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case float64:
		return decimal.NewFromFloat(x), true
	case decimal.Decimal:
		return x, true
	default:
		return decimal.Decimal{}, false
	}
}

// narrowDecimal 两个整型运算数的结果还原为int64，decimal运算数保留decimal，
// 其余情况退化为float64
func narrowDecimal(d decimal.Decimal, left, right interface{}) interface{} {
	if isInt(left) && isInt(right) {
		return d.IntPart()
	}
	if _, ok := left.(decimal.Decimal); ok {
		return d
	}
	if _, ok := right.(decimal.Decimal); ok {
		return d
	}
	f, _ := d.Float64()
	return f
}

func isInt(v interface{}) bool {
	switch v.(type) {
	case int, int64:
		return true
	default:
		return false
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareOrdered(op BinaryOp, cmp int, left, right interface{}) (interface{}, error) {
	switch op {
	case OpEQ:
		return cmp == 0, nil
	case OpNE:
		return cmp != 0, nil
	case OpLT:
		return cmp < 0, nil
	case OpLE:
		return cmp <= 0, nil
	case OpGT:
		return cmp > 0, nil
	case OpGE:
		return cmp >= 0, nil
	default:
		return nil, ErrTypeMismatch.New(op.String(), left, right)
	}
}
