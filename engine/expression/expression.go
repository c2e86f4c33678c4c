package expression

import (
	"fmt"
	"strings"

	errors "gopkg.in/src-d/go-errors.v1"
)

// DataType 数据类型
type DataType int

const (
	TypeUnknown DataType = iota
	TypeInt
	TypeFloat
	TypeDecimal
	TypeString
	TypeDateTime
	TypeBoolean
	TypeList
	TypeNull
)

// ListMapName list_map内建函数的稳定标识。list_map对列表列逐元素应用子表达式，
// 其内部的表达式在任何改写中都必须保持原样。
const ListMapName = "list_map"

// ErrInvalidChildCount 子节点数量不合法
var ErrInvalidChildCount = errors.NewKind("expression: %s expects %d children, got %d")

// Expression 表达式接口。表达式是不可变的，任何改写都会产生新的节点。
type Expression interface {
	// Name 返回表达式的派生列名
	Name() string
	// GetType 返回表达式的结果类型
	GetType() DataType
	// Children 返回子表达式
	Children() []Expression
	// WithNewChildren 用新的子表达式重建该节点
	WithNewChildren(children []Expression) (Expression, error)
	// Eval 计算表达式的值
	Eval(ctx *EvalContext) (interface{}, error)
	// String 返回表达式的字符串表示
	String() string
}

// Column 列引用表达式
type Column struct {
	ColName string
}

// NewColumn 创建列引用
func NewColumn(name string) *Column {
	return &Column{ColName: name}
}

func (c *Column) Name() string { return c.ColName }

func (c *Column) GetType() DataType { return TypeUnknown }

func (c *Column) Children() []Expression { return nil }

func (c *Column) WithNewChildren(children []Expression) (Expression, error) {
	if len(children) != 0 {
		return nil, ErrInvalidChildCount.New("Column", 0, len(children))
	}
	return c, nil
}

func (c *Column) String() string { return fmt.Sprintf("col(%s)", c.ColName) }

// Constant 常量表达式
type Constant struct {
	Value   interface{}
	RetType DataType
}

// NewConstant 创建常量
func NewConstant(value interface{}, typ DataType) *Constant {
	return &Constant{Value: value, RetType: typ}
}

func (c *Constant) Name() string { return "literal" }

func (c *Constant) GetType() DataType { return c.RetType }

func (c *Constant) Children() []Expression { return nil }

func (c *Constant) WithNewChildren(children []Expression) (Expression, error) {
	if len(children) != 0 {
		return nil, ErrInvalidChildCount.New("Constant", 0, len(children))
	}
	return c, nil
}

func (c *Constant) String() string { return fmt.Sprintf("lit(%v)", c.Value) }

// Alias 别名表达式，将子表达式重命名
type Alias struct {
	Child     Expression
	AliasName string
}

// NewAlias 创建别名
func NewAlias(child Expression, name string) *Alias {
	return &Alias{Child: child, AliasName: name}
}

func (a *Alias) Name() string { return a.AliasName }

func (a *Alias) GetType() DataType { return a.Child.GetType() }

func (a *Alias) Children() []Expression { return []Expression{a.Child} }

func (a *Alias) WithNewChildren(children []Expression) (Expression, error) {
	if len(children) != 1 {
		return nil, ErrInvalidChildCount.New("Alias", 1, len(children))
	}
	return &Alias{Child: children[0], AliasName: a.AliasName}, nil
}

func (a *Alias) String() string {
	return fmt.Sprintf("%s AS %s", a.Child.String(), a.AliasName)
}

// BinaryOp 二元运算符类型
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpEQ:
		return "="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return "?"
	}
}

// BinaryOperation 二元运算表达式
type BinaryOperation struct {
	Op    BinaryOp
	Left  Expression
	Right Expression
}

// NewBinaryOperation 创建二元运算
func NewBinaryOperation(op BinaryOp, left, right Expression) *BinaryOperation {
	return &BinaryOperation{Op: op, Left: left, Right: right}
}

// Name 二元运算沿用左操作数的派生名
func (b *BinaryOperation) Name() string { return b.Left.Name() }

func (b *BinaryOperation) GetType() DataType {
	switch b.Op {
	case OpAdd, OpSub, OpMul:
		return b.Left.GetType()
	case OpDiv:
		return TypeFloat
	default:
		return TypeBoolean
	}
}

func (b *BinaryOperation) Children() []Expression { return []Expression{b.Left, b.Right} }

func (b *BinaryOperation) WithNewChildren(children []Expression) (Expression, error) {
	if len(children) != 2 {
		return nil, ErrInvalidChildCount.New("BinaryOperation", 2, len(children))
	}
	return &BinaryOperation{Op: b.Op, Left: children[0], Right: children[1]}, nil
}

func (b *BinaryOperation) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op.String(), b.Right.String())
}

// ScalarFunction 内建标量函数表达式，按函数名识别
type ScalarFunction struct {
	FuncName string
	Args     []Expression
	RetType  DataType
}

// NewScalarFunction 创建内建标量函数
func NewScalarFunction(name string, ret DataType, args ...Expression) *ScalarFunction {
	return &ScalarFunction{FuncName: name, Args: args, RetType: ret}
}

// NewListMap 创建list_map函数。input为列表列，mapped为逐元素应用的表达式。
func NewListMap(input, mapped Expression) *ScalarFunction {
	return &ScalarFunction{FuncName: ListMapName, Args: []Expression{input, mapped}, RetType: TypeList}
}

func (f *ScalarFunction) Name() string {
	if len(f.Args) > 0 {
		return f.Args[0].Name()
	}
	return f.FuncName
}

func (f *ScalarFunction) GetType() DataType { return f.RetType }

func (f *ScalarFunction) Children() []Expression { return f.Args }

func (f *ScalarFunction) WithNewChildren(children []Expression) (Expression, error) {
	if len(children) != len(f.Args) {
		return nil, ErrInvalidChildCount.New(f.FuncName, len(f.Args), len(children))
	}
	return &ScalarFunction{FuncName: f.FuncName, Args: children, RetType: f.RetType}, nil
}

func (f *ScalarFunction) String() string {
	return fmt.Sprintf("%s(%s)", f.FuncName, exprListString(f.Args))
}

// ResourceRequest UDF执行所需的资源
type ResourceRequest struct {
	NumCPUs     float64
	NumGPUs     float64
	MemoryBytes int64
}

// UDF 用户自定义函数表达式，由外部运行时（actor池）执行
type UDF struct {
	FuncName    string
	Args        []Expression
	RetType     DataType
	Concurrency int
	BatchSize   int
	Resources   *ResourceRequest
}

// NewUDF 创建UDF表达式
func NewUDF(name string, ret DataType, args ...Expression) *UDF {
	return &UDF{FuncName: name, Args: args, RetType: ret, Concurrency: 1}
}

func (u *UDF) Name() string {
	if len(u.Args) > 0 {
		return u.Args[0].Name()
	}
	return u.FuncName
}

func (u *UDF) GetType() DataType { return u.RetType }

func (u *UDF) Children() []Expression { return u.Args }

func (u *UDF) WithNewChildren(children []Expression) (Expression, error) {
	if len(children) != len(u.Args) {
		return nil, ErrInvalidChildCount.New(u.FuncName, len(u.Args), len(children))
	}
	return &UDF{
		FuncName:    u.FuncName,
		Args:        children,
		RetType:     u.RetType,
		Concurrency: u.Concurrency,
		BatchSize:   u.BatchSize,
		Resources:   u.Resources,
	}, nil
}

func (u *UDF) String() string {
	return fmt.Sprintf("udf:%s(%s)", u.FuncName, exprListString(u.Args))
}

// exprListString 渲染表达式列表
func exprListString(exprs []Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
