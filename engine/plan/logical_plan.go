package plan

import (
	"fmt"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/juju/errors"
	"github.com/xframe-labs/xframe/engine/expression"
)

// LogicalPlan 逻辑计划接口。计划节点不可变，任何改写都产生新节点。
type LogicalPlan interface {
	// Schema 返回计划的输出模式
	Schema() *Schema
	// Children 返回子计划
	Children() []LogicalPlan
	// WithNewChildren 用新的子计划重建该节点
	WithNewChildren(children []LogicalPlan) (LogicalPlan, error)
	// String 返回该节点的单行描述
	String() string
}

// TableScan 表扫描逻辑计划
type TableScan struct {
	TableName string
	schema    *Schema
}

// NewTableScan 创建表扫描节点
func NewTableScan(tableName string, schema *Schema) *TableScan {
	return &TableScan{TableName: tableName, schema: schema}
}

func (s *TableScan) Schema() *Schema { return s.schema }

func (s *TableScan) Children() []LogicalPlan { return nil }

func (s *TableScan) WithNewChildren(children []LogicalPlan) (LogicalPlan, error) {
	if len(children) != 0 {
		return nil, ErrMalformedPlan.New(fmt.Sprintf("TableScan expects no children, got %d", len(children)))
	}
	return s, nil
}

func (s *TableScan) String() string {
	return fmt.Sprintf("TableScan(%s)%s", s.TableName, s.schema.String())
}

// Projection 投影逻辑计划，对每行输入计算一组命名列
type Projection struct {
	Input LogicalPlan
	Exprs []expression.Expression

	schema *Schema
}

// NewProjection 创建投影节点。每个表达式引用的列都必须由输入模式产出，
// 输出列名不允许重复。
func NewProjection(input LogicalPlan, exprs []expression.Expression) (*Projection, error) {
	schema, err := deriveSchema(input.Schema(), exprs)
	if err != nil {
		return nil, err
	}
	return &Projection{Input: input, Exprs: exprs, schema: schema}, nil
}

func (p *Projection) Schema() *Schema { return p.schema }

func (p *Projection) Children() []LogicalPlan { return []LogicalPlan{p.Input} }

func (p *Projection) WithNewChildren(children []LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, ErrMalformedPlan.New(fmt.Sprintf("Projection expects 1 child, got %d", len(children)))
	}
	return NewProjection(children[0], p.Exprs)
}

func (p *Projection) String() string {
	return fmt.Sprintf("Project[%s]", exprsString(p.Exprs))
}

// UDFProject 单UDF投影。输出为passthrough ++ [UDFExpr]，
// UDFExpr的根（穿过别名后）必须恰好是一个UDF，passthrough只允许列引用。
type UDFProject struct {
	Input       LogicalPlan
	UDFExpr     expression.Expression
	Passthrough []expression.Expression

	schema *Schema
}

// NewUDFProject 创建单UDF投影节点
func NewUDFProject(input LogicalPlan, udfExpr expression.Expression, passthrough []expression.Expression) (*UDFProject, error) {
	if !expression.HasUDFRootThroughAliases(udfExpr) {
		return nil, ErrMalformedPlan.New(fmt.Sprintf("UDFProject expression %s is not a UDF at root", udfExpr.String()))
	}
	for _, child := range udfRoot(udfExpr).Children() {
		if expression.ExistsSkipListMap(child, expression.IsUDF) {
			return nil, ErrMalformedPlan.New(fmt.Sprintf("UDFProject expression %s contains more than one UDF", udfExpr.String()))
		}
	}
	for _, e := range passthrough {
		if _, ok := e.(*expression.Column); !ok {
			return nil, ErrMalformedPlan.New(fmt.Sprintf("UDFProject passthrough %s is not a column reference", e.String()))
		}
	}
	exprs := append(append([]expression.Expression{}, passthrough...), udfExpr)
	schema, err := deriveSchema(input.Schema(), exprs)
	if err != nil {
		return nil, err
	}
	return &UDFProject{Input: input, UDFExpr: udfExpr, Passthrough: passthrough, schema: schema}, nil
}

// udfRoot 穿过别名返回根部的UDF节点
func udfRoot(e expression.Expression) expression.Expression {
	for {
		alias, ok := e.(*expression.Alias)
		if !ok {
			return e
		}
		e = alias.Child
	}
}

func (p *UDFProject) Schema() *Schema { return p.schema }

func (p *UDFProject) Children() []LogicalPlan { return []LogicalPlan{p.Input} }

func (p *UDFProject) WithNewChildren(children []LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, ErrMalformedPlan.New(fmt.Sprintf("UDFProject expects 1 child, got %d", len(children)))
	}
	return NewUDFProject(children[0], p.UDFExpr, p.Passthrough)
}

func (p *UDFProject) String() string {
	return fmt.Sprintf("UDFProject[%s, pass=[%s]]", p.UDFExpr.String(), exprsString(p.Passthrough))
}

// Filter 过滤逻辑计划，对改写器不透明
type Filter struct {
	Input     LogicalPlan
	Condition expression.Expression
}

// NewFilter 创建过滤节点
func NewFilter(input LogicalPlan, condition expression.Expression) (*Filter, error) {
	for _, name := range expression.RequiredColumns(condition) {
		if !input.Schema().Contains(name) {
			return nil, ErrUnknownColumn.New(name, input.Schema().String())
		}
	}
	return &Filter{Input: input, Condition: condition}, nil
}

func (f *Filter) Schema() *Schema { return f.Input.Schema() }

func (f *Filter) Children() []LogicalPlan { return []LogicalPlan{f.Input} }

func (f *Filter) WithNewChildren(children []LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, ErrMalformedPlan.New(fmt.Sprintf("Filter expects 1 child, got %d", len(children)))
	}
	return NewFilter(children[0], f.Condition)
}

func (f *Filter) String() string {
	return fmt.Sprintf("Filter[%s]", f.Condition.String())
}

// Concat 拼接两个模式相同的子计划，对改写器不透明
type Concat struct {
	Left  LogicalPlan
	Right LogicalPlan
}

// NewConcat 创建拼接节点，要求两侧模式一致
func NewConcat(left, right LogicalPlan) (*Concat, error) {
	if !left.Schema().Equals(right.Schema()) {
		return nil, ErrMalformedPlan.New(fmt.Sprintf(
			"Concat inputs have mismatched schemas: %s vs %s",
			left.Schema().String(), right.Schema().String()))
	}
	return &Concat{Left: left, Right: right}, nil
}

func (c *Concat) Schema() *Schema { return c.Left.Schema() }

func (c *Concat) Children() []LogicalPlan { return []LogicalPlan{c.Left, c.Right} }

func (c *Concat) WithNewChildren(children []LogicalPlan) (LogicalPlan, error) {
	if len(children) != 2 {
		return nil, ErrMalformedPlan.New(fmt.Sprintf("Concat expects 2 children, got %d", len(children)))
	}
	return NewConcat(children[0], children[1])
}

func (c *Concat) String() string { return "Concat" }

// deriveSchema 在输入模式上解析表达式列表，得到输出模式。
// 任何未知列引用或重复输出列名都会使构造失败。
func deriveSchema(input *Schema, exprs []expression.Expression) (*Schema, error) {
	columns := make([]SchemaColumn, 0, len(exprs))
	seen := make(map[string]struct{}, len(exprs))
	for _, e := range exprs {
		for _, name := range expression.RequiredColumns(e) {
			if !input.Contains(name) {
				return nil, ErrUnknownColumn.New(name, input.String())
			}
		}
		name := e.Name()
		if _, dup := seen[name]; dup {
			return nil, ErrMalformedPlan.New(fmt.Sprintf("duplicate output column %s", name))
		}
		seen[name] = struct{}{}
		columns = append(columns, SchemaColumn{Name: name, Type: inferType(e, input)})
	}
	return NewSchema(columns...), nil
}

// inferType 在输入模式上推导表达式的结果类型
func inferType(e expression.Expression, input *Schema) expression.DataType {
	switch x := e.(type) {
	case *expression.Column:
		if idx := input.IndexOf(x.ColName); idx >= 0 {
			return input.Columns[idx].Type
		}
		return expression.TypeUnknown
	case *expression.Alias:
		return inferType(x.Child, input)
	case *expression.BinaryOperation:
		switch x.Op {
		case expression.OpAdd, expression.OpSub, expression.OpMul:
			return inferType(x.Left, input)
		case expression.OpDiv:
			return expression.TypeFloat
		default:
			return expression.TypeBoolean
		}
	default:
		return e.GetType()
	}
}

// transformDown 自顶向下改写计划树。fn先作用于当前节点，再下降到结果的子节点。
func transformDown(p LogicalPlan, fn func(LogicalPlan) (LogicalPlan, error)) (LogicalPlan, error) {
	newPlan, err := fn(p)
	if err != nil {
		return nil, errors.Trace(err)
	}
	children := newPlan.Children()
	if len(children) == 0 {
		return newPlan, nil
	}
	newChildren := make([]LogicalPlan, 0, len(children))
	changed := false
	for _, child := range children {
		newChild, err := transformDown(child, fn)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if newChild != child {
			changed = true
		}
		newChildren = append(newChildren, newChild)
	}
	if !changed {
		return newPlan, nil
	}
	return newPlan.WithNewChildren(newChildren)
}

// Format 渲染整棵计划树，每个节点一行，按深度缩进
func Format(p LogicalPlan) string {
	var sb strings.Builder
	formatInto(&sb, p, 0)
	return sb.String()
}

func formatInto(sb *strings.Builder, p LogicalPlan, depth int) {
	if depth > 0 {
		sb.WriteString(strings.Repeat("  ", depth-1))
		sb.WriteString("└─ ")
	}
	sb.WriteString(p.String())
	sb.WriteString("\n")
	for _, child := range p.Children() {
		formatInto(sb, child, depth+1)
	}
}

// Fingerprint 返回计划树的结构指纹
func Fingerprint(p LogicalPlan) uint64 {
	return xxhash.ChecksumString64(Format(p))
}

// exprsString 渲染表达式列表
func exprsString(exprs []expression.Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
