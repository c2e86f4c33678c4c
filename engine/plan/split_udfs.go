package plan

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/xframe-labs/xframe/engine/expression"
	"github.com/xframe-labs/xframe/logger"
	"golang.org/x/exp/slices"
)

// SplitUDFs 把投影节点拆成 Project -> UDFProject... -> Project 链：
//   - 拆分后的Project节点不再含有任何可拆的UDF表达式
//   - 每个UDFProject节点只含一个根部UDF
//   - list_map内部的表达式保持原样，不参与拆分
//
// 拆分对每个表达式按三种情况截断：根是(带别名的)UDF的表达式截断其需要计算的子节点；
// 子树中含UDF的表达式截断每个UDF子节点；不含UDF的表达式原样进入当前阶段。
// 被截断的子表达式连同所需的列引用汇入remaining，作为上一阶段的投影递归拆分，
// 直到remaining只剩列引用为止。
type SplitUDFs struct{}

// NewSplitUDFs 创建UDF拆分规则
func NewSplitUDFs() *SplitUDFs {
	return &SplitUDFs{}
}

// Name 规则名
func (r *SplitUDFs) Name() string {
	return "split_udfs"
}

// Apply 自顶向下遍历计划，只有投影节点触发拆分，其余节点原样透传
func (r *SplitUDFs) Apply(p LogicalPlan) (LogicalPlan, error) {
	return transformDown(p, func(node LogicalPlan) (LogicalPlan, error) {
		proj, ok := node.(*Projection)
		if !ok {
			return node, nil
		}
		return rewriteProjectionEntry(proj)
	})
}

// RewritePlan 规则入口：对整棵计划应用UDF拆分
func RewritePlan(p LogicalPlan) (LogicalPlan, error) {
	return NewSplitUDFs().Apply(p)
}

// truncateRootUDF 截断根是(带别名的)UDF的表达式：UDF的每个需要计算的
// 入参被提升为带生成名的别名并替换成列引用，沿途遇到的列引用按名去重收集。
type truncateRootUDF struct {
	newChildren []expression.Expression
	stageIdx    int
	exprIdx     int
}

func (t *truncateRootUDF) seen(name string) bool {
	return slices.IndexFunc(t.newChildren, func(e expression.Expression) bool {
		return e.Name() == name
	}) >= 0
}

func (t *truncateRootUDF) rewrite(e expression.Expression) (expression.Expression, error) {
	return expression.RewriteDown(e, func(node expression.Expression) (expression.Expression, expression.Recursion, error) {
		switch {
		case isColumn(node):
			if !t.seen(node.Name()) {
				t.newChildren = append(t.newChildren, node)
			}
			return node, expression.Continue, nil

		case expression.IsListMap(node):
			// list_map内部不可拆分
			return node, expression.SkipChildren, nil

		case expression.IsUDF(node):
			k := 0
			args := node.Children()
			newArgs := make([]expression.Expression, 0, len(args))
			for _, arg := range args {
				if expression.RequiresComputation(arg) {
					name := fmt.Sprintf("__TruncateRootUDF_%d-%d-%d__", t.stageIdx, t.exprIdx, k)
					k++
					t.newChildren = append(t.newChildren, expression.NewAlias(arg, name))
					newArgs = append(newArgs, expression.NewColumn(name))
				} else {
					newArgs = append(newArgs, arg)
				}
			}
			newNode, err := node.WithNewChildren(newArgs)
			if err != nil {
				return nil, expression.Stop, errors.Trace(err)
			}
			return newNode, expression.Continue, nil

		default:
			return node, expression.Continue, nil
		}
	})
}

// truncateAnyUDFChildren 截断根以下的UDF子节点：每个UDF子树被提升为
// 带生成名的别名并替换成列引用。进入list_map后置粘滞标志，其余子树原样保留。
type truncateAnyUDFChildren struct {
	newChildren []expression.Expression
	stageIdx    int
	exprIdx     int
	inListMap   bool
}

func (t *truncateAnyUDFChildren) seen(name string) bool {
	return slices.IndexFunc(t.newChildren, func(e expression.Expression) bool {
		return e.Name() == name
	}) >= 0
}

func (t *truncateAnyUDFChildren) rewrite(e expression.Expression) (expression.Expression, error) {
	return expression.RewriteDown(e, func(node expression.Expression) (expression.Expression, expression.Recursion, error) {
		switch {
		case t.inListMap:
			return node, expression.SkipChildren, nil

		case expression.IsUDF(node):
			// 根是UDF的表达式必须走truncateRootUDF，出现在这里说明路由有误
			return nil, expression.Stop, ErrInternalInvariant.New(
				fmt.Sprintf("truncateAnyUDFChildren must never run on a UDF expression, got %s", node.String()))

		case isColumn(node):
			if !t.seen(node.Name()) {
				t.newChildren = append(t.newChildren, node)
			}
			return node, expression.Continue, nil

		case expression.IsListMap(node):
			t.inListMap = true
			return node, expression.SkipChildren, nil

		default:
			args := node.Children()
			if slices.IndexFunc(args, expression.IsUDF) < 0 {
				return node, expression.Continue, nil
			}

			k := 0
			newArgs := make([]expression.Expression, 0, len(args))
			for _, arg := range args {
				if expression.IsUDF(arg) {
					name := fmt.Sprintf("__TruncateAnyUDFChildren_%d-%d-%d__", t.stageIdx, t.exprIdx, k)
					k++
					t.newChildren = append(t.newChildren, expression.NewAlias(arg, name))
					newArgs = append(newArgs, expression.NewColumn(name))
				} else {
					newArgs = append(newArgs, arg)
				}
			}
			newNode, err := node.WithNewChildren(newArgs)
			if err != nil {
				return nil, expression.Stop, errors.Trace(err)
			}
			return newNode, expression.Continue, nil
		}
	})
}

// splitProjection 把投影表达式列表拆成(truncated, remaining)两组：
// truncated与输入逐位对应，构成当前阶段；remaining是提升出来的子表达式
// 与所需列引用，按首次加入的顺序排列，交给上一阶段递归拆分。
func splitProjection(exprs []expression.Expression, stageIdx int) ([]expression.Expression, []expression.Expression, error) {
	truncated := make([]expression.Expression, 0, len(exprs))
	var remaining []expression.Expression
	seen := make(map[string]struct{})

	appendRemaining := func(e expression.Expression) {
		if _, dup := seen[e.Name()]; !dup {
			seen[e.Name()] = struct{}{}
			remaining = append(remaining, e)
		}
	}

	for exprIdx, expr := range exprs {
		switch {
		case expression.HasUDFRootThroughAliases(expr):
			t := &truncateRootUDF{stageIdx: stageIdx, exprIdx: exprIdx}
			rewritten, err := t.rewrite(expr)
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			truncated = append(truncated, rewritten)
			for _, child := range t.newChildren {
				appendRemaining(child)
			}

		case expression.ExistsSkipListMap(expr, expression.IsUDF):
			t := &truncateAnyUDFChildren{stageIdx: stageIdx, exprIdx: exprIdx}
			rewritten, err := t.rewrite(expr)
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			truncated = append(truncated, rewritten)
			for _, child := range t.newChildren {
				appendRemaining(child)
			}

		default:
			truncated = append(truncated, expr)
			for _, name := range expression.RequiredColumns(expr) {
				appendRemaining(expression.NewColumn(name))
			}
		}
	}

	return truncated, remaining, nil
}

// rewriteProjectionEntry 投影改写入口。先给含UDF且尚未带别名的表达式补上
// 自身派生名的别名，固定对外可见的列名；已有别名的表达式保持原状。
func rewriteProjectionEntry(proj *Projection) (LogicalPlan, error) {
	aliased := make([]expression.Expression, len(proj.Exprs))
	changed := false
	for i, e := range proj.Exprs {
		if _, isAlias := e.(*expression.Alias); !isAlias && expression.ExistsSkipListMap(e, expression.IsUDF) {
			aliased[i] = expression.NewAlias(e, e.Name())
			changed = true
			continue
		}
		aliased[i] = e
	}

	aliasedProj := proj
	if changed {
		var err error
		aliasedProj, err = NewProjection(proj.Input, aliased)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return rewriteProjection(aliasedProj, 0)
}

// rewriteProjection 递归拆分一个投影，depth是递归深度，参与生成名。
// 产出链：child -> 无状态Project -> UDFProject... -> 末端Project。
func rewriteProjection(proj *Projection, depth int) (LogicalPlan, error) {
	hasUDFs := false
	for _, e := range proj.Exprs {
		if expression.ExistsSkipListMap(e, expression.IsUDF) {
			hasUDFs = true
			break
		}
	}
	if !hasUDFs {
		return proj, nil
	}

	logger.Debugf("split_udfs optimizing: %s", exprsString(proj.Exprs))

	truncated, remaining, err := splitProjection(proj.Exprs, depth)
	if err != nil {
		return nil, errors.Trace(err)
	}

	logger.Debugf("split_udfs truncated: %s", exprsString(truncated))
	logger.Debugf("split_udfs remaining: %s", exprsString(remaining))

	// remaining只剩列引用时投影已无事可做，直接接回原输入
	var newChild LogicalPlan
	if allColumns(remaining) {
		newChild = proj.Input
	} else {
		childProj, err := NewProjection(proj.Input, remaining)
		if err != nil {
			return nil, errors.Trace(err)
		}
		newChild, err = rewriteProjection(childProj, depth+1)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	// 按原顺序划分UDF阶段与无状态阶段
	var udfStages, statelessStages []expression.Expression
	for _, e := range truncated {
		if expression.ExistsSkipListMap(e, expression.IsUDF) {
			udfStages = append(udfStages, e)
		} else {
			statelessStages = append(statelessStages, e)
		}
	}

	// 无状态阶段在任何UDF之前物化一次，其余列按子计划模式顺序透传
	statelessNames := make(map[string]struct{}, len(statelessStages))
	for _, e := range statelessStages {
		statelessNames[e.Name()] = struct{}{}
	}
	preExprs := make([]expression.Expression, 0, newChild.Schema().Len()+len(statelessStages))
	for _, name := range newChild.Schema().Names() {
		if _, ok := statelessNames[name]; !ok {
			preExprs = append(preExprs, expression.NewColumn(name))
		}
	}
	preExprs = append(preExprs, statelessStages...)

	current, err := NewProjection(newChild, preExprs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var chain LogicalPlan = current

	// 逐个串接UDF阶段，每个阶段透传除自身输出外的全部列
	for _, u := range udfStages {
		pass := make([]expression.Expression, 0, chain.Schema().Len())
		for _, name := range chain.Schema().Names() {
			if name != u.Name() {
				pass = append(pass, expression.NewColumn(name))
			}
		}
		chain, err = NewUDFProject(chain, u, pass)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	// 末端投影恢复原始的输出列与顺序，也便于后续的投影下推裁剪中间列
	finalExprs := make([]expression.Expression, len(proj.Exprs))
	for i, e := range proj.Exprs {
		finalExprs[i] = expression.NewColumn(e.Name())
	}
	final, err := NewProjection(chain, finalExprs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return final, nil
}

func isColumn(e expression.Expression) bool {
	_, ok := e.(*expression.Column)
	return ok
}

func allColumns(exprs []expression.Expression) bool {
	for _, e := range exprs {
		if !isColumn(e) {
			return false
		}
	}
	return true
}
