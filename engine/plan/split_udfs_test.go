package plan

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xframe-labs/xframe/engine/expression"
)

// 测试辅助：列引用
func col(name string) *expression.Column {
	return expression.NewColumn(name)
}

// 测试辅助：别名
func alias(e expression.Expression, name string) *expression.Alias {
	return expression.NewAlias(e, name)
}

// 测试辅助：UDF foo
func foo(args ...expression.Expression) *expression.UDF {
	return expression.NewUDF("foo", expression.TypeString, args...)
}

// 测试辅助：加法
func add(left, right expression.Expression) *expression.BinaryOperation {
	return expression.NewBinaryOperation(expression.OpAdd, left, right)
}

// 测试辅助：建表扫描
func scanNode(cols ...string) *TableScan {
	columns := make([]SchemaColumn, len(cols))
	for i, name := range cols {
		columns[i] = SchemaColumn{Name: name, Type: expression.TypeString}
	}
	return NewTableScan("t", NewSchema(columns...))
}

func mustProject(t *testing.T, input LogicalPlan, exprs ...expression.Expression) LogicalPlan {
	t.Helper()
	p, err := NewProjection(input, exprs)
	require.NoError(t, err)
	return p
}

func mustUDFProject(t *testing.T, input LogicalPlan, udfExpr expression.Expression, pass ...expression.Expression) LogicalPlan {
	t.Helper()
	p, err := NewUDFProject(input, udfExpr, pass)
	require.NoError(t, err)
	return p
}

func assertPlanEq(t *testing.T, expected, actual LogicalPlan) {
	t.Helper()
	require.Equal(t, Format(expected), Format(actual))
	assert.Equal(t, Fingerprint(expected), Fingerprint(actual))
}

// walkPlan 前序遍历计划树
func walkPlan(p LogicalPlan, fn func(LogicalPlan)) {
	fn(p)
	for _, child := range p.Children() {
		walkPlan(child, fn)
	}
}

// assertSplitInvariants 校验改写结果的结构不变量：
// Project不再含可拆UDF，UDFProject根部恰为UDF且透传全为列引用，
// 输出列名与原计划逐一相同，所有引用列都由直接子节点产出。
func assertSplitInvariants(t *testing.T, input, output LogicalPlan) {
	t.Helper()

	require.Equal(t, input.Schema().Names(), output.Schema().Names())

	walkPlan(output, func(node LogicalPlan) {
		switch x := node.(type) {
		case *Projection:
			for _, e := range x.Exprs {
				assert.False(t, expression.ExistsSkipListMap(e, expression.IsUDF),
					"projection still contains a splittable UDF: %s", e.String())
				for _, name := range expression.RequiredColumns(e) {
					assert.True(t, x.Input.Schema().Contains(name),
						"column %s not produced by the input", name)
				}
			}
		case *UDFProject:
			assert.True(t, expression.HasUDFRootThroughAliases(x.UDFExpr))
			for _, e := range x.Passthrough {
				_, isCol := e.(*expression.Column)
				assert.True(t, isCol, "passthrough %s is not a column", e.String())
			}
			for _, name := range expression.RequiredColumns(x.UDFExpr) {
				assert.True(t, x.Input.Schema().Contains(name))
			}
		}
	})
}

func TestSplitUDFsNoUDFsUnchanged(t *testing.T) {
	scan := scanNode("a", "b")
	proj := mustProject(t, scan, col("a"), alias(add(col("a"), col("b")), "sum"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)
	assertPlanEq(t, proj, out)
}

func TestSplitUDFsListMapOnlyUnchanged(t *testing.T) {
	// list_map内部的UDF不可拆，整个投影保持原样
	scan := scanNode("xs")
	proj := mustProject(t, scan, alias(expression.NewListMap(col("xs"), foo(col("xs"))), "mapped"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)
	assertPlanEq(t, proj, out)
}

func TestSplitUDFsSingleUDF(t *testing.T) {
	scan := scanNode("a")
	proj := mustProject(t, scan, col("a"), alias(foo(col("a")), "b"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	expected := mustProject(t, scan, col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), "b"), col("a"))
	expected = mustProject(t, expected, col("a"), col("b"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsParallelUDFs(t *testing.T) {
	// 两个互不相关的串联UDF列，第一层一起执行，第二层依次串接
	scan := scanNode("a", "b")
	proj := mustProject(t, scan,
		col("a"),
		col("b"),
		alias(foo(foo(col("a"))), "a_prime"),
		alias(foo(foo(col("b"))), "b_prime"),
	)

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n0 := "__TruncateRootUDF_0-2-0__"
	n1 := "__TruncateRootUDF_0-3-0__"

	expected := mustProject(t, scan, col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n0), col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col("b")), n1), col("a"), col("b"), col(n0))
	expected = mustProject(t, expected, col("a"), col("b"), col(n0), col(n1))
	expected = mustProject(t, expected, col(n0), col(n1), col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col(n0)), "a_prime"), col(n0), col(n1), col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col(n1)), "b_prime"), col(n0), col(n1), col("a"), col("b"), col("a_prime"))
	expected = mustProject(t, expected, col("a"), col("b"), col("a_prime"), col("b_prime"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsSerialUDFs(t *testing.T) {
	scan := scanNode("a")
	proj := mustProject(t, scan, col("a"), alias(foo(foo(col("a"))), "b"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n := "__TruncateRootUDF_0-1-0__"

	expected := mustProject(t, scan, col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n), col("a"))
	expected = mustProject(t, expected, col("a"), col(n))
	expected = mustProject(t, expected, col(n), col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col(n)), "b"), col(n), col("a"))
	expected = mustProject(t, expected, col("a"), col("b"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsSerialNoAlias(t *testing.T) {
	// 未加别名的UDF表达式在入口处补上自身派生名，输出列名保持为a
	scan := scanNode("a")
	proj := mustProject(t, scan, foo(foo(col("a"))))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n := "__TruncateRootUDF_0-0-0__"

	expected := mustProject(t, scan, col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n), col("a"))
	expected = mustProject(t, expected, col(n))
	expected = mustProject(t, expected, col(n))
	expected = mustUDFProject(t, expected, alias(foo(col(n)), "a"), col(n))
	expected = mustProject(t, expected, col("a"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsSerialMultiArg(t *testing.T) {
	scan := scanNode("a", "b")
	proj := mustProject(t, scan, alias(foo(foo(col("a")), foo(col("b"))), "c"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n0 := "__TruncateRootUDF_0-0-0__"
	n1 := "__TruncateRootUDF_0-0-1__"

	expected := mustProject(t, scan, col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n0), col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col("b")), n1), col("a"), col("b"), col(n0))
	expected = mustProject(t, expected, col(n0), col(n1))
	expected = mustProject(t, expected, col(n0), col(n1))
	expected = mustUDFProject(t, expected, alias(foo(col(n0), col(n1)), "c"), col(n0), col(n1))
	expected = mustProject(t, expected, col("c"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsStatelessCombinerOfUDFs(t *testing.T) {
	// foo(foo(a) + foo(b))：内层UDF先各自成段，中间的加法单独物化，再喂给外层UDF
	scan := scanNode("a", "b")
	proj := mustProject(t, scan, alias(foo(add(foo(col("a")), foo(col("b")))), "c"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n0 := "__TruncateAnyUDFChildren_1-0-0__"
	n1 := "__TruncateAnyUDFChildren_1-0-1__"
	n2 := "__TruncateRootUDF_0-0-0__"

	expected := mustProject(t, scan, col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n0), col("a"), col("b"))
	expected = mustUDFProject(t, expected, alias(foo(col("b")), n1), col("a"), col("b"), col(n0))
	expected = mustProject(t, expected, col(n0), col(n1))
	expected = mustProject(t, expected, col(n0), col(n1), alias(add(col(n0), col(n1)), n2))
	expected = mustProject(t, expected, col(n2))
	expected = mustProject(t, expected, col(n2))
	expected = mustUDFProject(t, expected, alias(foo(col(n2)), "c"), col(n2))
	expected = mustProject(t, expected, col("c"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsSharedSubexpression(t *testing.T) {
	// foo(a + foo(a))：内层foo(a)只提升一次，外层看到col(a)+col(n0)
	scan := scanNode("a")
	proj := mustProject(t, scan, col("a"), alias(foo(add(col("a"), foo(col("a")))), "c"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n0 := "__TruncateAnyUDFChildren_1-1-0__"
	n1 := "__TruncateRootUDF_0-1-0__"

	expected := mustProject(t, scan, col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n0), col("a"))
	expected = mustProject(t, expected, col("a"), col(n0))
	expected = mustProject(t, expected, col(n0), col("a"), alias(add(col("a"), col(n0)), n1))
	expected = mustProject(t, expected, col("a"), col(n1))
	expected = mustProject(t, expected, col(n1), col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col(n1)), "c"), col(n1), col("a"))
	expected = mustProject(t, expected, col("a"), col("c"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsStatelessExprWithUDFChild(t *testing.T) {
	// a + a + foo(a)：只有foo(a)被提升，加法保留在无状态阶段
	scan := scanNode("a")
	proj := mustProject(t, scan, col("a"), alias(add(add(col("a"), col("a")), foo(col("a"))), "result"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	n0 := "__TruncateAnyUDFChildren_0-1-0__"

	expected := mustProject(t, scan, col("a"))
	expected = mustUDFProject(t, expected, alias(foo(col("a")), n0), col("a"))
	expected = mustProject(t, expected, col("a"), col(n0))
	expected = mustProject(t, expected, col(n0), col("a"),
		alias(add(add(col("a"), col("a")), col(n0)), "result"))
	expected = mustProject(t, expected, col("a"), col("result"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)
}

func TestSplitUDFsListMapBesideUDF(t *testing.T) {
	// list_map与普通UDF并存：list_map整体按无状态表达式处理，内部UDF原样保留
	scan := scanNode("xs", "a")
	listMapExpr := alias(expression.NewListMap(col("xs"), foo(col("xs"))), "mapped")
	proj := mustProject(t, scan, listMapExpr, alias(foo(col("a")), "b"))

	out, err := RewritePlan(proj)
	require.NoError(t, err)

	expected := mustProject(t, scan, col("xs"), col("a"), listMapExpr)
	expected = mustUDFProject(t, expected, alias(foo(col("a")), "b"), col("xs"), col("a"), col("mapped"))
	expected = mustProject(t, expected, col("mapped"), col("b"))

	assertPlanEq(t, expected, out)
	assertSplitInvariants(t, proj, out)

	// list_map内部的UDF必须原样出现在输出里
	survived := false
	walkPlan(out, func(node LogicalPlan) {
		p, ok := node.(*Projection)
		if !ok {
			return
		}
		for _, e := range p.Exprs {
			_, _ = expression.Apply(e, func(sub expression.Expression) (expression.Recursion, error) {
				if expression.IsListMap(sub) && hasAnyUDF(sub.Children()[1]) {
					survived = true
					return expression.Stop, nil
				}
				return expression.Continue, nil
			})
		}
	})
	assert.True(t, survived, "UDF beneath list_map must survive the rewrite")
}

// hasAnyUDF 不跳过list_map地查找UDF
func hasAnyUDF(e expression.Expression) bool {
	found := false
	_, _ = expression.Apply(e, func(node expression.Expression) (expression.Recursion, error) {
		if expression.IsUDF(node) {
			found = true
			return expression.Stop, nil
		}
		return expression.Continue, nil
	})
	return found
}

func TestSplitUDFsPassThroughOtherNodes(t *testing.T) {
	t.Run("FilterAboveProjection", func(t *testing.T) {
		scan := scanNode("a")
		proj := mustProject(t, scan, col("a"), alias(foo(col("a")), "b"))
		filter, err := NewFilter(proj, expression.NewBinaryOperation(
			expression.OpEQ, col("b"), expression.NewConstant("x", expression.TypeString)))
		require.NoError(t, err)

		out, err := RewritePlan(filter)
		require.NoError(t, err)

		outFilter, ok := out.(*Filter)
		require.True(t, ok, "filter must survive as the root")
		assert.Equal(t, filter.Schema().Names(), outFilter.Schema().Names())

		_, isUDFP := outFilter.Input.(*UDFProject)
		_, isProj := outFilter.Input.(*Projection)
		assert.True(t, isUDFP || isProj, "filter child must be the rewritten chain")
		assertSplitInvariants(t, proj, outFilter.Input)
	})

	t.Run("ConcatOfProjections", func(t *testing.T) {
		left := mustProject(t, scanNode("a"), alias(foo(col("a")), "b"))
		right := mustProject(t, scanNode("a"), alias(foo(col("a")), "b"))
		concat, err := NewConcat(left, right)
		require.NoError(t, err)

		out, err := RewritePlan(concat)
		require.NoError(t, err)

		outConcat, ok := out.(*Concat)
		require.True(t, ok, "concat must survive as the root")
		assertSplitInvariants(t, left, outConcat.Left)
		assertSplitInvariants(t, right, outConcat.Right)
		assert.Equal(t, concat.Schema().Names(), outConcat.Schema().Names())
	})
}

func TestSplitUDFsIdempotent(t *testing.T) {
	scan := scanNode("a", "b")
	inputs := map[string]LogicalPlan{
		"Stateless": mustProject(t, scan, col("a"), alias(add(col("a"), col("b")), "sum")),
		"Single":    mustProject(t, scan, col("a"), alias(foo(col("a")), "c")),
		"Serial":    mustProject(t, scan, col("a"), alias(foo(foo(col("a"))), "c")),
		"Combined":  mustProject(t, scan, alias(foo(add(foo(col("a")), foo(col("b")))), "c")),
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			once, err := RewritePlan(input)
			require.NoError(t, err)
			twice, err := RewritePlan(once)
			require.NoError(t, err)
			assertPlanEq(t, once, twice)
		})
	}
}

var generatedNameDef = regexp.MustCompile(`AS (__Truncate(?:RootUDF|AnyUDFChildren)_\d+-\d+-\d+__)`)

func TestSplitUDFsUniqueIntermediateNames(t *testing.T) {
	// 同一次改写生成的中间名两两不同
	scan := scanNode("a", "b")
	proj := mustProject(t, scan,
		alias(foo(foo(col("a"))), "a_prime"),
		alias(foo(add(foo(col("b")), foo(col("a")))), "b_prime"),
	)

	out, err := RewritePlan(proj)
	require.NoError(t, err)
	assertSplitInvariants(t, proj, out)

	defs := generatedNameDef.FindAllStringSubmatch(Format(out), -1)
	require.NotEmpty(t, defs)
	seen := make(map[string]int)
	for _, m := range defs {
		seen[m[1]]++
	}
	for name, count := range seen {
		assert.Equal(t, 1, count, "intermediate name %s defined %d times", name, count)
	}
}

func TestTruncateAnyUDFChildrenRejectsRootUDF(t *testing.T) {
	// 路由错误时必须立刻失败
	tr := &truncateAnyUDFChildren{stageIdx: 0, exprIdx: 0}
	_, err := tr.rewrite(foo(col("a")))
	require.Error(t, err)
	assert.True(t, ErrInternalInvariant.Is(err))
}
