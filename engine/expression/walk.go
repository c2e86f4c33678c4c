package expression

// Recursion 控制遍历在当前节点之后的走向
type Recursion int

const (
	// Continue 继续向子节点下降
	Continue Recursion = iota
	// SkipChildren 不访问当前节点的子树，继续访问兄弟节点
	SkipChildren
	// Stop 立即终止整个遍历
	Stop
)

// ApplyFunc 前序遍历的访问函数
type ApplyFunc func(Expression) (Recursion, error)

// Apply 对表达式树做前序遍历。fn返回SkipChildren时跳过当前子树，
// 返回Stop时终止整个遍历。
func Apply(e Expression, fn ApplyFunc) (Recursion, error) {
	rec, err := fn(e)
	if err != nil {
		return Stop, err
	}
	switch rec {
	case Stop:
		return Stop, nil
	case SkipChildren:
		return Continue, nil
	}
	for _, child := range e.Children() {
		rec, err := Apply(child, fn)
		if err != nil {
			return Stop, err
		}
		if rec == Stop {
			return Stop, nil
		}
	}
	return Continue, nil
}

// RewriteFunc 前序改写函数，返回替换节点以及后续走向。
// 返回Continue时继续对替换节点的子节点做改写。
type RewriteFunc func(Expression) (Expression, Recursion, error)

// RewriteDown 对表达式树做前序改写，子节点改写后通过WithNewChildren重建父节点。
// 未改动的子树原样复用。fn返回SkipChildren或Stop时都只是不再改写替换节点的子树，
// Stop不会终止整个改写，兄弟子树仍会被改写。
func RewriteDown(e Expression, fn RewriteFunc) (Expression, error) {
	newExpr, rec, err := fn(e)
	if err != nil {
		return nil, err
	}
	if rec == SkipChildren || rec == Stop {
		return newExpr, nil
	}

	children := newExpr.Children()
	if len(children) == 0 {
		return newExpr, nil
	}

	newChildren := make([]Expression, 0, len(children))
	changed := false
	for _, child := range children {
		newChild, err := RewriteDown(child, fn)
		if err != nil {
			return nil, err
		}
		if newChild != child {
			changed = true
		}
		newChildren = append(newChildren, newChild)
	}
	if !changed {
		return newExpr, nil
	}
	return newExpr.WithNewChildren(newChildren)
}
