package expression

import (
	"github.com/OneOfOne/xxhash"
)

// IsUDF 判断表达式的根节点是否为UDF。别名在这里不是透明的：
// Alias(UDF(...), n)的根不是UDF。
func IsUDF(e Expression) bool {
	_, ok := e.(*UDF)
	return ok
}

// IsListMap 判断表达式是否为list_map内建函数
func IsListMap(e Expression) bool {
	sf, ok := e.(*ScalarFunction)
	return ok && sf.FuncName == ListMapName
}

// RequiresComputation 判断表达式是否需要计算。列引用和常量叶子不需要。
func RequiresComputation(e Expression) bool {
	switch e.(type) {
	case *Column, *Constant:
		return false
	default:
		return true
	}
}

// RequiredColumns 返回表达式引用的所有列名，按首次出现顺序去重。
// list_map内部引用的列同样计入。
func RequiredColumns(e Expression) []string {
	var names []string
	seen := make(map[string]struct{})
	_, _ = Apply(e, func(node Expression) (Recursion, error) {
		if col, ok := node.(*Column); ok {
			if _, dup := seen[col.ColName]; !dup {
				seen[col.ColName] = struct{}{}
				names = append(names, col.ColName)
			}
		}
		return Continue, nil
	})
	return names
}

// ExistsSkipListMap 判断谓词是否在表达式树中命中任一节点，
// 但不进入list_map的子树。
func ExistsSkipListMap(e Expression, pred func(Expression) bool) bool {
	found := false
	_, _ = Apply(e, func(node Expression) (Recursion, error) {
		if IsListMap(node) {
			return SkipChildren, nil
		}
		if pred(node) {
			found = true
			return Stop, nil
		}
		return Continue, nil
	})
	return found
}

// HasUDFRootThroughAliases 判断从根出发、只穿过别名之后是否到达UDF。
// 命中该谓词的表达式交给根部UDF截断器处理。
func HasUDFRootThroughAliases(e Expression) bool {
	for {
		if IsUDF(e) {
			return true
		}
		alias, ok := e.(*Alias)
		if !ok {
			return false
		}
		e = alias.Child
	}
}

// Fingerprint 返回表达式的结构指纹，用于日志与结构等价的快速比较
func Fingerprint(e Expression) uint64 {
	return xxhash.ChecksumString64(e.String())
}
