package plan

import (
	errors "gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrMalformedPlan 子计划构造失败，表达式无法在输入模式上解析
	ErrMalformedPlan = errors.NewKind("plan: malformed plan: %s")

	// ErrUnknownColumn 表达式引用了输入模式未产出的列
	ErrUnknownColumn = errors.NewKind("plan: column %s is not produced by the input, schema is %s")

	// ErrInternalInvariant 改写器内部不变量被破坏，属于实现缺陷
	ErrInternalInvariant = errors.NewKind("plan: internal invariant violation: %s")
)
