package plan

import (
	"fmt"
	"strings"

	"github.com/xframe-labs/xframe/engine/expression"
)

// SchemaColumn 模式中的一列
type SchemaColumn struct {
	Name string
	Type expression.DataType
}

// Schema 计划节点的输出模式，列有序
type Schema struct {
	Columns []SchemaColumn
}

// NewSchema 创建模式
func NewSchema(columns ...SchemaColumn) *Schema {
	return &Schema{Columns: columns}
}

// Len 列数
func (s *Schema) Len() int {
	return len(s.Columns)
}

// Names 按模式顺序返回列名
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// IndexOf 返回列名的下标，不存在时返回-1
func (s *Schema) IndexOf(name string) int {
	for i, col := range s.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// Contains 判断模式中是否存在该列
func (s *Schema) Contains(name string) bool {
	return s.IndexOf(name) >= 0
}

// Clone 复制模式
func (s *Schema) Clone() *Schema {
	columns := make([]SchemaColumn, len(s.Columns))
	copy(columns, s.Columns)
	return &Schema{Columns: columns}
}

// Equals 判断两个模式的列名与类型逐一相等
func (s *Schema) Equals(other *Schema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range s.Columns {
		if col != other.Columns[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	return fmt.Sprintf("[%s]", strings.Join(s.Names(), ", "))
}
