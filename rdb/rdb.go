package rdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrSchemaConfig    = errors.New("schema config error")
	ErrMigration       = errors.New("migration error")
	ErrMappingContract = errors.New("mapping contract violation")
)

// Session 数据库会话接口，迁移与查询映射只依赖这两个原生操作
type Session interface {
	// NativeUpdate 执行 DDL/DML 语句
	NativeUpdate(ctx context.Context, sql string) error

	// NativeQuery 执行查询，返回按列名/下标可访问的结果行
	NativeQuery(ctx context.Context, sql string) ([]Row, error)
}

// Row 一行查询结果，保留列顺序
type Row struct {
	columns []string
	values  []any
	index   map[string]int
}

// NewRow 按列名和值构造结果行，两者长度必须一致
func NewRow(columns []string, values []any) Row {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		if _, ok := index[col]; !ok {
			index[col] = i
		}
	}
	return Row{columns: columns, values: values, index: index}
}

// RowFromMap 构造测试或手工拼装的结果行，列按 columns 指定的顺序排列
func RowFromMap(data map[string]any, columns ...string) Row {
	if len(columns) == 0 {
		for col := range data {
			columns = append(columns, col)
		}
	}
	values := make([]any, len(columns))
	for i, col := range columns {
		values[i] = data[col]
	}
	return NewRow(columns, values)
}

func (r Row) Columns() []string {
	return r.columns
}

func (r Row) Len() int {
	return len(r.values)
}

// Get 按列名取值，第二个返回值表示列是否存在（值可以为 nil）
func (r Row) Get(column string) (any, bool) {
	i, ok := r.index[column]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// At 按下标取值
func (r Row) At(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, col := range r.columns {
		m[col] = r.values[i]
	}
	return m
}

// SchemaConfigError 模型或映射树配置错误
type SchemaConfigError struct {
	Path   string
	Field  string
	Reason string
}

func (e *SchemaConfigError) Error() string {
	var b strings.Builder
	b.WriteString("schema config error")
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *SchemaConfigError) Is(target error) bool {
	return target == ErrSchemaConfig
}

// MigrationError DDL 执行失败，携带出错的表、列和语句
type MigrationError struct {
	Table     string
	Column    string
	Statement string
	Err       error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migrate table %q", e.Table)
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	if e.Statement != "" {
		fmt.Fprintf(&b, " [%s]", e.Statement)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Is(target error) bool {
	return target == ErrMigration
}

// MappingContractViolation 一对一节点在同一父作用域内出现多个不同 id
type MappingContractViolation struct {
	Path string
	Ids  []any
}

func (e *MappingContractViolation) Error() string {
	return fmt.Sprintf("mapping contract violation at %s: to-one relation observed multiple ids %v", e.Path, e.Ids)
}

func (e *MappingContractViolation) Is(target error) bool {
	return target == ErrMappingContract
}
