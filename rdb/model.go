package rdb

import (
	"fmt"
	"regexp"
)

// DDL 中的表名和列名不加引号，只接受普通标识符
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LogicalType 逻辑字段类型，与具体数据库的物理类型无关
type LogicalType string

const (
	TypeInt     LogicalType = "int"
	TypeString  LogicalType = "string"
	TypeFloat   LogicalType = "float"
	TypeBoolean LogicalType = "boolean"
	TypeDate    LogicalType = "date"
	TypeJSON    LogicalType = "json"
	TypeText    LogicalType = "text"
)

// Column 字段定义
type Column struct {
	Field        string      `json:"field" yaml:"field" toml:"field"`
	Type         LogicalType `json:"type" yaml:"type" toml:"type"`
	Length       int         `json:"length,omitempty" yaml:"length,omitempty" toml:"length,omitempty"`
	PrimaryKey   bool        `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty" toml:"primaryKey,omitempty"`
	GeneratedKey bool        `json:"generatedKey,omitempty" yaml:"generatedKey,omitempty" toml:"generatedKey,omitempty"`
	Required     bool        `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
}

// Schema 表模型定义，列顺序只影响生成的 DDL 可读性
type Schema struct {
	Name    string   `json:"name" yaml:"name" toml:"name"`
	Table   string   `json:"table" yaml:"table" toml:"table"`
	Columns []Column `json:"columns" yaml:"columns" toml:"columns"`
}

// Column 按字段名查找列
func (s *Schema) Column(field string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey 返回主键列，没有主键时第二个返回值为 false
func (s *Schema) PrimaryKey() (Column, bool) {
	for _, c := range s.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return Column{}, false
}

// Validate 校验表模型的不变量
func (s *Schema) Validate() error {
	path := s.Name
	if path == "" {
		path = s.Table
	}
	if s.Table == "" {
		return &SchemaConfigError{Path: path, Reason: "table name is required"}
	}
	if !identifierPattern.MatchString(s.Table) {
		return &SchemaConfigError{Path: path, Reason: fmt.Sprintf("invalid table name %q", s.Table)}
	}

	seen := make(map[string]struct{}, len(s.Columns))
	var primaryKeys, generatedKeys int
	for _, c := range s.Columns {
		if c.Field == "" {
			return &SchemaConfigError{Path: path, Reason: "column field is required"}
		}
		if !identifierPattern.MatchString(c.Field) {
			return &SchemaConfigError{Path: path, Field: c.Field, Reason: "invalid column name"}
		}
		if _, ok := seen[c.Field]; ok {
			return &SchemaConfigError{Path: path, Field: c.Field, Reason: "duplicate column field"}
		}
		seen[c.Field] = struct{}{}

		if c.Type == "" {
			return &SchemaConfigError{Path: path, Field: c.Field, Reason: "column type is required"}
		}
		if c.Length < 0 {
			return &SchemaConfigError{Path: path, Field: c.Field, Reason: fmt.Sprintf("invalid length %d", c.Length)}
		}
		if c.PrimaryKey {
			primaryKeys++
		}
		if c.GeneratedKey {
			if !c.PrimaryKey {
				return &SchemaConfigError{Path: path, Field: c.Field, Reason: "generated key must be primary key"}
			}
			generatedKeys++
		}
	}

	if primaryKeys > 1 {
		return &SchemaConfigError{Path: path, Reason: "composite primary key is not supported"}
	}
	if generatedKeys > 1 {
		return &SchemaConfigError{Path: path, Reason: "at most one generated key per table"}
	}
	return nil
}

// SchemaManager 逻辑模型名到表模型的只读映射，构造后不可变
type SchemaManager struct {
	names   []string
	schemas map[string]*Schema
}

// NewSchemaManager 按注册顺序构造，迁移按该顺序执行
func NewSchemaManager(schemas ...*Schema) (*SchemaManager, error) {
	m := &SchemaManager{
		schemas: make(map[string]*Schema, len(schemas)),
	}

	tables := make(map[string]string, len(schemas))
	for _, s := range schemas {
		if s == nil {
			continue
		}
		// 复制一份，避免调用方之后修改
		cp := *s
		cp.Columns = append([]Column(nil), s.Columns...)
		if cp.Name == "" {
			cp.Name = cp.Table
		}

		if err := cp.Validate(); err != nil {
			return nil, err
		}
		if _, ok := m.schemas[cp.Name]; ok {
			return nil, &SchemaConfigError{Path: cp.Name, Reason: "duplicate schema name"}
		}
		if other, ok := tables[cp.Table]; ok {
			return nil, &SchemaConfigError{Path: cp.Name, Reason: fmt.Sprintf("table %q already declared by %q", cp.Table, other)}
		}

		tables[cp.Table] = cp.Name
		m.names = append(m.names, cp.Name)
		m.schemas[cp.Name] = &cp
	}

	return m, nil
}

// MustNewSchemaManager 用于包初始化阶段的静态声明
func MustNewSchemaManager(schemas ...*Schema) *SchemaManager {
	m, err := NewSchemaManager(schemas...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get 根据逻辑模型名获取表模型
func (m *SchemaManager) Get(name string) (*Schema, bool) {
	s, ok := m.schemas[name]
	if !ok {
		return nil, false
	}
	cp := *s
	cp.Columns = append([]Column(nil), s.Columns...)
	return &cp, true
}

// Schemas 按注册顺序返回所有表模型的副本
func (m *SchemaManager) Schemas() []Schema {
	result := make([]Schema, 0, len(m.names))
	for _, name := range m.names {
		s := m.schemas[name]
		cp := *s
		cp.Columns = append([]Column(nil), s.Columns...)
		result = append(result, cp)
	}
	return result
}

func (m *SchemaManager) Names() []string {
	return append([]string(nil), m.names...)
}

func (m *SchemaManager) Len() int {
	return len(m.names)
}
