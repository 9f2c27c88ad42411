package rdb

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type tableNamer interface {
	TableName() string
}

// SchemaFromStruct 从结构体构建表模型
// 支持的 tag 格式：
// - `rdb:"column_name,type=string,length=50,required,primary,generated"`
// - `rdb:"-"` 忽略字段
// 表名优先取 TableName() 方法，否则使用结构体名的小写形式
func SchemaFromStruct(v any) (*Schema, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}

	rt := rv.Type()
	name := strings.ToLower(rt.Name())
	schema := &Schema{
		Name:  name,
		Table: name,
	}
	if namer, ok := v.(tableNamer); ok {
		schema.Table = namer.TableName()
	} else if namer, ok := rv.Interface().(tableNamer); ok {
		schema.Table = namer.TableName()
	}

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("rdb")
		if tag == "-" {
			continue
		}

		column, err := parseColumnTag(field, tag)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to parse field %s", field.Name)
		}
		schema.Columns = append(schema.Columns, column)
	}

	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

// MustSchemaFromStruct 解析失败时 panic
func MustSchemaFromStruct(v any) *Schema {
	s, err := SchemaFromStruct(v)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseColumnTag 解析 tag 语法的列声明，如 `int,primary,generated`
// field 为空时 tag 第一段作为字段名
func ParseColumnTag(field string, tag string) (Column, error) {
	column := Column{Field: field}
	if err := applyColumnTag(&column, tag, field == ""); err != nil {
		return Column{}, err
	}
	if column.Field == "" {
		return Column{}, errors.Errorf("column field is required in tag %q", tag)
	}
	return column, nil
}

func parseColumnTag(field reflect.StructField, tag string) (Column, error) {
	column := Column{
		Field: strings.ToLower(field.Name),
		Type:  inferLogicalType(field.Type),
	}
	if err := applyColumnTag(&column, tag, true); err != nil {
		return Column{}, err
	}
	return column, nil
}

func applyColumnTag(column *Column, tag string, withName bool) error {
	if tag == "" {
		return nil
	}

	parts := strings.Split(tag, ",")
	// 第一部分是字段名（如果指定）
	if first := strings.TrimSpace(parts[0]); withName && first != "" && !strings.Contains(first, "=") && !isColumnFlag(first) {
		column.Field = first
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "type":
				column.Type = LogicalType(value)
			case "length", "size":
				n, err := strconv.Atoi(value)
				if err != nil {
					return errors.Errorf("invalid %s %q", key, value)
				}
				column.Length = n
			default:
				return errors.Errorf("unknown option %q", key)
			}
			continue
		}

		switch part {
		case "required", "not_null":
			column.Required = true
		case "primary", "pk":
			column.PrimaryKey = true
		case "generated", "auto":
			column.GeneratedKey = true
		default:
			// 单独写类型名也可以，比如 `int,primary`
			column.Type = LogicalType(part)
		}
	}
	return nil
}

func isColumnFlag(s string) bool {
	switch s {
	case "required", "not_null", "primary", "pk", "generated", "auto":
		return true
	}
	return false
}

// inferLogicalType 从 Go 类型推断逻辑类型
func inferLogicalType(t reflect.Type) LogicalType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == reflect.TypeOf(time.Time{}) {
		return TypeDate
	}

	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt
	case reflect.Float32, reflect.Float64:
		return TypeFloat
	case reflect.Bool:
		return TypeBoolean
	default:
		return TypeJSON
	}
}
