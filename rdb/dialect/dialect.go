package dialect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hatlonely/orql/rdb"
	"github.com/pkg/errors"
)

// Dialect 数据库方言，负责逻辑类型到物理类型的映射、DDL 生成和表结构自省
type Dialect interface {
	Name() string

	// ColumnType 物理类型，声明了 length 时渲染为 type(length)
	ColumnType(column rdb.Column) string

	// ColumnDefinition 单列定义片段：<field> <type> [primary key] [autoincrement] [not null]
	ColumnDefinition(column rdb.Column) string

	CreateTableSQL(schema rdb.Schema) string
	DropTableSQL(table string) string
	AddColumnSQL(table string, column rdb.Column) string

	// TableExists 查询系统目录判断表是否存在
	TableExists(ctx context.Context, session rdb.Session, table string) (bool, error)

	// ColumnNames 列出表的现有列名
	ColumnNames(ctx context.Context, session rdb.Session, table string) ([]string, error)
}

// base 各方言共享的 DDL 渲染逻辑
type base struct {
	name          string
	types         map[rdb.LogicalType]string
	defaultLength map[rdb.LogicalType]int
	autoIncrement string
	// generatedType 不为空时自增列直接使用该类型（如 postgres 的 serial），不再追加关键字
	generatedType string
}

func (b *base) Name() string {
	return b.name
}

func (b *base) ColumnType(column rdb.Column) string {
	if column.GeneratedKey && b.generatedType != "" {
		return b.generatedType
	}

	typ := string(column.Type)
	if physical, ok := b.types[column.Type]; ok {
		typ = physical
	}

	length := column.Length
	if length <= 0 {
		length = b.defaultLength[column.Type]
	}
	if length > 0 {
		return fmt.Sprintf("%s(%d)", typ, length)
	}
	return typ
}

func (b *base) ColumnDefinition(column rdb.Column) string {
	sql := column.Field + " " + b.ColumnType(column)
	if column.PrimaryKey {
		sql += " primary key"
	}
	if column.GeneratedKey && b.generatedType == "" && b.autoIncrement != "" {
		sql += " " + b.autoIncrement
	}
	if !column.PrimaryKey && column.Required {
		sql += " not null"
	}
	return sql
}

func (b *base) CreateTableSQL(schema rdb.Schema) string {
	columns := make([]string, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		columns = append(columns, b.ColumnDefinition(column))
	}
	return fmt.Sprintf("create table if not exists %s (%s)", schema.Table, strings.Join(columns, ", "))
}

func (b *base) DropTableSQL(table string) string {
	return fmt.Sprintf("drop table %s", table)
}

func (b *base) AddColumnSQL(table string, column rdb.Column) string {
	return fmt.Sprintf("alter table %s add column %s", table, b.ColumnDefinition(column))
}

// quoteLiteral 单引号字符串字面量，内部单引号转义
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// countRows 读取 select count(*) 的结果
func countRows(ctx context.Context, session rdb.Session, sql string) (int64, error) {
	rows, err := session.NativeQuery(ctx, sql)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0].At(0))
}

// columnNames 读取结果集中指定列的字符串值
func columnNames(ctx context.Context, session rdb.Session, sql string, column string) ([]string, error) {
	rows, err := session.NativeQuery(ctx, sql)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		v, ok := row.Get(column)
		if !ok {
			return nil, errors.Errorf("catalog result has no column %q", column)
		}
		switch s := v.(type) {
		case string:
			names = append(names, s)
		case []byte:
			names = append(names, string(s))
		default:
			names = append(names, fmt.Sprint(v))
		}
	}
	return names, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, errors.Errorf("unexpected count value %v (%T)", v, v)
	}
}

var dialects sync.Map

// Register 注册方言，重复注册会覆盖
func Register(name string, d Dialect) {
	dialects.Store(name, d)
}

// Get 根据名称（通常是 database/sql 驱动名）获取方言
func Get(name string) (Dialect, error) {
	v, ok := dialects.Load(name)
	if !ok {
		return nil, errors.Errorf("unsupported dialect: %s", name)
	}
	return v.(Dialect), nil
}

func MustGet(name string) Dialect {
	d, err := Get(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names 已注册的方言名，按字母排序
func Names() []string {
	var names []string
	dialects.Range(func(key, value any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func init() {
	Register("sqlite3", SQLite)
	Register("sqlite", SQLite)
	Register("mysql", MySQL)
	Register("postgres", Postgres)
	Register("postgresql", Postgres)
}
