package migration

import (
	"context"

	"github.com/google/uuid"
	"github.com/hatlonely/orql/log"
	"github.com/hatlonely/orql/log/logger"
	"github.com/hatlonely/orql/rdb"
	"github.com/hatlonely/orql/rdb/dialect"
	"github.com/pkg/errors"
)

// Migration 让数据库表结构与模型声明保持一致
type Migration interface {
	// Create 对每个模型执行 create table if not exists
	Create(ctx context.Context, session rdb.Session) error

	// Drop 删除所有已存在的模型表，数据不可恢复
	Drop(ctx context.Context, session rdb.Session) error

	// Update 建缺失的表、加缺失的列，不修改也不删除已有列
	Update(ctx context.Context, session rdb.Session) error
}

// Action 迁移动作
type Action string

const (
	ActionCreateTable Action = "createTable"
	ActionDropTable   Action = "dropTable"
	ActionAddColumn   Action = "addColumn"
)

// Statement 一条待执行的 DDL
type Statement struct {
	Action Action
	Table  string
	Column string
	SQL    string
}

type Option func(*Migrator)

func WithLogger(l logger.Logger) Option {
	return func(m *Migrator) {
		if l != nil {
			m.logger = l
		}
	}
}

// Migrator 按 SchemaManager 的注册顺序逐条串行执行 DDL
// 不做依赖排序，有外键依赖的表需要调用方按顺序注册
type Migrator struct {
	manager *rdb.SchemaManager
	dialect dialect.Dialect
	logger  logger.Logger
}

func New(manager *rdb.SchemaManager, d dialect.Dialect, opts ...Option) (*Migrator, error) {
	if manager == nil {
		return nil, errors.New("schema manager is nil")
	}
	if d == nil {
		return nil, errors.New("dialect is nil")
	}

	m := &Migrator{
		manager: manager,
		dialect: d,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithGroup("migration")
	return m, nil
}

func (m *Migrator) Dialect() dialect.Dialect {
	return m.dialect
}

func (m *Migrator) Create(ctx context.Context, session rdb.Session) error {
	l := m.runLogger("create")
	for _, schema := range m.manager.Schemas() {
		if err := m.createTable(ctx, session, schema, l); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) Drop(ctx context.Context, session rdb.Session) error {
	l := m.runLogger("drop")
	for _, schema := range m.manager.Schemas() {
		if err := m.dropTable(ctx, session, schema, l); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) Update(ctx context.Context, session rdb.Session) error {
	l := m.runLogger("update")
	for _, schema := range m.manager.Schemas() {
		if err := m.updateTable(ctx, session, schema, l); err != nil {
			return err
		}
	}
	return nil
}

// Plan 返回 Update 将要执行的语句，只读取系统目录，不修改表结构
func (m *Migrator) Plan(ctx context.Context, session rdb.Session) ([]Statement, error) {
	var statements []Statement
	for _, schema := range m.manager.Schemas() {
		s, err := m.plan(ctx, session, schema)
		if err != nil {
			return nil, err
		}
		statements = append(statements, s...)
	}
	return statements, nil
}

// CreateTable 单表版本的 Create，name 为逻辑模型名
func (m *Migrator) CreateTable(ctx context.Context, session rdb.Session, name string) error {
	schema, err := m.schema(name)
	if err != nil {
		return err
	}
	return m.createTable(ctx, session, *schema, m.runLogger("create"))
}

// DropTable 单表版本的 Drop
func (m *Migrator) DropTable(ctx context.Context, session rdb.Session, name string) error {
	schema, err := m.schema(name)
	if err != nil {
		return err
	}
	return m.dropTable(ctx, session, *schema, m.runLogger("drop"))
}

// UpdateTable 单表版本的 Update，需要尽力而为的调用方可以逐表调用并自行处理错误
func (m *Migrator) UpdateTable(ctx context.Context, session rdb.Session, name string) error {
	schema, err := m.schema(name)
	if err != nil {
		return err
	}
	return m.updateTable(ctx, session, *schema, m.runLogger("update"))
}

func (m *Migrator) schema(name string) (*rdb.Schema, error) {
	schema, ok := m.manager.Get(name)
	if !ok {
		return nil, &rdb.SchemaConfigError{Path: name, Reason: "schema not registered"}
	}
	return schema, nil
}

func (m *Migrator) runLogger(operation string) logger.Logger {
	return m.logger.With("operation", operation, "runId", uuid.NewString())
}

func (m *Migrator) createTable(ctx context.Context, session rdb.Session, schema rdb.Schema, l logger.Logger) error {
	return m.exec(ctx, session, Statement{
		Action: ActionCreateTable,
		Table:  schema.Table,
		SQL:    m.dialect.CreateTableSQL(schema),
	}, l)
}

func (m *Migrator) dropTable(ctx context.Context, session rdb.Session, schema rdb.Schema, l logger.Logger) error {
	exists, err := m.dialect.TableExists(ctx, session, schema.Table)
	if err != nil {
		return &rdb.MigrationError{Table: schema.Table, Err: errors.WithMessage(err, "check table exists")}
	}
	if !exists {
		l.DebugContext(ctx, "table not exists, skip drop", "table", schema.Table)
		return nil
	}

	return m.exec(ctx, session, Statement{
		Action: ActionDropTable,
		Table:  schema.Table,
		SQL:    m.dialect.DropTableSQL(schema.Table),
	}, l)
}

func (m *Migrator) updateTable(ctx context.Context, session rdb.Session, schema rdb.Schema, l logger.Logger) error {
	statements, err := m.plan(ctx, session, schema)
	if err != nil {
		return err
	}
	if len(statements) == 0 {
		l.DebugContext(ctx, "table up to date", "table", schema.Table)
		return nil
	}

	for _, statement := range statements {
		if err := m.exec(ctx, session, statement, l); err != nil {
			return err
		}
	}
	return nil
}

// plan 只新增缺失的表和列，类型或长度不一致的列、库里多出来的列都保持原样
func (m *Migrator) plan(ctx context.Context, session rdb.Session, schema rdb.Schema) ([]Statement, error) {
	exists, err := m.dialect.TableExists(ctx, session, schema.Table)
	if err != nil {
		return nil, &rdb.MigrationError{Table: schema.Table, Err: errors.WithMessage(err, "check table exists")}
	}
	if !exists {
		return []Statement{{
			Action: ActionCreateTable,
			Table:  schema.Table,
			SQL:    m.dialect.CreateTableSQL(schema),
		}}, nil
	}

	live, err := m.dialect.ColumnNames(ctx, session, schema.Table)
	if err != nil {
		return nil, &rdb.MigrationError{Table: schema.Table, Err: errors.WithMessage(err, "list columns")}
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, name := range live {
		liveSet[name] = struct{}{}
	}

	var statements []Statement
	for _, column := range schema.Columns {
		if _, ok := liveSet[column.Field]; ok {
			continue
		}
		statements = append(statements, Statement{
			Action: ActionAddColumn,
			Table:  schema.Table,
			Column: column.Field,
			SQL:    m.dialect.AddColumnSQL(schema.Table, column),
		})
	}
	return statements, nil
}

func (m *Migrator) exec(ctx context.Context, session rdb.Session, statement Statement, l logger.Logger) error {
	l.DebugContext(ctx, "execute statement", "table", statement.Table, "statement", statement.SQL)
	if err := session.NativeUpdate(ctx, statement.SQL); err != nil {
		l.ErrorContext(ctx, "statement failed", "table", statement.Table, "column", statement.Column, "statement", statement.SQL, "error", err.Error())
		return &rdb.MigrationError{
			Table:     statement.Table,
			Column:    statement.Column,
			Statement: statement.SQL,
			Err:       err,
		}
	}
	l.InfoContext(ctx, "table migrated", "table", statement.Table, "action", string(statement.Action), "column", statement.Column)
	return nil
}
