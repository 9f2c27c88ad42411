package migration

import (
	"context"
	"testing"

	"github.com/hatlonely/orql/log"
	"github.com/hatlonely/orql/rdb"
	"github.com/hatlonely/orql/rdb/database"
	"github.com/hatlonely/orql/rdb/dialect"
	"github.com/hatlonely/orql/rdb/rdbtest"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	roleSchema = &rdb.Schema{
		Name:  "role",
		Table: "role",
		Columns: []rdb.Column{
			{Field: "id", Type: rdb.TypeInt, PrimaryKey: true, GeneratedKey: true},
			{Field: "name", Type: rdb.TypeString, Length: 50, Required: true},
		},
	}
	userSchema = &rdb.Schema{
		Name:  "user",
		Table: "user",
		Columns: []rdb.Column{
			{Field: "id", Type: rdb.TypeInt, PrimaryKey: true, GeneratedKey: true},
			{Field: "name", Type: rdb.TypeString, Length: 50, Required: true},
			{Field: "age", Type: rdb.TypeInt, Required: true},
			{Field: "roleId", Type: rdb.TypeInt},
		},
	}
)

func newTestMigrator(schemas ...*rdb.Schema) *Migrator {
	m, err := New(rdb.MustNewSchemaManager(schemas...), dialect.SQLite, WithLogger(log.Nop()))
	So(err, ShouldBeNil)
	return m
}

func TestNew(t *testing.T) {
	Convey("测试 New", t, func() {
		_, err := New(nil, dialect.SQLite)
		So(err, ShouldNotBeNil)

		_, err = New(rdb.MustNewSchemaManager(), nil)
		So(err, ShouldNotBeNil)

		m, err := New(rdb.MustNewSchemaManager(), dialect.MySQL)
		So(err, ShouldBeNil)
		So(m.Dialect(), ShouldEqual, dialect.MySQL)
	})
}

func TestCreate(t *testing.T) {
	Convey("测试 Create", t, func() {
		ctx := context.Background()
		session := rdbtest.NewSession(nil)
		m := newTestMigrator(roleSchema, userSchema)

		So(m.Create(ctx, session), ShouldBeNil)
		So(session.Updates(), ShouldResemble, []string{
			"create table if not exists role (id integer primary key autoincrement, name varchar(50) not null)",
			"create table if not exists user (id integer primary key autoincrement, name varchar(50) not null, age integer not null, roleId integer)",
		})
		So(session.Tables(), ShouldResemble, map[string][]string{
			"role": {"id", "name"},
			"user": {"id", "name", "age", "roleId"},
		})

		Convey("重复执行不改变表结构", func() {
			before := session.Tables()
			So(m.Create(ctx, session), ShouldBeNil)
			So(session.Tables(), ShouldResemble, before)
		})

		Convey("执行失败时停止并返回 MigrationError", func() {
			session := rdbtest.NewSession(nil)
			session.FailOn = "role"
			err := m.Create(ctx, session)
			So(errors.Is(err, rdb.ErrMigration), ShouldBeTrue)

			var me *rdb.MigrationError
			So(errors.As(err, &me), ShouldBeTrue)
			So(me.Table, ShouldEqual, "role")
			So(me.Statement, ShouldStartWith, "create table if not exists role")
			So(len(session.Updates()), ShouldEqual, 1)
		})
	})
}

func TestDrop(t *testing.T) {
	Convey("测试 Drop", t, func() {
		ctx := context.Background()
		m := newTestMigrator(roleSchema, userSchema)

		Convey("只删除存在的表", func() {
			session := rdbtest.NewSession(map[string][]string{"user": {"id"}, "other": {"id"}})
			So(m.Drop(ctx, session), ShouldBeNil)
			So(session.Updates(), ShouldResemble, []string{"drop table user"})
			So(session.Tables(), ShouldResemble, map[string][]string{"other": {"id"}})
		})

		Convey("检查表存在失败", func() {
			session := rdbtest.NewSession(nil)
			session.FailOn = "sqlite_master"
			err := m.Drop(ctx, session)
			var me *rdb.MigrationError
			So(errors.As(err, &me), ShouldBeTrue)
			So(me.Table, ShouldEqual, "role")
		})
	})
}

func TestUpdate(t *testing.T) {
	Convey("测试 Update", t, func() {
		ctx := context.Background()
		m := newTestMigrator(roleSchema, userSchema)

		Convey("表不存在时建表", func() {
			session := rdbtest.NewSession(map[string][]string{"role": {"id", "name"}})
			So(m.Update(ctx, session), ShouldBeNil)
			So(session.Updates(), ShouldResemble, []string{
				"create table if not exists user (id integer primary key autoincrement, name varchar(50) not null, age integer not null, roleId integer)",
			})
		})

		Convey("已收敛时不产生任何语句", func() {
			session := rdbtest.NewSession(nil)
			So(m.Create(ctx, session), ShouldBeNil)
			session.Reset()

			So(m.Update(ctx, session), ShouldBeNil)
			So(session.Updates(), ShouldBeEmpty)
		})

		Convey("只为缺失的列加列", func() {
			session := rdbtest.NewSession(map[string][]string{
				"role": {"id", "name"},
				"user": {"id", "name"},
			})
			So(m.Update(ctx, session), ShouldBeNil)
			So(session.Updates(), ShouldResemble, []string{
				"alter table user add column age integer not null",
				"alter table user add column roleId integer",
			})
			So(session.Tables()["user"], ShouldResemble, []string{"id", "name", "age", "roleId"})
		})

		Convey("库里多出来的列保持不变", func() {
			session := rdbtest.NewSession(map[string][]string{
				"role": {"id", "name", "legacy"},
				"user": {"id", "name", "age", "roleId", "deprecated"},
			})
			So(m.Update(ctx, session), ShouldBeNil)
			So(session.Updates(), ShouldBeEmpty)
			So(session.Tables()["role"], ShouldResemble, []string{"id", "name", "legacy"})
		})

		Convey("加列失败时返回出错的列", func() {
			session := rdbtest.NewSession(map[string][]string{
				"role": {"id", "name"},
				"user": {"id", "name"},
			})
			session.FailOn = "add column age"
			err := m.Update(ctx, session)
			var me *rdb.MigrationError
			So(errors.As(err, &me), ShouldBeTrue)
			So(me.Table, ShouldEqual, "user")
			So(me.Column, ShouldEqual, "age")
			So(me.Statement, ShouldEqual, "alter table user add column age integer not null")
			So(len(session.Updates()), ShouldEqual, 1)
		})

		Convey("列出列失败", func() {
			session := rdbtest.NewSession(map[string][]string{"role": {"id", "name"}})
			session.FailOn = "table_info"
			err := m.Update(ctx, session)
			So(errors.Is(err, rdb.ErrMigration), ShouldBeTrue)
		})
	})
}

func TestUpdateOneColumn(t *testing.T) {
	Convey("已有 [A, B] 声明 [A, B, C] 时只加 C", t, func() {
		ctx := context.Background()
		schema := &rdb.Schema{Table: "t", Columns: []rdb.Column{
			{Field: "a", Type: rdb.TypeInt},
			{Field: "b", Type: rdb.TypeString},
			{Field: "c", Type: rdb.TypeFloat},
		}}
		m := newTestMigrator(schema)
		session := rdbtest.NewSession(map[string][]string{"t": {"a", "b"}})

		So(m.Update(ctx, session), ShouldBeNil)
		So(session.Updates(), ShouldResemble, []string{"alter table t add column c float"})
	})
}

func TestPlan(t *testing.T) {
	Convey("测试 Plan", t, func() {
		ctx := context.Background()
		m := newTestMigrator(roleSchema, userSchema)
		session := rdbtest.NewSession(map[string][]string{"user": {"id", "name", "age"}})

		statements, err := m.Plan(ctx, session)
		So(err, ShouldBeNil)
		So(statements, ShouldResemble, []Statement{
			{Action: ActionCreateTable, Table: "role", SQL: "create table if not exists role (id integer primary key autoincrement, name varchar(50) not null)"},
			{Action: ActionAddColumn, Table: "user", Column: "roleId", SQL: "alter table user add column roleId integer"},
		})
		So(session.Updates(), ShouldBeEmpty)
	})
}

func TestSingleTable(t *testing.T) {
	Convey("测试单表操作", t, func() {
		ctx := context.Background()
		m := newTestMigrator(roleSchema, userSchema)
		session := rdbtest.NewSession(nil)

		So(m.CreateTable(ctx, session, "user"), ShouldBeNil)
		So(session.Tables(), ShouldContainKey, "user")
		So(session.Tables(), ShouldNotContainKey, "role")

		So(m.UpdateTable(ctx, session, "role"), ShouldBeNil)
		So(session.Tables(), ShouldContainKey, "role")

		So(m.DropTable(ctx, session, "user"), ShouldBeNil)
		So(session.Tables(), ShouldNotContainKey, "user")

		err := m.CreateTable(ctx, session, "missing")
		So(errors.Is(err, rdb.ErrSchemaConfig), ShouldBeTrue)
		So(errors.Is(m.DropTable(ctx, session, "missing"), rdb.ErrSchemaConfig), ShouldBeTrue)
		So(errors.Is(m.UpdateTable(ctx, session, "missing"), rdb.ErrSchemaConfig), ShouldBeTrue)
	})
}

func TestSQLiteIntegration(t *testing.T) {
	Convey("在 sqlite 内存库上迁移", t, func() {
		ctx := context.Background()
		session, err := database.NewSQLWithOptions(&database.SQLOptions{Driver: "sqlite3", Database: ":memory:"})
		So(err, ShouldBeNil)
		defer session.Close()

		oldUser := &rdb.Schema{Name: "user", Table: "user", Columns: userSchema.Columns[:2]}
		So(newTestMigrator(roleSchema, oldUser).Create(ctx, session), ShouldBeNil)
		So(session.NativeUpdate(ctx, "insert into user (name) values ('n1')"), ShouldBeNil)

		m := newTestMigrator(roleSchema, userSchema)
		So(m.Create(ctx, session), ShouldBeNil)

		statements, err := m.Plan(ctx, session)
		So(err, ShouldBeNil)
		So(len(statements), ShouldEqual, 2)

		// sqlite 不允许加没有默认值的 not null 列
		err = m.Update(ctx, session)
		var me *rdb.MigrationError
		So(errors.As(err, &me), ShouldBeTrue)
		So(me.Column, ShouldEqual, "age")

		relaxed := &rdb.Schema{Name: "user", Table: "user", Columns: []rdb.Column{
			userSchema.Columns[0], userSchema.Columns[1],
			{Field: "age", Type: rdb.TypeInt},
			userSchema.Columns[3],
		}}
		m = newTestMigrator(roleSchema, relaxed)
		So(m.Update(ctx, session), ShouldBeNil)

		columns, err := dialect.SQLite.ColumnNames(ctx, session, "user")
		So(err, ShouldBeNil)
		So(columns, ShouldResemble, []string{"id", "name", "age", "roleId"})

		statements, err = m.Plan(ctx, session)
		So(err, ShouldBeNil)
		So(statements, ShouldBeEmpty)

		So(m.Drop(ctx, session), ShouldBeNil)
		exists, err := dialect.SQLite.TableExists(ctx, session, "user")
		So(err, ShouldBeNil)
		So(exists, ShouldBeFalse)

		So(m.Drop(ctx, session), ShouldBeNil)
	})
}
