package mapper

import (
	"context"
	"testing"
	"time"

	"github.com/hatlonely/orql/rdb"
	"github.com/hatlonely/orql/rdb/database"
	"github.com/hatlonely/orql/rdb/rdbtest"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(columns []string, values ...any) rdb.Row {
	return rdb.NewRow(columns, values)
}

var userPostColumns = []string{"uid", "uname", "pid", "ptitle"}

func userPostMapper() *Mapper {
	return MustNew(
		Id(ResultKey("uid")),
		Column("name", ResultKey("uname")),
		Array("posts",
			Id(ResultKey("pid")),
			Column("title", ResultKey("ptitle")),
		),
	)
}

func TestCompile(t *testing.T) {
	Convey("测试映射树编译", t, func() {
		Convey("缺省 Id 时自动补 id", func() {
			m, err := New(Column("name"), Array("posts", Column("title")))
			So(err, ShouldBeNil)
			So(m.flat, ShouldBeFalse)
			So(m.root.id, ShouldResemble, leaf{field: "id", key: "id"})
			So(m.root.children[0].id, ShouldResemble, leaf{field: "id", key: "id"})
			So(m.root.children[0].path, ShouldEqual, "root.posts")
		})

		Convey("只有 Column 时按行映射", func() {
			m, err := New(Column("name"), Column("age"))
			So(err, ShouldBeNil)
			So(m.flat, ShouldBeTrue)
			So(m.IsArray(), ShouldBeTrue)
		})

		Convey("多个 Id", func() {
			_, err := New(Id(), Id(Field("uid")))
			So(errors.Is(err, rdb.ErrSchemaConfig), ShouldBeTrue)
		})

		Convey("重复字段", func() {
			_, err := New(Id(), Column("name"), Column("name", ResultKey("n2")))
			var sce *rdb.SchemaConfigError
			So(errors.As(err, &sce), ShouldBeTrue)
			So(sce.Path, ShouldEqual, "root")
			So(sce.Field, ShouldEqual, "name")
		})

		Convey("字段 id 与隐式 Id 冲突", func() {
			_, err := New(Column("id"), Object("role", Column("name")))
			So(errors.Is(err, rdb.ErrSchemaConfig), ShouldBeTrue)
		})

		Convey("嵌套节点错误带路径", func() {
			_, err := New(Id(), Array("posts", Id(), Object("", Column("x"))))
			var sce *rdb.SchemaConfigError
			So(errors.As(err, &sce), ShouldBeTrue)
			So(sce.Path, ShouldEqual, "root.posts")
		})

		Convey("叶子节点不能有子节点", func() {
			_, err := New(Id(), Node{Kind: KindColumn, Field: "x", Children: []Node{Column("y")}})
			So(errors.Is(err, rdb.ErrSchemaConfig), ShouldBeTrue)
		})

		Convey("未知节点类型", func() {
			_, err := New(Id(), Node{Field: "x"})
			So(errors.Is(err, rdb.ErrSchemaConfig), ShouldBeTrue)
			So(func() { MustNew(Id(), Id()) }, ShouldPanic)
		})
	})
}

func TestMapRoundTrip(t *testing.T) {
	Convey("对象根节点映射单行", t, func() {
		m := MustNewObject(Id(), Column("name"))
		So(m.IsArray(), ShouldBeFalse)

		v, err := m.Map([]rdb.Row{row([]string{"id", "name"}, 1, "r1")})
		So(err, ShouldBeNil)
		So(v, ShouldResemble, map[string]any{"id": 1, "name": "r1"})

		v, err = m.Map(nil)
		So(err, ShouldBeNil)
		So(v, ShouldBeNil)
	})
}

func TestMapGrouping(t *testing.T) {
	Convey("同一个 id 的多行合并为一个对象", t, func() {
		m := userPostMapper()
		values, err := m.MapMany([]rdb.Row{
			row(userPostColumns, 1, "n1", 10, "t1"),
			row(userPostColumns, 1, "n1", 11, "t2"),
		})
		So(err, ShouldBeNil)
		So(values, ShouldResemble, []map[string]any{
			{
				"id":   1,
				"name": "n1",
				"posts": []map[string]any{
					{"id": 10, "title": "t1"},
					{"id": 11, "title": "t2"},
				},
			},
		})
	})

	Convey("子数组的去重作用域限于父实例", t, func() {
		m := userPostMapper()
		values, err := m.MapMany([]rdb.Row{
			row(userPostColumns, 1, "n1", 10, "t1"),
			row(userPostColumns, 2, "n2", 10, "t1"),
			row(userPostColumns, 2, "n2", 10, "t1"),
		})
		So(err, ShouldBeNil)
		So(len(values), ShouldEqual, 2)
		So(values[0]["posts"], ShouldHaveLength, 1)
		So(values[1]["posts"], ShouldHaveLength, 1)
	})
}

func TestMapNullRelation(t *testing.T) {
	Convey("子节点 id 为 null 时不产生元素", t, func() {
		m := userPostMapper()
		values, err := m.MapMany([]rdb.Row{
			row(userPostColumns, 1, "n1", nil, nil),
			row(userPostColumns, 2, "n2", 20, "t20"),
		})
		So(err, ShouldBeNil)
		So(values[0]["posts"], ShouldResemble, []map[string]any{})
		So(values[1]["posts"], ShouldResemble, []map[string]any{{"id": 20, "title": "t20"}})
	})

	Convey("一对一关系 id 为 null 时为 nil", t, func() {
		m := MustNew(Id(), Column("name"), Object("role", Id(ResultKey("rid")), Column("name", ResultKey("rname"))))
		values, err := m.MapMany([]rdb.Row{
			row([]string{"id", "name", "rid", "rname"}, 1, "n1", nil, nil),
		})
		So(err, ShouldBeNil)
		So(values[0]["role"], ShouldBeNil)
		So(values[0], ShouldContainKey, "role")
	})

	Convey("一对一关系首行为 null 时由后续行补齐", t, func() {
		columns := []string{"id", "rid", "rname", "pid"}
		m := MustNew(Id(), Object("role",
			Id(ResultKey("rid")),
			Column("name", ResultKey("rname")),
			Array("perms", Id(ResultKey("pid"))),
		))
		values, err := m.MapMany([]rdb.Row{
			row(columns, 1, nil, nil, nil),
			row(columns, 1, 5, "r", nil),
			row(columns, 1, 5, "changed", 9),
		})
		So(err, ShouldBeNil)
		So(values, ShouldResemble, []map[string]any{{
			"id":   1,
			"role": map[string]any{"id": 5, "name": "r", "perms": []map[string]any{{"id": 9}}},
		}})
	})

	Convey("根节点 id 为 null 的行被忽略", t, func() {
		values, err := userPostMapper().MapMany([]rdb.Row{row(userPostColumns, nil, nil, nil, nil)})
		So(err, ShouldBeNil)
		So(values, ShouldBeEmpty)
	})
}

func TestMapOrder(t *testing.T) {
	Convey("不相邻的重复 id 保持首次出现的位置", t, func() {
		m := userPostMapper()
		values, err := m.MapMany([]rdb.Row{
			row(userPostColumns, 2, "n2", 20, "t20"),
			row(userPostColumns, 1, "n1", 10, "t10"),
			row(userPostColumns, 2, "n2-changed", 21, "t21"),
			row(userPostColumns, 1, "n1", 10, "t10"),
		})
		So(err, ShouldBeNil)
		So(values, ShouldResemble, []map[string]any{
			{"id": 2, "name": "n2", "posts": []map[string]any{{"id": 20, "title": "t20"}, {"id": 21, "title": "t21"}}},
			{"id": 1, "name": "n1", "posts": []map[string]any{{"id": 10, "title": "t10"}}},
		})
	})
}

func TestMapNested(t *testing.T) {
	Convey("多层嵌套", t, func() {
		columns := []string{"uid", "rid", "rname", "pid", "cid", "ctext"}
		m := MustNew(
			Id(ResultKey("uid")),
			Object("role", Id(ResultKey("rid")), Column("name", ResultKey("rname"))),
			Array("posts",
				Id(ResultKey("pid")),
				Array("comments", Id(ResultKey("cid")), Column("text", ResultKey("ctext"))),
			),
		)
		values, err := m.MapMany([]rdb.Row{
			row(columns, 1, 7, "admin", 10, 100, "c1"),
			row(columns, 1, 7, "admin", 10, 101, "c2"),
			row(columns, 1, 7, "admin", 11, nil, nil),
		})
		So(err, ShouldBeNil)
		So(values, ShouldResemble, []map[string]any{{
			"id":   1,
			"role": map[string]any{"id": 7, "name": "admin"},
			"posts": []map[string]any{
				{"id": 10, "comments": []map[string]any{{"id": 100, "text": "c1"}, {"id": 101, "text": "c2"}}},
				{"id": 11, "comments": []map[string]any{}},
			},
		}})
	})
}

func TestMapContractViolation(t *testing.T) {
	Convey("一对一关系出现多个 id", t, func() {
		columns := []string{"id", "rid"}
		m := MustNew(Id(), Object("role", Id(ResultKey("rid"))))
		_, err := m.MapMany([]rdb.Row{row(columns, 1, 7), row(columns, 1, 8)})
		So(errors.Is(err, rdb.ErrMappingContract), ShouldBeTrue)

		var mcv *rdb.MappingContractViolation
		So(errors.As(err, &mcv), ShouldBeTrue)
		So(mcv.Path, ShouldEqual, "root.role")
		So(mcv.Ids, ShouldResemble, []any{7, 8})
	})

	Convey("对象根节点出现多个 id", t, func() {
		m := MustNewObject(Id(), Column("name"))
		_, err := m.MapOne([]rdb.Row{row([]string{"id", "name"}, 1, "a"), row([]string{"id", "name"}, 2, "b")})
		So(errors.Is(err, rdb.ErrMappingContract), ShouldBeTrue)
	})
}

func TestMapMissingKey(t *testing.T) {
	Convey("结果行缺少列", t, func() {
		m := userPostMapper()
		_, err := m.MapMany([]rdb.Row{row([]string{"uid", "pid", "ptitle"}, 1, 10, "t1")})
		var sce *rdb.SchemaConfigError
		So(errors.As(err, &sce), ShouldBeTrue)
		So(sce.Field, ShouldEqual, "name")

		_, err = m.MapMany([]rdb.Row{
			row(userPostColumns, 1, "n1", 10, "t1"),
			row([]string{"uid", "uname", "pid"}, 1, "n1", 11),
		})
		So(errors.As(err, &sce), ShouldBeTrue)
		So(sce.Path, ShouldEqual, "root.posts")
		So(sce.Field, ShouldEqual, "title")
	})

	Convey("多余的列被忽略", t, func() {
		m := MustNew(Id(), Column("name"))
		values, err := m.MapMany([]rdb.Row{row([]string{"id", "name", "extra"}, 1, "a", "x")})
		So(err, ShouldBeNil)
		So(values, ShouldResemble, []map[string]any{{"id": 1, "name": "a"}})
	})
}

func TestMapFlat(t *testing.T) {
	m := MustNew(Column("name"), Column("total", ResultKey("count(*)")))
	values, err := m.MapMany([]rdb.Row{
		row([]string{"name", "count(*)"}, "a", int64(2)),
		row([]string{"name", "count(*)"}, "a", int64(2)),
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"name": "a", "total": int64(2)},
		{"name": "a", "total": int64(2)},
	}, values)

	values, err = m.MapMany(nil)
	require.NoError(t, err)
	assert.NotNil(t, values)
	assert.Empty(t, values)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, dedupKey(int64(1)), dedupKey(1))
	assert.Equal(t, "abc", dedupKey([]byte("abc")))
	assert.Equal(t, "[1 2]", dedupKey([]int{1, 2}))
	assert.Equal(t, "x", dedupKey("x"))
}

type Post struct {
	Id    int64  `rdb:"id"`
	Title string `rdb:"title"`
}

type User struct {
	Id        int64     `rdb:"id"`
	Name      string    `rdb:"name"`
	CreatedAt time.Time `rdb:"createdAt"`
	Posts     []Post    `rdb:"posts"`
}

func TestDecode(t *testing.T) {
	Convey("解码到结构体", t, func() {
		m := MustNew(
			Id(ResultKey("uid")),
			Column("name", ResultKey("uname")),
			Column("createdAt", ResultKey("created")),
			Array("posts", Id(ResultKey("pid")), Column("title", ResultKey("ptitle"))),
		)
		columns := []string{"uid", "uname", "created", "pid", "ptitle"}
		values, err := m.MapMany([]rdb.Row{
			row(columns, int64(1), "n1", "2024-01-02 03:04:05", "10", []byte("t1")),
			row(columns, int64(1), "n1", "2024-01-02 03:04:05", "11", []byte("t2")),
		})
		So(err, ShouldBeNil)

		var users []User
		So(Decode(values, &users), ShouldBeNil)
		So(users, ShouldResemble, []User{{
			Id:        1,
			Name:      "n1",
			CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Posts:     []Post{{Id: 10, Title: "t1"}, {Id: 11, Title: "t2"}},
		}})

		var user User
		So(Decode(map[string]any{"createdAt": "not a time"}, &user), ShouldNotBeNil)
	})
}

func TestQuery(t *testing.T) {
	Convey("在 sqlite 内存库上查询并映射", t, func() {
		ctx := context.Background()
		session, err := database.NewSQLWithOptions(&database.SQLOptions{Driver: "sqlite3", Database: ":memory:"})
		So(err, ShouldBeNil)
		defer session.Close()

		for _, sql := range []string{
			"create table user (id integer primary key, name varchar(50))",
			"create table post (id integer primary key, userId integer, title varchar(50))",
			"insert into user (id, name) values (1, 'n1'), (2, 'n2')",
			"insert into post (id, userId, title) values (10, 1, 't1'), (11, 1, 't2')",
		} {
			So(session.NativeUpdate(ctx, sql), ShouldBeNil)
		}

		query := "select u.id as uid, u.name as uname, p.id as pid, p.title as ptitle from user u left join post p on p.userId = u.id order by u.id, p.id"

		values, err := userPostMapper().QueryMany(ctx, session, query)
		So(err, ShouldBeNil)
		So(len(values), ShouldEqual, 2)
		So(values[0]["posts"], ShouldHaveLength, 2)
		So(values[1]["posts"], ShouldResemble, []map[string]any{})

		var users []User
		So(userPostMapper().QueryInto(ctx, session, query, &users), ShouldBeNil)
		So(users[0].Posts, ShouldResemble, []Post{{Id: 10, Title: "t1"}, {Id: 11, Title: "t2"}})
		So(users[1].Name, ShouldEqual, "n2")

		one, err := MustNewObject(Id(), Column("name")).QueryOne(ctx, session, "select id, name from user where id = 2")
		So(err, ShouldBeNil)
		So(one["name"], ShouldEqual, "n2")

		var user User
		So(MustNewObject(Id(), Column("name")).QueryInto(ctx, session, "select id, name from user where id = 3", &user), ShouldBeNil)
		So(user.Id, ShouldEqual, 0)
	})

	Convey("查询失败", t, func() {
		session := rdbtest.NewSession(nil)
		_, err := userPostMapper().Query(context.Background(), session, "select 1")
		So(err, ShouldNotBeNil)
	})
}
