package mapper

import (
	"fmt"
	"reflect"

	"github.com/hatlonely/orql/rdb"
)

const rootPath = "root"

// leaf 编译后的 Id 或 Column 节点
type leaf struct {
	field string
	key   string
}

// scope 编译后的 Object 或 Array 节点，每个实例按 id 去重
type scope struct {
	path     string
	field    string
	array    bool
	id       leaf
	columns  []leaf
	children []*scope
}

// Mapper 编译后的映射树，创建后只读，可以在多个 goroutine 间共享
type Mapper struct {
	root *scope
	// flat 根节点只有 Column 时每行对应一个结果，不做去重
	flat bool
}

// New 以数组作为根节点编译映射树
// 根节点下只有 Column 时按行一一映射，否则按 id 去重，没有 Id 时补一个 id
func New(children ...Node) (*Mapper, error) {
	return compileRoot(Array("", children...))
}

// NewObject 以单个对象作为根节点编译映射树，所有行必须属于同一个 id
func NewObject(children ...Node) (*Mapper, error) {
	return compileRoot(Object("", children...))
}

func MustNew(children ...Node) *Mapper {
	m, err := New(children...)
	if err != nil {
		panic(err)
	}
	return m
}

func MustNewObject(children ...Node) *Mapper {
	m, err := NewObject(children...)
	if err != nil {
		panic(err)
	}
	return m
}

func compileRoot(root Node) (*Mapper, error) {
	flat := root.Kind == KindArray && len(root.Children) > 0
	for _, child := range root.Children {
		if child.Kind != KindColumn {
			flat = false
			break
		}
	}

	s, err := compile(rootPath, root, flat)
	if err != nil {
		return nil, err
	}
	return &Mapper{root: s, flat: flat}, nil
}

func compile(path string, node Node, flat bool) (*scope, error) {
	s := &scope{
		path:  path,
		field: node.Field,
		array: node.Kind == KindArray,
	}

	fields := map[string]struct{}{}
	addField := func(field string) error {
		if field == "" {
			return &rdb.SchemaConfigError{Path: path, Reason: "field is required"}
		}
		if _, ok := fields[field]; ok {
			return &rdb.SchemaConfigError{Path: path, Field: field, Reason: "duplicate field"}
		}
		fields[field] = struct{}{}
		return nil
	}

	var ids int
	for _, child := range node.Children {
		switch child.Kind {
		case KindId, KindColumn:
			if len(child.Children) != 0 {
				return nil, &rdb.SchemaConfigError{Path: path, Field: child.Field, Reason: fmt.Sprintf("%s node can not have children", child.Kind)}
			}
			if err := addField(child.Field); err != nil {
				return nil, err
			}
			l := leaf{field: child.Field, key: child.key()}
			if child.Kind == KindColumn {
				s.columns = append(s.columns, l)
				continue
			}
			ids++
			if ids > 1 {
				return nil, &rdb.SchemaConfigError{Path: path, Field: child.Field, Reason: "more than one id node"}
			}
			s.id = l
		case KindObject, KindArray:
			if err := addField(child.Field); err != nil {
				return nil, err
			}
			c, err := compile(path+"."+child.Field, child, false)
			if err != nil {
				return nil, err
			}
			s.children = append(s.children, c)
		default:
			return nil, &rdb.SchemaConfigError{Path: path, Field: child.Field, Reason: fmt.Sprintf("unknown node kind %d", child.Kind)}
		}
	}

	if ids == 0 && !flat {
		if err := addField("id"); err != nil {
			return nil, &rdb.SchemaConfigError{Path: path, Field: "id", Reason: "field id conflicts with the implicit id node"}
		}
		s.id = leaf{field: "id", key: "id"}
	}
	return s, nil
}

// MapMany 把结果行映射为按首次出现顺序排列的实例列表
// 对象根节点返回零个或一个实例
func (m *Mapper) MapMany(rows []rdb.Row) ([]map[string]any, error) {
	if m.flat {
		return m.mapFlat(rows)
	}
	g := newGroup(m.root)
	for _, row := range rows {
		if err := g.add(row); err != nil {
			return nil, err
		}
	}
	return g.values(), nil
}

// MapOne 返回第一个实例，没有结果时返回 nil
func (m *Mapper) MapOne(rows []rdb.Row) (map[string]any, error) {
	values, err := m.MapMany(rows)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

// Map 数组根节点返回 []map[string]any，对象根节点返回 map[string]any 或 nil
func (m *Mapper) Map(rows []rdb.Row) (any, error) {
	if m.root.array {
		return m.MapMany(rows)
	}
	value, err := m.MapOne(rows)
	if err != nil || value == nil {
		return nil, err
	}
	return value, nil
}

// IsArray 根节点是否为数组
func (m *Mapper) IsArray() bool {
	return m.root.array
}

func (m *Mapper) mapFlat(rows []rdb.Row) ([]map[string]any, error) {
	values := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		value := make(map[string]any, len(m.root.columns))
		if err := setColumns(m.root, value, row); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// group 一个父实例下某个 Object/Array 节点的去重作用域
type group struct {
	scope   *scope
	index   map[any]int
	entries []*entry
}

type entry struct {
	id       any
	value    map[string]any
	children []*group
}

func newGroup(s *scope) *group {
	return &group{scope: s, index: map[any]int{}}
}

func (g *group) add(row rdb.Row) error {
	s := g.scope
	id, err := lookup(s, s.id, row)
	if err != nil {
		return err
	}
	// outer join 没有匹配到的行，整个子树不存在
	if id == nil {
		return nil
	}

	k := dedupKey(id)
	var e *entry
	if i, ok := g.index[k]; ok {
		e = g.entries[i]
		for _, c := range s.columns {
			if _, ok := row.Get(c.key); !ok {
				return missingKey(s, c)
			}
		}
	} else {
		if !s.array && len(g.entries) > 0 {
			return &rdb.MappingContractViolation{Path: s.path, Ids: []any{g.entries[0].id, id}}
		}
		e = &entry{id: id, value: map[string]any{s.id.field: id}}
		if err := setColumns(s, e.value, row); err != nil {
			return err
		}
		for _, c := range s.children {
			e.children = append(e.children, newGroup(c))
		}
		g.index[k] = len(g.entries)
		g.entries = append(g.entries, e)
	}

	// 重复的 id 不再赋值，只向下合并子节点，一对一子节点同 id 时无变化
	for _, c := range e.children {
		if err := c.add(row); err != nil {
			return err
		}
	}
	return nil
}

func (g *group) values() []map[string]any {
	values := make([]map[string]any, 0, len(g.entries))
	for _, e := range g.entries {
		for _, c := range e.children {
			if c.scope.array {
				e.value[c.scope.field] = c.values()
				continue
			}
			var value map[string]any
			if vs := c.values(); len(vs) > 0 {
				value = vs[0]
			}
			e.value[c.scope.field] = value
		}
		values = append(values, e.value)
	}
	return values
}

func setColumns(s *scope, value map[string]any, row rdb.Row) error {
	for _, c := range s.columns {
		v, err := lookup(s, c, row)
		if err != nil {
			return err
		}
		value[c.field] = v
	}
	return nil
}

func lookup(s *scope, l leaf, row rdb.Row) (any, error) {
	v, ok := row.Get(l.key)
	if !ok {
		return nil, missingKey(s, l)
	}
	return v, nil
}

func missingKey(s *scope, l leaf) error {
	return &rdb.SchemaConfigError{Path: s.path, Field: l.field, Reason: fmt.Sprintf("result key %q not found in row", l.key)}
}

// dedupKey 把 id 转成可以做 map key 的值
func dedupKey(id any) any {
	switch v := id.(type) {
	case []byte:
		return string(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	}
	if !reflect.TypeOf(id).Comparable() {
		return fmt.Sprint(id)
	}
	return id
}
