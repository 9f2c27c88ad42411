// Package mapper 把多表 join 得到的扁平结果行还原成去重后的嵌套对象
package mapper

// Kind 映射节点类型
type Kind int

const (
	KindId Kind = iota + 1
	KindColumn
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindId:
		return "id"
	case KindColumn:
		return "column"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// Node 映射树节点
//
// Id 和 Column 是叶子节点，Field 是结果中的字段名，ResultKey 是结果行中的列别名。
// Object 表示一对一关系，Array 表示一对多关系，二者的直接子节点中必须恰好有一个 Id，
// 没有声明时自动补一个字段名和列名都为 id 的 Id 节点。
type Node struct {
	Kind      Kind
	Field     string
	ResultKey string
	Children  []Node
}

type Option func(*Node)

// ResultKey 指定结果行中的列别名，默认与字段名相同
func ResultKey(key string) Option {
	return func(n *Node) {
		n.ResultKey = key
	}
}

// Field 指定结果中的字段名，用于修改 Id 默认的 id
func Field(name string) Option {
	return func(n *Node) {
		n.Field = name
	}
}

func Id(opts ...Option) Node {
	n := Node{Kind: KindId, Field: "id"}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

func Column(field string, opts ...Option) Node {
	n := Node{Kind: KindColumn, Field: field}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

func Object(field string, children ...Node) Node {
	return Node{Kind: KindObject, Field: field, Children: children}
}

func Array(field string, children ...Node) Node {
	return Node{Kind: KindArray, Field: field, Children: children}
}

// key 返回列别名，未指定时使用字段名
func (n Node) key() string {
	if n.ResultKey != "" {
		return n.ResultKey
	}
	return n.Field
}
