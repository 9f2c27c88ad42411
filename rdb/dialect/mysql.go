package dialect

import (
	"context"
	"fmt"

	"github.com/hatlonely/orql/rdb"
)

type mysql struct {
	base
}

// MySQL 通过 information_schema 自省当前库
var MySQL Dialect = &mysql{
	base: base{
		name: "mysql",
		types: map[rdb.LogicalType]string{
			rdb.TypeInt:     "integer",
			rdb.TypeString:  "varchar",
			rdb.TypeFloat:   "double",
			rdb.TypeBoolean: "tinyint",
			rdb.TypeDate:    "datetime",
		},
		// mysql 的 varchar 必须带长度
		defaultLength: map[rdb.LogicalType]int{
			rdb.TypeString: 255,
		},
		autoIncrement: "auto_increment",
	},
}

func (d *mysql) TableExists(ctx context.Context, session rdb.Session, table string) (bool, error) {
	n, err := countRows(ctx, session, fmt.Sprintf(
		"select count(*) from information_schema.tables where table_schema = database() and table_name = %s", quoteLiteral(table)))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *mysql) ColumnNames(ctx context.Context, session rdb.Session, table string) ([]string, error) {
	return columnNames(ctx, session, fmt.Sprintf(
		"select column_name as name from information_schema.columns where table_schema = database() and table_name = %s order by ordinal_position",
		quoteLiteral(table)), "name")
}
