package dialect

import (
	"context"
	"fmt"

	"github.com/hatlonely/orql/rdb"
	"github.com/lib/pq"
)

type postgres struct {
	base
}

// Postgres 自增主键使用 serial 类型，自省范围为 current_schema()
var Postgres Dialect = &postgres{
	base: base{
		name: "postgres",
		types: map[rdb.LogicalType]string{
			rdb.TypeInt:     "integer",
			rdb.TypeString:  "varchar",
			rdb.TypeFloat:   "double precision",
			rdb.TypeBoolean: "boolean",
			rdb.TypeDate:    "timestamp",
			rdb.TypeJSON:    "jsonb",
		},
		generatedType: "serial",
	},
}

func (d *postgres) TableExists(ctx context.Context, session rdb.Session, table string) (bool, error) {
	n, err := countRows(ctx, session, fmt.Sprintf(
		"select count(*) from information_schema.tables where table_schema = current_schema() and table_name = %s", pq.QuoteLiteral(table)))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *postgres) ColumnNames(ctx context.Context, session rdb.Session, table string) ([]string, error) {
	return columnNames(ctx, session, fmt.Sprintf(
		"select column_name as name from information_schema.columns where table_schema = current_schema() and table_name = %s order by ordinal_position",
		pq.QuoteLiteral(table)), "name")
}
