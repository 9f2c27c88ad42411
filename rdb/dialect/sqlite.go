package dialect

import (
	"context"
	"fmt"

	"github.com/hatlonely/orql/rdb"
)

type sqlite struct {
	base
}

// SQLite 通过 sqlite_master 和 pragma table_info 自省
var SQLite Dialect = &sqlite{
	base: base{
		name: "sqlite3",
		types: map[rdb.LogicalType]string{
			rdb.TypeInt:    "integer",
			rdb.TypeString: "varchar",
		},
		autoIncrement: "autoincrement",
	},
}

func (d *sqlite) TableExists(ctx context.Context, session rdb.Session, table string) (bool, error) {
	n, err := countRows(ctx, session, fmt.Sprintf("select count(*) from sqlite_master where type='table' and name=%s", quoteLiteral(table)))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *sqlite) ColumnNames(ctx context.Context, session rdb.Session, table string) ([]string, error) {
	return columnNames(ctx, session, fmt.Sprintf("pragma table_info(%s)", quoteLiteral(table)), "name")
}
