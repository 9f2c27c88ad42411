package database

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/orql/rdb"
	"github.com/hatlonely/orql/rdb/dialect"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type SQLOptions struct {
	// Driver database/sql 驱动名：mysql, sqlite3 (cgo), sqlite (纯 go), postgres
	Driver   string `cfg:"driver" def:"sqlite3" validate:"oneof=mysql sqlite3 sqlite postgres"`
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port"`
	Database string `cfg:"database"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`
	SSLMode  string `cfg:"sslMode" def:"disable"`
	MaxConns int    `cfg:"maxConns" def:"10" validate:"gte=0"`
	MaxIdle  int    `cfg:"maxIdle" def:"5" validate:"gte=0"`
	// ConnMaxLifetime 连接最大存活时间，0 表示不限制
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime"`
}

// SQL 基于 database/sql 的会话实现
type SQL struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	dsn, err := buildDSN(options)
	if err != nil {
		return nil, err
	}

	d, err := dialect.Get(options.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(options.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", options.Driver)
	}

	if options.MaxConns > 0 {
		db.SetMaxOpenConns(options.MaxConns)
	}
	if options.MaxIdle > 0 {
		db.SetMaxIdleConns(options.MaxIdle)
	}
	if options.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(options.ConnMaxLifetime)
	}
	// 每个连接各自持有一个内存库，连接关闭库就没了，只能用一个常驻连接
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", options.Driver)
	}

	return &SQL{
		db:      db,
		driver:  options.Driver,
		dialect: d,
	}, nil
}

// NewSQL 包装已有连接，driver 用于选择方言
func NewSQL(db *sql.DB, driver string) (*SQL, error) {
	d, err := dialect.Get(driver)
	if err != nil {
		return nil, err
	}
	return &SQL{db: db, driver: driver, dialect: d}, nil
}

func buildDSN(options *SQLOptions) (string, error) {
	if options.DSN != "" {
		return options.DSN, nil
	}

	switch options.Driver {
	case "mysql":
		port := options.Port
		if port == "" {
			port = "3306"
		}
		cfg := mysql.NewConfig()
		cfg.User = options.Username
		cfg.Passwd = options.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(options.Host, port)
		cfg.DBName = options.Database
		cfg.ParseTime = true
		cfg.Loc = time.Local
		if options.Charset != "" {
			cfg.Params = map[string]string{"charset": options.Charset}
		}
		return cfg.FormatDSN(), nil
	case "sqlite3", "sqlite":
		if options.Database == "" {
			return ":memory:", nil
		}
		return options.Database, nil
	case "postgres":
		port := options.Port
		if port == "" {
			port = "5432"
		}
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(options.Host, port),
			Path:   "/" + options.Database,
		}
		if options.Username != "" {
			u.User = url.UserPassword(options.Username, options.Password)
		}
		q := url.Values{}
		if options.SSLMode != "" {
			q.Set("sslmode", options.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		return "", errors.Errorf("unsupported driver: %s", options.Driver)
	}
}

func (s *SQL) NativeUpdate(ctx context.Context, sqlStr string) error {
	_, err := s.db.ExecContext(ctx, sqlStr)
	return err
}

func (s *SQL) NativeQuery(ctx context.Context, sqlStr string) ([]rdb.Row, error) {
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SQL) Driver() string {
	return s.driver
}

func (s *SQL) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// WithTx 在事务中执行，fn 返回错误或 panic 时回滚
func (s *SQL) WithTx(ctx context.Context, fn func(tx rdb.Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&SQLTransaction{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.WithMessagef(err, "rollback failed: %v", rbErr)
		}
		return err
	}

	return tx.Commit()
}

// SQLTransaction 事务内的会话
type SQLTransaction struct {
	tx *sql.Tx
}

func (t *SQLTransaction) NativeUpdate(ctx context.Context, sqlStr string) error {
	_, err := t.tx.ExecContext(ctx, sqlStr)
	return err
}

func (t *SQLTransaction) NativeQuery(ctx context.Context, sqlStr string) ([]rdb.Row, error) {
	rows, err := t.tx.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// scanRows 扫描结果集，列顺序与查询一致
func scanRows(rows *sql.Rows) ([]rdb.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []rdb.Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		// mysql 驱动把文本列返回为 []byte
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		result = append(result, rdb.NewRow(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
