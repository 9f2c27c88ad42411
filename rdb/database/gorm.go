package database

import (
	"context"

	"github.com/hatlonely/orql/rdb"
	"github.com/hatlonely/orql/rdb/dialect"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormOptions struct {
	// Driver gorm 方言：mysql, sqlite
	Driver string `cfg:"driver" def:"sqlite" validate:"oneof=mysql sqlite"`
	DSN    string `cfg:"dsn" validate:"required"`
	// LogLevel gorm 内置日志级别：silent, error, warn, info
	LogLevel string `cfg:"logLevel" def:"silent"`
}

// Gorm 复用已有 gorm 连接的会话实现，只使用原生 SQL 能力
type Gorm struct {
	db      *gorm.DB
	dialect dialect.Dialect
}

func NewGormWithOptions(options *GormOptions) (*Gorm, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	var dialector gorm.Dialector
	switch options.Driver {
	case "mysql":
		dialector = mysql.Open(options.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(options.DSN)
	default:
		return nil, errors.Errorf("unsupported gorm driver: %s", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(parseGormLogLevel(options.LogLevel)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open gorm connection")
	}

	return NewGorm(db)
}

// NewGorm 包装已有 *gorm.DB，方言由 gorm 的 Dialector 名称决定
func NewGorm(db *gorm.DB) (*Gorm, error) {
	d, err := dialect.Get(db.Dialector.Name())
	if err != nil {
		return nil, err
	}
	return &Gorm{db: db, dialect: d}, nil
}

func parseGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

func (g *Gorm) NativeUpdate(ctx context.Context, sql string) error {
	return g.db.WithContext(ctx).Exec(sql).Error
}

func (g *Gorm) NativeQuery(ctx context.Context, sql string) ([]rdb.Row, error) {
	rows, err := g.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (g *Gorm) Dialect() dialect.Dialect {
	return g.dialect
}

func (g *Gorm) DB() *gorm.DB {
	return g.db
}

// WithTx 使用 gorm 的事务管理
func (g *Gorm) WithTx(ctx context.Context, fn func(tx rdb.Session) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx, dialect: g.dialect})
	})
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
