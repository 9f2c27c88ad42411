// orql 按声明文件迁移数据库表结构
//
//	orql [--config file] [--schema file] [--driver d] [--dsn dsn] <create|drop|update|plan>
//
// 配置也可以通过 ORQL_ 前缀的环境变量指定，如 ORQL_DATABASE_DSN、ORQL_SCHEMA
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hatlonely/orql/cfg"
	"github.com/hatlonely/orql/log"
	"github.com/hatlonely/orql/log/logger"
	"github.com/hatlonely/orql/rdb/database"
	"github.com/hatlonely/orql/rdb/loader"
	"github.com/hatlonely/orql/rdb/migration"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

type Options struct {
	// Schema 表模型声明文件，支持 yaml, yml, json, toml, ini
	Schema   string              `cfg:"schema" validate:"required"`
	Database database.SQLOptions `cfg:"database"`
	Log      *logger.SLogOptions `cfg:"log"`
	Migrate  MigrateOptions      `cfg:"migrate"`
}

type MigrateOptions struct {
	// EnableTracing 为每次迁移生成 span，需要进程内配置了 otel TracerProvider
	EnableTracing bool `cfg:"enableTracing"`
}

var flagKeys = map[string]string{
	"schema":    "schema",
	"driver":    "database.driver",
	"dsn":       "database.dsn",
	"log-level": "log.level",
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "orql:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("orql", pflag.ContinueOnError)
	flags.SetOutput(stdout)
	configFile := flags.StringP("config", "c", "", "config file (yaml, json, toml)")
	flags.StringP("schema", "s", "", "schema declaration file (yaml, yml, json, toml, ini)")
	flags.String("driver", "", "database driver: sqlite3, sqlite, mysql, postgres")
	flags.String("dsn", "", "database dsn")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	yes := flags.Bool("yes", false, "confirm drop, all declared tables and their data are removed")
	flags.Usage = func() {
		fmt.Fprintln(stdout, "usage: orql [flags] <create|drop|update|plan>")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("expected exactly one command")
	}
	command := flags.Arg(0)
	switch command {
	case "create", "drop", "update", "plan":
	default:
		flags.Usage()
		return errors.Errorf("unknown command %q", command)
	}
	if command == "drop" && !*yes {
		return errors.New("drop removes every declared table, rerun with --yes to confirm")
	}

	var options Options
	if err := cfg.Load(&options, &cfg.Options{
		File:      *configFile,
		EnvPrefix: "ORQL",
		Flags:     flags,
		FlagKeys:  flagKeys,
	}); err != nil {
		return errors.WithMessage(err, "load config")
	}

	l := log.Default()
	if options.Log != nil {
		slog, err := logger.NewSLogWithOptions(options.Log)
		if err != nil {
			return errors.WithMessage(err, "create logger")
		}
		defer slog.Close()
		l = slog
	}
	prev := log.Default()
	log.SetDefault(l)
	defer log.SetDefault(prev)

	manager, err := loader.LoadFile(options.Schema)
	if err != nil {
		return err
	}

	session, err := database.NewSQLWithOptions(&options.Database)
	if err != nil {
		return errors.WithMessage(err, "connect database")
	}
	defer session.Close()

	migrator, err := migration.New(manager, session.Dialect(), migration.WithLogger(l))
	if err != nil {
		return err
	}

	if command == "plan" {
		statements, err := migrator.Plan(ctx, session)
		if err != nil {
			return err
		}
		for _, statement := range statements {
			fmt.Fprintf(stdout, "%s;\n", statement.SQL)
		}
		return nil
	}

	obs, err := migration.NewObservableWithOptions(migrator, &migration.ObservableOptions{
		EnableLogging: true,
		EnableTracing: options.Migrate.EnableTracing,
		Name:          "orql_migration",
	})
	if err != nil {
		return err
	}

	switch command {
	case "create":
		return obs.Create(ctx, session)
	case "update":
		return obs.Update(ctx, session)
	default:
		return obs.Drop(ctx, session)
	}
}
