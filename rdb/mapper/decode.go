package mapper

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hatlonely/orql/rdb"
	"github.com/pkg/errors"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Decode 把 Map 的结果解码到结构体或结构体切片，字段名取 rdb tag 的第一段
func Decode(result any, dest any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "rdb",
		WeaklyTypedInput: true,
		Result:           dest,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return errors.Wrap(err, "create decoder")
	}
	if err := decoder.Decode(result); err != nil {
		return errors.Wrap(err, "decode result")
	}
	return nil
}

func stringToTimeHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	}
	return data, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported time format %q", s)
}

// Query 执行查询并映射结果，返回值同 Map
func (m *Mapper) Query(ctx context.Context, session rdb.Session, sql string) (any, error) {
	rows, err := session.NativeQuery(ctx, sql)
	if err != nil {
		return nil, errors.WithMessage(err, "query")
	}
	return m.Map(rows)
}

func (m *Mapper) QueryMany(ctx context.Context, session rdb.Session, sql string) ([]map[string]any, error) {
	rows, err := session.NativeQuery(ctx, sql)
	if err != nil {
		return nil, errors.WithMessage(err, "query")
	}
	return m.MapMany(rows)
}

func (m *Mapper) QueryOne(ctx context.Context, session rdb.Session, sql string) (map[string]any, error) {
	rows, err := session.NativeQuery(ctx, sql)
	if err != nil {
		return nil, errors.WithMessage(err, "query")
	}
	return m.MapOne(rows)
}

// QueryInto 执行查询、映射并解码到 dest，数组根节点时 dest 应为切片指针
func (m *Mapper) QueryInto(ctx context.Context, session rdb.Session, sql string, dest any) error {
	result, err := m.Query(ctx, session, sql)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return Decode(result, dest)
}
