// Package cfg 把配置文件、环境变量和命令行参数合并解码到带 cfg tag 的结构体
//
// 优先级从低到高：def tag < 配置文件 < 环境变量 < 命令行参数，解码后按 validate tag 校验
package cfg

import (
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const tagName = "cfg"

type Options struct {
	// File 配置文件路径，为空时不读文件，格式由扩展名决定
	File string

	// EnvPrefix 环境变量前缀，key 中的 . 替换为 _，如 ORQL_DATABASE_DSN
	EnvPrefix string

	// Flags 命令行参数
	Flags *pflag.FlagSet

	// FlagKeys 参数名到配置 key 的映射，未出现的参数不参与合并
	FlagKeys map[string]string
}

// Load 解码到 dest，dest 必须是结构体指针
func Load(dest any, options *Options) error {
	if options == nil {
		options = &Options{}
	}

	v := viper.New()
	if options.File != "" {
		v.SetConfigFile(options.File)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config file %s", options.File)
		}
	}

	if options.EnvPrefix != "" {
		v.SetEnvPrefix(options.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		// 只有显式绑定的 key 才会在 Unmarshal 时读取环境变量
		for _, key := range Keys(dest) {
			if err := v.BindEnv(key); err != nil {
				return errors.Wrapf(err, "bind env %s", key)
			}
		}
	}

	if options.Flags != nil {
		for name, key := range options.FlagKeys {
			flag := options.Flags.Lookup(name)
			if flag == nil {
				return errors.Errorf("flag %s not defined", name)
			}
			if !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return errors.Wrapf(err, "bind flag %s", name)
			}
		}
	}

	if err := v.Unmarshal(dest, func(c *mapstructure.DecoderConfig) {
		c.TagName = tagName
		c.WeaklyTypedInput = true
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return errors.Wrap(err, "decode config")
	}

	if err := SetDefaults(dest); err != nil {
		return err
	}
	return ValidateStruct(dest)
}

// Keys 返回结构体所有叶子字段的配置 key，嵌套结构体用 . 连接
func Keys(object any) []string {
	var keys []string
	collectKeys(reflect.TypeOf(object), "", &keys)
	return keys
}

func collectKeys(rt reflect.Type, prefix string, keys *[]string) {
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get(tagName), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := field.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			collectKeys(ft, key, keys)
			continue
		}
		*keys = append(*keys, key)
	}
}
