// Package loader 从声明文件加载表模型
//
// yaml/json/toml 文件的顶层是 schemas 列表，每一项与 rdb.Schema 的字段对应：
//
//	schemas:
//	  - name: user
//	    table: user
//	    columns:
//	      - {field: id, type: int, primaryKey: true, generatedKey: true}
//	      - {field: name, type: string, length: 50, required: true}
//
// ini 文件每个 section 是一张表，key 是字段名，value 是 tag 语法的列声明，列顺序即 key 的顺序：
//
//	[user]
//	id = int,primary,generated
//	name = string,length=50,required
package loader

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hatlonely/orql/rdb"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Decoder 把文件内容解码为表模型列表
type Decoder func(data []byte) ([]*rdb.Schema, error)

var decoders = map[string]Decoder{
	"yaml": decodeYaml,
	"yml":  decodeYaml,
	"json": decodeJson,
	"toml": decodeToml,
	"ini":  decodeIni,
}

type document struct {
	Schemas []*rdb.Schema `json:"schemas" yaml:"schemas" toml:"schemas"`
}

// Formats 支持的文件格式
func Formats() []string {
	formats := make([]string, 0, len(decoders))
	for format := range decoders {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// LoadFile 按扩展名选择格式
func LoadFile(path string) (*rdb.SchemaManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema file %s", path)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	manager, err := Load(data, format)
	if err != nil {
		return nil, errors.WithMessagef(err, "load schema file %s", path)
	}
	return manager, nil
}

func Load(data []byte, format string) (*rdb.SchemaManager, error) {
	decode, ok := decoders[strings.ToLower(format)]
	if !ok {
		return nil, errors.Errorf("unsupported schema format %q, expected one of %v", format, Formats())
	}
	schemas, err := decode(data)
	if err != nil {
		return nil, err
	}
	return rdb.NewSchemaManager(schemas...)
}

func decodeYaml(data []byte) ([]*rdb.Schema, error) {
	var doc document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	return doc.Schemas, nil
}

func decodeJson(data []byte) ([]*rdb.Schema, error) {
	var doc document
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode json")
	}
	return doc.Schemas, nil
}

func decodeToml(data []byte) ([]*rdb.Schema, error) {
	var doc document
	meta, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, errors.Wrap(err, "decode toml")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("decode toml: unknown keys %v", undecoded)
	}
	return doc.Schemas, nil
}

func decodeIni(data []byte) ([]*rdb.Schema, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "decode ini")
	}

	var schemas []*rdb.Schema
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			if len(section.Keys()) > 0 {
				return nil, errors.Errorf("decode ini: keys %v outside of any table section", section.KeyStrings())
			}
			continue
		}

		schema := &rdb.Schema{Name: section.Name(), Table: section.Name()}
		for _, key := range section.Keys() {
			column, err := rdb.ParseColumnTag(key.Name(), key.Value())
			if err != nil {
				return nil, &rdb.SchemaConfigError{Path: section.Name(), Field: key.Name(), Reason: err.Error()}
			}
			schema.Columns = append(schema.Columns, column)
		}
		schemas = append(schemas, schema)
	}
	return schemas, nil
}
