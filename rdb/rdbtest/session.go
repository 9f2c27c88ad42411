// Package rdbtest 提供测试用的内存会话，模拟 sqlite 的建表、删表、加列和系统目录查询
package rdbtest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/hatlonely/orql/rdb"
	"github.com/pkg/errors"
)

var (
	createRe    = regexp.MustCompile(`(?is)^create table (if not exists )?(\w+) \((.*)\)$`)
	dropRe      = regexp.MustCompile(`(?i)^drop table (\w+)$`)
	alterRe     = regexp.MustCompile(`(?i)^alter table (\w+) add column (\w+)\b`)
	existRe     = regexp.MustCompile(`(?i)^select count\(\*\) from sqlite_master where type='table' and name='(\w+)'$`)
	tableInfoRe = regexp.MustCompile(`(?i)^pragma table_info\('(\w+)'\)$`)
)

// Session 记录所有语句的假会话
type Session struct {
	mu      sync.Mutex
	tables  map[string][]string
	updates []string
	queries []string

	// FailOn 语句包含该子串时返回错误
	FailOn string
}

// NewSession 以给定的表结构（表名 -> 列名）初始化
func NewSession(tables map[string][]string) *Session {
	s := &Session{tables: map[string][]string{}}
	for table, columns := range tables {
		s.tables[table] = append([]string(nil), columns...)
	}
	return s
}

func (s *Session) NativeUpdate(ctx context.Context, sql string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates = append(s.updates, sql)
	if s.FailOn != "" && strings.Contains(sql, s.FailOn) {
		return errors.Errorf("injected failure: %s", sql)
	}

	if m := createRe.FindStringSubmatch(sql); m != nil {
		table := m[2]
		if _, ok := s.tables[table]; ok {
			if m[1] == "" {
				return errors.Errorf("table %s already exists", table)
			}
			return nil
		}
		var columns []string
		for _, def := range strings.Split(m[3], ",") {
			fields := strings.Fields(def)
			if len(fields) > 0 {
				columns = append(columns, fields[0])
			}
		}
		s.tables[table] = columns
		return nil
	}

	if m := dropRe.FindStringSubmatch(sql); m != nil {
		if _, ok := s.tables[m[1]]; !ok {
			return errors.Errorf("no such table: %s", m[1])
		}
		delete(s.tables, m[1])
		return nil
	}

	if m := alterRe.FindStringSubmatch(sql); m != nil {
		columns, ok := s.tables[m[1]]
		if !ok {
			return errors.Errorf("no such table: %s", m[1])
		}
		for _, c := range columns {
			if c == m[2] {
				return errors.Errorf("duplicate column name: %s", m[2])
			}
		}
		s.tables[m[1]] = append(columns, m[2])
		return nil
	}

	return errors.Errorf("unsupported statement: %s", sql)
}

func (s *Session) NativeQuery(ctx context.Context, sql string) ([]rdb.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, sql)
	if s.FailOn != "" && strings.Contains(sql, s.FailOn) {
		return nil, errors.Errorf("injected failure: %s", sql)
	}

	if m := existRe.FindStringSubmatch(sql); m != nil {
		var n int64
		if _, ok := s.tables[m[1]]; ok {
			n = 1
		}
		return []rdb.Row{rdb.NewRow([]string{"count(*)"}, []any{n})}, nil
	}

	if m := tableInfoRe.FindStringSubmatch(sql); m != nil {
		var rows []rdb.Row
		for i, c := range s.tables[m[1]] {
			rows = append(rows, rdb.NewRow([]string{"cid", "name"}, []any{int64(i), c}))
		}
		return rows, nil
	}

	return nil, errors.Errorf("unsupported query: %s", sql)
}

// Updates 已执行的 DDL/DML 语句
func (s *Session) Updates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.updates...)
}

func (s *Session) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Tables 当前的表结构快照
func (s *Session) Tables() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string][]string, len(s.tables))
	for table, columns := range s.tables {
		result[table] = append([]string(nil), columns...)
	}
	return result
}

// Reset 清空语句记录，保留表结构
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = nil
	s.queries = nil
}
