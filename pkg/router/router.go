// Package router narrows statements to the shards that hold the tables they
// touch.
package router

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// NoCommonShardError 语句涉及的表没有共同所在的分片
type NoCommonShardError struct {
	Tables []string
}

func (e *NoCommonShardError) Error() string {
	return fmt.Sprintf("tables %s are not hosted together on any shard", strings.Join(e.Tables, ", "))
}

// TableRouter 按表名绑定路由语句
// 语句无法解析或不涉及已绑定的表时不收窄
type TableRouter struct {
	mu       sync.Mutex // parser.Parser 不是并发安全的
	parser   *parser.Parser
	bindings map[string][]string
}

var _ domain.Router = (*TableRouter)(nil)

// NewTableRouter 创建路由器，bindings 为表名 -> 分片名（表名不区分大小写）
func NewTableRouter(bindings map[string][]string) *TableRouter {
	normalized := make(map[string][]string, len(bindings))
	for table, shards := range bindings {
		normalized[strings.ToLower(table)] = append([]string(nil), shards...)
	}
	p := parser.New()
	// 双引号按标识符解析，PostgreSQL 和 SQLite 的语句也能路由
	p.SetSQLMode(mysql.ModeANSIQuotes)
	return &TableRouter{
		parser:   p,
		bindings: normalized,
	}
}

// numberedPlaceholder PostgreSQL 风格的 $1 占位符
var numberedPlaceholder = regexp.MustCompile(`\$[0-9]+`)

// Bind 设置表的分片
func (r *TableRouter) Bind(table string, shards ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[strings.ToLower(table)] = append([]string(nil), shards...)
}

// Tables 已绑定的表（排序）
func (r *TableRouter) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tables := make([]string, 0, len(r.bindings))
	for table := range r.bindings {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Route 返回语句应执行的分片。多个已绑定的表取分片交集，
// 交集为空时返回 NoCommonShardError。
func (r *TableRouter) Route(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stmts, _, err := r.parser.Parse(numberedPlaceholder.ReplaceAllString(query, "?"), "", "")
	if err != nil || len(stmts) == 0 {
		return nil, nil
	}

	visitor := newTableVisitor()
	for _, stmt := range stmts {
		stmt.Accept(visitor)
	}

	var (
		routed []string
		bound  []string
	)
	for _, table := range visitor.tables {
		shards, ok := r.bindings[table]
		if !ok {
			continue
		}
		bound = append(bound, table)
		if routed == nil {
			routed = append([]string(nil), shards...)
			continue
		}
		routed = intersect(routed, shards)
	}

	if len(bound) > 0 && len(routed) == 0 {
		return nil, &NoCommonShardError{Tables: bound}
	}
	return routed, nil
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	out := a[:0]
	for _, s := range a {
		if in[s] {
			out = append(out, s)
		}
	}
	return out
}

// tableVisitor 表名访问器，按首次出现顺序去重
type tableVisitor struct {
	tables []string
	seen   map[string]bool
}

func newTableVisitor() *tableVisitor {
	return &tableVisitor{seen: make(map[string]bool)}
}

// Enter 进入节点
func (v *tableVisitor) Enter(n ast.Node) (ast.Node, bool) {
	if table, ok := n.(*ast.TableName); ok {
		name := strings.ToLower(table.Name.String())
		if name != "" && !v.seen[name] {
			v.seen[name] = true
			v.tables = append(v.tables, name)
		}
	}
	return n, false
}

// Leave 离开节点
func (v *tableVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}
