package api

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// Row 一行数据（列名 -> 值）
type Row map[string]interface{}

// Query 查询结果对象（已物化）
type Query struct {
	result   *domain.QueryResult
	rowIndex int
	closed   bool
	mu       sync.RWMutex
}

// NewQuery 创建 Query
func NewQuery(result *domain.QueryResult) *Query {
	return &Query{
		result:   result,
		rowIndex: -1,
	}
}

// Next 移动到下一行
func (q *Query) Next() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.result == nil {
		return false
	}

	if q.rowIndex < len(q.result.Rows) {
		q.rowIndex++
	}
	return q.rowIndex < len(q.result.Rows)
}

// Scan 按列顺序扫描当前行到变量
func (q *Query) Scan(dest ...interface{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || q.result == nil {
		return NewError(ErrCodeClosed, "query is closed", nil)
	}

	if q.rowIndex < 0 {
		return NewError(ErrCodeInvalidParam, "Next() must be called before Scan()", nil)
	}

	if q.rowIndex >= len(q.result.Rows) {
		return NewError(ErrCodeInvalidParam, "no more rows", nil)
	}

	if len(dest) > len(q.result.Columns) {
		return NewError(ErrCodeInvalidParam,
			fmt.Sprintf("too many destination variables (%d), have %d columns", len(dest), len(q.result.Columns)), nil)
	}

	row := q.result.Rows[q.rowIndex]
	for i := range dest {
		var value interface{}
		if i < len(row) {
			value = row[i]
		}
		if err := setValue(dest[i], value); err != nil {
			return WrapError(err, ErrCodeInvalidParam, "failed to scan column "+q.result.Columns[i])
		}
	}

	return nil
}

// Row 获取当前行（map 形式）
func (q *Query) Row() Row {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || q.result == nil || q.rowIndex < 0 || q.rowIndex >= len(q.result.Rows) {
		return nil
	}

	values := q.result.Rows[q.rowIndex]
	row := make(Row, len(q.result.Columns))
	for i, col := range q.result.Columns {
		if i < len(values) {
			row[col] = values[i]
		}
	}
	return row
}

// RowsCount 获取总行数
func (q *Query) RowsCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.result == nil {
		return 0
	}
	return len(q.result.Rows)
}

// Columns 获取列名
func (q *Query) Columns() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.result == nil {
		return []string{}
	}

	cols := make([]string, len(q.result.Columns))
	copy(cols, q.result.Columns)
	return cols
}

// Close 关闭查询
func (q *Query) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.result = nil
	return nil
}

// Iter 遍历所有行（回调函数）
func (q *Query) Iter(fn func(row Row) error) error {
	defer q.Close()

	for q.Next() {
		if err := fn(q.Row()); err != nil {
			return err
		}
	}

	return nil
}

// setValue 设置值到目标变量
func setValue(dest interface{}, value interface{}) error {
	if dest == nil {
		return fmt.Errorf("destination is nil")
	}

	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr || destValue.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer")
	}
	destValue = destValue.Elem()

	// 值为 nil 时设置零值
	if value == nil {
		destValue.Set(reflect.Zero(destValue.Type()))
		return nil
	}

	converted, err := convertValue(value, destValue.Type())
	if err != nil {
		return err
	}
	destValue.Set(converted)
	return nil
}

// convertValue 转换值类型
func convertValue(value interface{}, target reflect.Type) (reflect.Value, error) {
	v := reflect.ValueOf(value)

	if v.Type().AssignableTo(target) {
		return v, nil
	}

	// 目标是指针：转换元素后取地址
	if target.Kind() == reflect.Ptr {
		elem, err := convertValue(value, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	if target.Kind() == reflect.Interface && v.Type().Implements(target) {
		return v, nil
	}

	// 字符串 -> 数值/布尔/时间，驱动常把数值作为文本返回
	if s, ok := value.(string); ok {
		return parseString(s, target)
	}

	switch target.Kind() {
	case reflect.String:
		switch x := value.(type) {
		case []byte:
			return reflect.ValueOf(string(x)).Convert(target), nil
		case time.Time:
			return reflect.ValueOf(x.Format(time.RFC3339Nano)).Convert(target), nil
		}
		if isNumber(v.Kind()) || v.Kind() == reflect.Bool {
			return reflect.ValueOf(fmt.Sprint(value)).Convert(target), nil
		}
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 {
			if b, ok := value.([]byte); ok {
				return reflect.ValueOf(append([]byte(nil), b...)).Convert(target), nil
			}
		}
	case reflect.Bool:
		if isNumber(v.Kind()) {
			return reflect.ValueOf(!v.IsZero()).Convert(target), nil
		}
	}

	if isNumber(v.Kind()) && isNumber(target.Kind()) {
		return v.Convert(target), nil
	}

	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", value, target)
}

func parseString(s string, target reflect.Type) (reflect.Value, error) {
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Slice:
		if target.Elem().Kind() != reflect.Uint8 {
			return reflect.Value{}, fmt.Errorf("cannot convert string to %s", target)
		}
		out.SetBytes([]byte(s))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, target.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, target.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetFloat(f)
	default:
		if target == reflect.TypeOf(time.Time{}) {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				t, err = time.Parse(time.DateTime, s)
			}
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot convert string to %s", target)
	}
	return out, nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
