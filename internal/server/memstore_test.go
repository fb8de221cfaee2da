package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm/schema"

	"bookshelf-service/internal/model"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/maintenance"
)

// memStore keeps rows per schema in memory and mimics the repository:
// timestamps, upsert on one conflict target and unique checks on it.
type memStore[T any] struct {
	mu       sync.Mutex
	scope    database.Scope
	lookup   string
	conflict []string
	// insertOnly columns keep their stored value on upsert
	insertOnly map[string]bool
	flag       maintenance.Flag
	schemas    map[string]map[int64]map[string]any
	nextID     int64
	clock      time.Time
}

func newMemStore[T any](scope database.Scope, lookup string, conflict, insertOnly []string, flag maintenance.Flag) *memStore[T] {
	only := map[string]bool{}
	for _, c := range insertOnly {
		only[c] = true
	}
	return &memStore[T]{
		scope:      scope,
		lookup:     lookup,
		conflict:   conflict,
		insertOnly: only,
		flag:       flag,
		schemas:    map[string]map[int64]map[string]any{},
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore[T]) open(ctx context.Context, sc database.SchemaContext) (map[int64]map[string]any, error) {
	if m.flag != nil && m.flag.Enabled(ctx) {
		return nil, database.ErrMaintenance
	}
	if sc.Scope() != m.scope {
		return nil, fmt.Errorf("scope mismatch: %s", sc)
	}
	rows, ok := m.schemas[sc.String()]
	if !ok {
		rows = map[int64]map[string]any{}
		m.schemas[sc.String()] = rows
	}
	return rows, nil
}

// tick advances a fake clock so every write gets a later timestamp
func (m *memStore[T]) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}

var naming = schema.NamingStrategy{}

// materialize fills T from a row keyed by gorm column names, hidden json
// fields included
func materialize[T any](row map[string]any) *T {
	var item T
	fill(reflect.ValueOf(&item).Elem(), row)
	return &item
}

func fill(v reflect.Value, row map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			fill(v.Field(i), row)
			continue
		}
		val, ok := row[naming.ColumnName("", f.Name)]
		if !ok || val == nil {
			continue
		}
		assign(v.Field(i), reflect.ValueOf(val))
	}
}

func assign(field, val reflect.Value) {
	if field.Kind() == reflect.Ptr {
		p := reflect.New(field.Type().Elem())
		p.Elem().Set(val.Convert(field.Type().Elem()))
		field.Set(p)
		return
	}
	field.Set(val.Convert(field.Type()))
}

func (m *memStore[T]) sortedIDs(rows map[int64]map[string]any) []int64 {
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *memStore[T]) findConflict(rows map[int64]map[string]any, cols map[string]any) (int64, bool) {
	for id, row := range rows {
		match := true
		for _, c := range m.conflict {
			if fmt.Sprint(row[c]) != fmt.Sprint(cols[c]) {
				match = false
				break
			}
		}
		if match {
			return id, true
		}
	}
	return 0, false
}

func (m *memStore[T]) insert(rows map[int64]map[string]any, p model.Payload) (int64, error) {
	row := map[string]any{}
	for k, v := range p.Columns(true) {
		row[k] = deref(v)
	}
	if _, dup := m.findConflict(rows, row); dup {
		return 0, database.ErrUniqueViolation
	}
	m.nextID++
	ts := m.tick()
	row["id"] = m.nextID
	row["created_at"] = ts
	row["updated_at"] = ts
	rows[m.nextID] = row
	return m.nextID, nil
}

func (m *memStore[T]) upsert(rows map[int64]map[string]any, p model.Payload) (int64, error) {
	cols := map[string]any{}
	for k, v := range p.Columns(true) {
		cols[k] = deref(v)
	}
	id, found := m.findConflict(rows, cols)
	if !found {
		return m.insert(rows, p)
	}
	for k, v := range cols {
		if m.insertOnly[k] {
			continue
		}
		rows[id][k] = v
	}
	rows[id]["updated_at"] = m.tick()
	return id, nil
}

func (m *memStore[T]) ReadByID(ctx context.Context, sc database.SchemaContext, id int64) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	row, ok := rows[id]
	if !ok {
		return nil, nil
	}
	return materialize[T](row), nil
}

func (m *memStore[T]) ReadByUniqueField(ctx context.Context, sc database.SchemaContext, value string) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	for _, id := range m.sortedIDs(rows) {
		if fmt.Sprint(rows[id][m.lookup]) == value {
			return materialize[T](rows[id]), nil
		}
	}
	return nil, nil
}

func (m *memStore[T]) ReadAll(ctx context.Context, sc database.SchemaContext, offset, limit int) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	items := []T{}
	for i, id := range m.sortedIDs(rows) {
		if i < offset || len(items) >= limit {
			continue
		}
		items = append(items, *materialize[T](rows[id]))
	}
	return items, nil
}

func (m *memStore[T]) CreateOne(ctx context.Context, sc database.SchemaContext, p model.Payload) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	id, err := m.insert(rows, p)
	if err != nil {
		return nil, err
	}
	return materialize[T](rows[id]), nil
}

func (m *memStore[T]) CreateMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	for _, p := range ps {
		id, err := m.insert(rows, p)
		if err != nil {
			for _, done := range ids {
				delete(rows, done)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore[T]) UpdateByID(ctx context.Context, sc database.SchemaContext, id int64, p model.Payload, applyNone bool) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	row, ok := rows[id]
	if !ok {
		return nil, nil
	}
	for k, v := range p.Columns(applyNone) {
		row[k] = deref(v)
	}
	row["updated_at"] = m.tick()
	return materialize[T](row), nil
}

func (m *memStore[T]) Upsert(ctx context.Context, sc database.SchemaContext, p model.Payload) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	id, err := m.upsert(rows, p)
	if err != nil {
		return nil, err
	}
	return materialize[T](rows[id]), nil
}

func (m *memStore[T]) UpsertMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	for _, p := range ps {
		id, err := m.upsert(rows, p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore[T]) DeleteByID(ctx context.Context, sc database.SchemaContext, id int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	if _, ok := rows[id]; !ok {
		return []int64{}, nil
	}
	delete(rows, id)
	return []int64{id}, nil
}

func (m *memStore[T]) DeleteAll(ctx context.Context, sc database.SchemaContext) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.open(ctx, sc)
	if err != nil {
		return nil, err
	}
	ids := m.sortedIDs(rows)
	for _, id := range ids {
		delete(rows, id)
	}
	return ids, nil
}

func (m *memStore[T]) count(sc database.SchemaContext) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schemas[sc.String()])
}
