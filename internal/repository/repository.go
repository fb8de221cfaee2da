package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"bookshelf-service/internal/model"
	"bookshelf-service/pkg/database"
)

// ErrScopeMismatch is returned when a shared table is queried through a
// tenant context or the other way round
var ErrScopeMismatch = errors.New("schema context does not match table scope")

// batchSize bounds the rows per multi-row INSERT
const batchSize = 500

// Descriptor declares how an entity maps onto its table
type Descriptor struct {
	// Name is used in log lines and error messages
	Name  string
	Table string
	Scope database.Scope
	// Columns are the settable columns. Payload keys outside this set are
	// dropped.
	Columns []string
	// Unique lists the columns carrying a uniqueness constraint
	Unique []string
	// LookupField is the column ReadByUniqueField matches on
	LookupField string
	// ConflictTarget is the one constraint upserts resolve against
	ConflictTarget []string
	// InsertOnly columns are written on insert and kept on upsert conflict
	InsertOnly []string
}

// Limits bounds list reads
type Limits struct {
	Default int
	Max     int
}

// Clamp applies the default to limit <= 0 and caps it at Max
func (l Limits) Clamp(limit int) int {
	if limit <= 0 {
		limit = l.Default
	}
	if l.Max > 0 && limit > l.Max {
		limit = l.Max
	}
	return limit
}

// DBMetrics records the duration of repository operations
type DBMetrics interface {
	TrackDBOperation(operationType string) func(startTime time.Time)
}

// Repository runs the common persistence operations for one entity. Every
// operation opens its own session on the schema named by sc.
type Repository[T any] struct {
	desc    Descriptor
	router  *database.Router
	limits  Limits
	metrics DBMetrics
	now     func() time.Time

	settable   map[string]bool
	insertOnly map[string]bool
}

// New binds a repository to desc. metrics may be nil.
func New[T any](desc Descriptor, router *database.Router, limits Limits, metrics DBMetrics) *Repository[T] {
	r := &Repository[T]{
		desc:       desc,
		router:     router,
		limits:     limits,
		metrics:    metrics,
		now:        now,
		settable:   make(map[string]bool, len(desc.Columns)),
		insertOnly: make(map[string]bool, len(desc.InsertOnly)),
	}
	for _, c := range desc.Columns {
		r.settable[c] = true
	}
	for _, c := range desc.InsertOnly {
		r.insertOnly[c] = true
	}
	return r
}

// now truncates to what a timestamptz column stores so returned values
// compare equal to what a later read returns
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Descriptor returns the entity description
func (r *Repository[T]) Descriptor() Descriptor { return r.desc }

// Limits returns the list bounds
func (r *Repository[T]) Limits() Limits { return r.limits }

func (r *Repository[T]) run(ctx context.Context, sc database.SchemaContext, op string, fn func(s *database.Session) error) error {
	if sc.Scope() != r.desc.Scope {
		return fmt.Errorf("%w: %s is %s, got %s", ErrScopeMismatch, r.desc.Name, r.desc.Scope, sc)
	}
	if r.metrics != nil {
		defer r.metrics.TrackDBOperation(r.desc.Table + "_" + op)(time.Now())
	}
	return database.Classify(r.router.WithSession(ctx, sc, fn))
}

// ReadByID returns nil without error when no row has this id
func (r *Repository[T]) ReadByID(ctx context.Context, sc database.SchemaContext, id int64) (*T, error) {
	var item *T
	err := r.run(ctx, sc, "read_one", func(s *database.Session) error {
		var err error
		item, err = r.first(s, "id", id)
		return err
	})
	return item, err
}

// ReadByUniqueField looks a row up by the descriptor's lookup column
func (r *Repository[T]) ReadByUniqueField(ctx context.Context, sc database.SchemaContext, value string) (*T, error) {
	if r.desc.LookupField == "" {
		return nil, fmt.Errorf("%s has no lookup field", r.desc.Name)
	}
	var item *T
	err := r.run(ctx, sc, "read_one", func(s *database.Session) error {
		var err error
		item, err = r.first(s, r.desc.LookupField, value)
		return err
	})
	return item, err
}

// ReadAll returns one page ordered by id. limit is clamped to the maximum.
func (r *Repository[T]) ReadAll(ctx context.Context, sc database.SchemaContext, offset, limit int) ([]T, error) {
	if offset < 0 {
		offset = 0
	}
	items := []T{}
	err := r.run(ctx, sc, "read_all", func(s *database.Session) error {
		return s.Table(r.desc.Table).Order("id").Offset(offset).Limit(r.limits.Clamp(limit)).Find(&items).Error
	})
	return items, err
}

// Count returns the number of rows in the table
func (r *Repository[T]) Count(ctx context.Context, sc database.SchemaContext) (int64, error) {
	var n int64
	err := r.run(ctx, sc, "count", func(s *database.Session) error {
		return s.Table(r.desc.Table).Count(&n).Error
	})
	return n, err
}

// CreateOne inserts a row and returns it as stored
func (r *Repository[T]) CreateOne(ctx context.Context, sc database.SchemaContext, p model.Payload) (*T, error) {
	var item *T
	err := r.run(ctx, sc, "create", func(s *database.Session) error {
		ids, err := r.insert(s, []model.Payload{p})
		if err != nil {
			return err
		}
		item, err = r.first(s, "id", ids[0])
		return err
	})
	return item, err
}

// CreateMany inserts all payloads in one transaction and returns their
// ids in payload order
func (r *Repository[T]) CreateMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error) {
	ids := []int64{}
	if len(ps) == 0 {
		return ids, nil
	}
	err := r.run(ctx, sc, "create_many", func(s *database.Session) error {
		for start := 0; start < len(ps); start += batchSize {
			end := min(start+batchSize, len(ps))
			batch, err := r.insert(s, ps[start:end])
			if err != nil {
				return err
			}
			ids = append(ids, batch...)
		}
		return nil
	})
	return ids, err
}

// UpdateByID overwrites the payload's columns and bumps updated_at. It does
// not report whether a row matched; the returned item is nil when none did.
func (r *Repository[T]) UpdateByID(ctx context.Context, sc database.SchemaContext, id int64, p model.Payload, applyNone bool) (*T, error) {
	var item *T
	err := r.run(ctx, sc, "update", func(s *database.Session) error {
		values := r.filter(p.Columns(applyNone))
		for c := range r.insertOnly {
			delete(values, c)
		}
		values["updated_at"] = r.now()

		query, args, err := sq.Update(s.Qualify(r.desc.Table)).
			SetMap(values).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return err
		}
		if err := s.Exec(query, args...).Error; err != nil {
			return err
		}
		item, err = r.first(s, "id", id)
		return err
	})
	return item, err
}

// Upsert inserts the payload or, when it collides on the conflict target,
// updates the existing row. It returns the resulting row.
func (r *Repository[T]) Upsert(ctx context.Context, sc database.SchemaContext, p model.Payload) (*T, error) {
	var item *T
	err := r.run(ctx, sc, "upsert", func(s *database.Session) error {
		id, err := r.upsert(s, p)
		if err != nil {
			return err
		}
		item, err = r.first(s, "id", id)
		return err
	})
	return item, err
}

// UpsertMany upserts every payload in one transaction and returns the
// affected ids in payload order
func (r *Repository[T]) UpsertMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error) {
	ids := make([]int64, 0, len(ps))
	err := r.run(ctx, sc, "upsert_many", func(s *database.Session) error {
		// one statement per row: ON CONFLICT cannot touch the same row twice
		// within a single INSERT
		for _, p := range ps {
			id, err := r.upsert(s, p)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// DeleteByID returns the removed id, or none when the row did not exist
func (r *Repository[T]) DeleteByID(ctx context.Context, sc database.SchemaContext, id int64) ([]int64, error) {
	return r.delete(ctx, sc, "delete", sq.Eq{"id": id})
}

// DeleteAll empties the table and returns the removed ids
func (r *Repository[T]) DeleteAll(ctx context.Context, sc database.SchemaContext) ([]int64, error) {
	return r.delete(ctx, sc, "delete_all", nil)
}

func (r *Repository[T]) delete(ctx context.Context, sc database.SchemaContext, op string, where sq.Sqlizer) ([]int64, error) {
	ids := []int64{}
	err := r.run(ctx, sc, op, func(s *database.Session) error {
		q := sq.Delete(s.Qualify(r.desc.Table)).Suffix("RETURNING id")
		if where != nil {
			q = q.Where(where)
		}
		query, args, err := q.ToSql()
		if err != nil {
			return err
		}
		return s.Raw(query, args...).Scan(&ids).Error
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}

func (r *Repository[T]) first(s *database.Session, column string, value any) (*T, error) {
	var rows []T
	if err := s.Table(r.desc.Table).Where(column+" = ?", value).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// insert writes a batch as one multi-row INSERT. Columns a payload does not
// carry get their DEFAULT.
func (r *Repository[T]) insert(s *database.Session, ps []model.Payload) ([]int64, error) {
	ts := r.now()
	rows := make([]map[string]any, len(ps))
	seen := map[string]bool{}
	for i, p := range ps {
		rows[i] = r.filter(p.Columns(true))
		for c := range rows[i] {
			seen[c] = true
		}
	}
	columns := make([]string, 0, len(seen)+2)
	for c := range seen {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	columns = append(columns, "created_at", "updated_at")

	q := sq.Insert(s.Qualify(r.desc.Table)).Columns(columns...).Suffix("RETURNING id")
	for _, row := range rows {
		values := make([]any, 0, len(columns))
		for _, c := range columns[:len(columns)-2] {
			v, ok := row[c]
			if !ok {
				v = sq.Expr("DEFAULT")
			}
			values = append(values, v)
		}
		q = q.Values(append(values, ts, ts)...)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := s.Raw(query, args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	if len(ids) != len(ps) {
		return nil, fmt.Errorf("insert into %s returned %d ids for %d rows", r.desc.Table, len(ids), len(ps))
	}
	return ids, nil
}

func (r *Repository[T]) upsert(s *database.Session, p model.Payload) (int64, error) {
	if len(r.desc.ConflictTarget) == 0 {
		return 0, fmt.Errorf("%s declares no conflict target", r.desc.Name)
	}
	ts := r.now()
	values := r.filter(p.Columns(true))
	values["created_at"] = ts
	values["updated_at"] = ts

	target := make(map[string]bool, len(r.desc.ConflictTarget))
	for _, c := range r.desc.ConflictTarget {
		target[c] = true
	}
	var set []string
	for c := range values {
		if target[c] || r.insertOnly[c] || c == "created_at" {
			continue
		}
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	sort.Strings(set)

	query, args, err := sq.Insert(s.Qualify(r.desc.Table)).
		SetMap(values).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s RETURNING id",
			strings.Join(r.desc.ConflictTarget, ", "), strings.Join(set, ", "))).
		ToSql()
	if err != nil {
		return 0, err
	}
	var ids []int64
	if err := s.Raw(query, args...).Scan(&ids).Error; err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, fmt.Errorf("upsert into %s returned %d ids", r.desc.Table, len(ids))
	}
	return ids[0], nil
}

// filter keeps only the settable columns
func (r *Repository[T]) filter(cols map[string]any) map[string]any {
	out := make(map[string]any, len(cols))
	for k, v := range cols {
		if r.settable[k] {
			out[k] = v
		}
	}
	return out
}
