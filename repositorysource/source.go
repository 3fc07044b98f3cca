package repositorysource

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/collection"
	"github.com/goliatone/go-collection-cache/filters"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/optimistic"
	"github.com/goliatone/go-collection-cache/pagination"
)

// Repository is the part of repository.Repository used by Source.
type Repository[T any] interface {
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	Delete(ctx context.Context, record T) error
}

var (
	_ Repository[any]             = repository.Repository[any](nil)
	_ collection.Source[struct{}] = (*Source[struct{}])(nil)
)

var compareOps = map[string]struct{}{
	"=": {}, "<>": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
}

type compare struct {
	column string
	op     string
}

// Source lists pages of T from a repository.
type Source[T any] struct {
	repo    Repository[T]
	schema  *filters.Schema
	columns map[string]string
	compare map[string]compare
	search  map[string][]string
	order   []string
	store   *cache.Store
	res     string
	log     zerolog.Logger
}

// Option customizes a Source.
type Option func(*options)

type options struct {
	columns map[string]string
	compare map[string]compare
	search  map[string][]string
	order   []string
	store   *cache.Store
	res     string
	log     *zerolog.Logger
}

// WithColumn maps a filter to a column name.
func WithColumn(filter, column string) Option {
	return func(o *options) { o.columns[filter] = column }
}

// WithCompare filters column with op (=, <>, <, <=, >, >=) instead of
// equality. Unknown operators fall back to equality.
func WithCompare(filter, column, op string) Option {
	return func(o *options) {
		if _, ok := compareOps[op]; !ok {
			op = "="
		}
		o.compare[filter] = compare{column: column, op: op}
	}
}

// WithSearch makes filter a case insensitive substring match over columns.
func WithSearch(filter string, columns ...string) Option {
	return func(o *options) {
		if len(columns) > 0 {
			o.search[filter] = append([]string(nil), columns...)
		}
	}
}

// WithOrder appends an ORDER BY expression such as "created_at DESC".
func WithOrder(expr string) Option {
	return func(o *options) {
		if expr = strings.TrimSpace(expr); expr != "" {
			o.order = append(o.order, expr)
		}
	}
}

// WithStore invalidates every cached entry of resource after a successful
// write.
func WithStore(store *cache.Store, resource string) Option {
	return func(o *options) {
		o.store = store
		o.res = resource
	}
}

// WithLogger sets the source logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// New returns a source reading repo through schema.
func New[T any](repo Repository[T], schema *filters.Schema, opts ...Option) *Source[T] {
	if schema == nil {
		schema = filters.NewSchema(filters.Paging(0)...)
	}
	o := options{
		columns: make(map[string]string),
		compare: make(map[string]compare),
		search:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Source[T]{
		repo:    repo,
		schema:  schema,
		columns: o.columns,
		compare: o.compare,
		search:  o.search,
		order:   o.order,
		store:   o.store,
		res:     o.res,
		log:     logging.Component("repositorysource"),
	}
	if o.log != nil {
		s.log = *o.log
	}
	return s
}

// List implements collection.Source.
func (s *Source[T]) List(ctx context.Context, resource string, query map[string]string) (cache.Page[T], error) {
	set := s.schema.FromQuery(query)
	page, limit := paging(set)

	records, total, err := s.repo.List(ctx, s.Criteria(set)...)
	if err != nil {
		return cache.Page[T]{}, fmt.Errorf("list %s: %w", resource, err)
	}
	if records == nil {
		records = []T{}
	}
	return cache.NewPage(records, total, page, limit), nil
}

// Criteria translates a filter set into select criteria. Filters equal to
// their default add no condition.
func (s *Source[T]) Criteria(set filters.Set) []repository.SelectCriteria {
	set = s.schema.Normalize(set)
	page, limit := paging(set)
	active := s.schema.ToQuery(set)

	var criteria []repository.SelectCriteria
	for _, f := range s.schema.Fields() {
		if f.Name == filters.PageField || f.Name == filters.LimitField {
			continue
		}
		if _, ok := active[f.Name]; !ok {
			continue
		}
		criteria = append(criteria, s.condition(f.Name, set[f.Name]))
	}

	for _, expr := range s.order {
		expr := expr
		criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr(expr)
		})
	}

	offset := (page - 1) * limit
	criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Limit(limit).Offset(offset)
	})
	return criteria
}

func (s *Source[T]) condition(name string, value any) repository.SelectCriteria {
	if columns, ok := s.search[name]; ok {
		pattern := "%" + fmt.Sprint(value) + "%"
		return func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				for _, col := range columns {
					q = q.WhereOr("? ILIKE ?", bun.Ident(col), pattern)
				}
				return q
			})
		}
	}

	column, op := s.column(name), "="
	if c, ok := s.compare[name]; ok {
		column, op = c.column, c.op
	}
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("? "+op+" ?", bun.Ident(column), value)
	}
}

func (s *Source[T]) column(name string) string {
	if col, ok := s.columns[name]; ok {
		return col
	}
	return cache.SnakeCase(name)
}

// Create inserts record.
func (s *Source[T]) Create(ctx context.Context, record T) (T, error) {
	out, err := s.repo.Create(ctx, record)
	if err == nil {
		s.invalidate("create")
	}
	return out, err
}

// Update saves record.
func (s *Source[T]) Update(ctx context.Context, record T) (T, error) {
	out, err := s.repo.Update(ctx, record)
	if err == nil {
		s.invalidate("update")
	}
	return out, err
}

// Delete removes record.
func (s *Source[T]) Delete(ctx context.Context, record T) error {
	err := s.repo.Delete(ctx, record)
	if err == nil {
		s.invalidate("delete")
	}
	return err
}

// CreateFn returns the remote half of an optimistic create.
func (s *Source[T]) CreateFn(record T) optimistic.RemoteFn[T] {
	return func(ctx context.Context) (T, error) { return s.Create(ctx, record) }
}

// UpdateFn returns the remote half of an optimistic update.
func (s *Source[T]) UpdateFn(record T) optimistic.RemoteFn[T] {
	return func(ctx context.Context) (T, error) { return s.Update(ctx, record) }
}

func (s *Source[T]) invalidate(op string) {
	if s.store == nil || s.res == "" {
		return
	}
	n := s.store.Invalidate(cache.MatchResource(s.res))
	s.log.Debug().Str("resource", s.res).Str("op", op).Int("entries", n).Msg("invalidated after write")
}

func paging(set filters.Set) (page, limit int) {
	page, _ = set[filters.PageField].(int)
	limit, _ = set[filters.LimitField].(int)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = pagination.DefaultLimit
	}
	return page, limit
}
