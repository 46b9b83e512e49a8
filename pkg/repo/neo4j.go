package repo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the part of a neo4j result the repository reads.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner is the part of a neo4j session the repository uses.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic Neo4j-backed repository. Nodes carry one label and
// their entity as flat properties.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	database   string
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context) Runner
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithDatabase selects the Neo4j database (default: the server default).
func WithDatabase[T any, ID comparable](name string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.database = name }
}

// WithSessions replaces the driver session factory, e.g. with a fake in tests.
func WithSessions[T any, ID comparable](f func(ctx context.Context) Runner) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.newSession = f }
}

// NewNeo4jRepo creates a Neo4j-backed repository. fromRecord receives
// records whose single column "n" is the node.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) Runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &sessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})}
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, fmt.Errorf("repo: get %s: %w", r.label, err)
		}
		return zero, fmt.Errorf("repo: %s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(res.Record())
}

var propName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	params := map[string]any{"offset": opts.Offset, "limit": limit}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s)", r.label)

	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if !propName.MatchString(k) {
			return nil, fmt.Errorf("repo: invalid filter property %q", k)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		p := fmt.Sprintf("f%d", i)
		fmt.Fprintf(&b, "n.%s = $%s", k, p)
		params[p] = opts.Filter[k]
	}

	b.WriteString(" RETURN n")
	if opts.OrderBy != "" {
		if !propName.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("repo: invalid order property %q", opts.OrderBy)
		}
		fmt.Fprintf(&b, " ORDER BY n.%s", opts.OrderBy)
		if opts.Desc {
			b.WriteString(" DESC")
		}
	}
	b.WriteString(" SKIP $offset LIMIT $limit")

	sess := r.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, b.String(), params)
	if err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}
	var items []T
	for res.Next(ctx) {
		item, err := r.fromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("repo: list %s: %w", r.label, err)
	}
	return items, nil
}

func (r *Neo4jRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"props": r.toMap(entity)})
	if err != nil {
		return zero, fmt.Errorf("repo: create %s: %w", r.label, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, fmt.Errorf("repo: create %s: %w", r.label, err)
		}
		return zero, fmt.Errorf("repo: create %s: no node returned", r.label)
	}
	return r.fromRecord(res.Record())
}

// EnsureUnique creates a uniqueness constraint on the ID property if it
// does not exist yet.
func (r *Neo4jRepo[T, ID]) EnsureUnique(ctx context.Context) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	name := strings.ToLower(r.label) + "_" + r.idKey + "_unique"
	cypher := fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, r.label, r.idKey)
	if _, err := sess.Run(ctx, cypher, nil); err != nil {
		return fmt.Errorf("repo: constraint on %s.%s: %w", r.label, r.idKey, err)
	}
	return nil
}
