// Package ledger keeps an audit trail of served estimates in Neo4j. Entries
// are written after a response has been computed and are never read back
// into the pricing pipeline.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	"github.com/WessleyAI/wessley-valuation/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Label is the node label entries are stored under.
const Label = "Estimate"

// Entry is one served estimate.
type Entry struct {
	ID                string    `json:"id"`
	Brand             string    `json:"brand"`
	FuelType          string    `json:"fuel_type"`
	Transmission      string    `json:"transmission"`
	Mileage           float64   `json:"mileage_kmpl"`
	EngineCC          int64     `json:"engine_cc"`
	OwnerCount        int64     `json:"owner_count"`
	CarAge            int64     `json:"car_age"`
	ServiceHistory    string    `json:"service_history"`
	AccidentsReported bool      `json:"accidents_reported"`
	Price             float64   `json:"price"`
	Raw               float64   `json:"raw"`
	WasClamped        bool      `json:"was_clamped"`
	Generation        string    `json:"generation"`
	CreatedAt         time.Time `json:"created_at"`
}

// FromTrace builds the ledger entry for a pipeline run.
func FromTrace(tr pricing.Trace) Entry {
	r := tr.Record
	return Entry{
		ID:                tr.ID,
		Brand:             r.Brand,
		FuelType:          string(r.FuelType),
		Transmission:      string(r.Transmission),
		Mileage:           r.Mileage,
		EngineCC:          int64(r.EngineCC),
		OwnerCount:        int64(r.OwnerCount),
		CarAge:            int64(r.CarAge),
		ServiceHistory:    string(r.ServiceHistory),
		AccidentsReported: r.AccidentsReported,
		Price:             tr.Estimate.Price,
		Raw:               tr.Estimate.Raw,
		WasClamped:        tr.Estimate.WasClamped,
		Generation:        tr.Generation,
		CreatedAt:         tr.At.UTC(),
	}
}

func toMap(e Entry) map[string]any {
	return map[string]any{
		"id":                 e.ID,
		"brand":              e.Brand,
		"fuel_type":          e.FuelType,
		"transmission":       e.Transmission,
		"mileage_kmpl":       e.Mileage,
		"engine_cc":          e.EngineCC,
		"owner_count":        e.OwnerCount,
		"car_age":            e.CarAge,
		"service_history":    e.ServiceHistory,
		"accidents_reported": e.AccidentsReported,
		"price":              e.Price,
		"raw":                e.Raw,
		"was_clamped":        e.WasClamped,
		"generation":         e.Generation,
		"created_at":         e.CreatedAt,
	}
}

func fromRecord(rec *neo4j.Record) (Entry, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: decode: %w", err)
	}
	p := node.Props
	return Entry{
		ID:                strProp(p, "id"),
		Brand:             strProp(p, "brand"),
		FuelType:          strProp(p, "fuel_type"),
		Transmission:      strProp(p, "transmission"),
		Mileage:           floatProp(p, "mileage_kmpl"),
		EngineCC:          intProp(p, "engine_cc"),
		OwnerCount:        intProp(p, "owner_count"),
		CarAge:            intProp(p, "car_age"),
		ServiceHistory:    strProp(p, "service_history"),
		AccidentsReported: boolProp(p, "accidents_reported"),
		Price:             floatProp(p, "price"),
		Raw:               floatProp(p, "raw"),
		WasClamped:        boolProp(p, "was_clamped"),
		Generation:        strProp(p, "generation"),
		CreatedAt:         timeProp(p, "created_at"),
	}, nil
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func boolProp(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return time.Time{}
}

// Query filters List.
type Query struct {
	Generation string
	Brand      string
	Offset     int
	Limit      int
}

// Ledger stores entries through a Neo4j repository.
type Ledger struct {
	repo *repo.Neo4jRepo[Entry, string]
}

// Option configures a Ledger.
type Option = repo.Neo4jOption[Entry, string]

// WithDatabase selects the Neo4j database.
func WithDatabase(name string) Option { return repo.WithDatabase[Entry, string](name) }

// WithSessions replaces the driver session factory.
func WithSessions(f func(ctx context.Context) repo.Runner) Option {
	return repo.WithSessions[Entry, string](f)
}

// New creates a Ledger on driver.
func New(driver neo4j.DriverWithContext, opts ...Option) *Ledger {
	return &Ledger{repo: repo.NewNeo4jRepo[Entry, string](driver, Label, toMap, fromRecord, opts...)}
}

// Compile-time interface check.
var _ pricing.Observer = (*Ledger)(nil)

// Init creates the ID uniqueness constraint.
func (l *Ledger) Init(ctx context.Context) error {
	return l.repo.EnsureUnique(ctx)
}

// Record writes e.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("ledger: entry has no id")
	}
	_, err := l.repo.Create(ctx, e)
	return err
}

// ObserveEstimate records tr.
func (l *Ledger) ObserveEstimate(ctx context.Context, tr pricing.Trace) error {
	return l.Record(ctx, FromTrace(tr))
}

// Get returns the entry with id; repo.ErrNotFound when absent.
func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	return l.repo.Get(ctx, id)
}

// List returns entries newest first.
func (l *Ledger) List(ctx context.Context, q Query) ([]Entry, error) {
	filter := map[string]any{}
	if q.Generation != "" {
		filter["generation"] = q.Generation
	}
	if q.Brand != "" {
		filter["brand"] = q.Brand
	}
	return l.repo.List(ctx, repo.ListOpts{
		Offset:  q.Offset,
		Limit:   q.Limit,
		Filter:  filter,
		OrderBy: "created_at",
		Desc:    true,
	})
}
