// Package similar indexes the scaled feature vectors of served estimates in
// Qdrant and finds past valuations close to a new record. Vectors from
// different artifact generations live in different feature spaces, so every
// lookup is restricted to the generation the query was scaled with.
package similar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// PointsAPI is the subset of the Qdrant points service the index uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service the index uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Match is one past valuation close to the query.
type Match struct {
	ID         string        `json:"id"`
	Score      float32       `json:"score"`
	Record     domain.Record `json:"record"`
	Price      float64       `json:"price"`
	WasClamped bool          `json:"was_clamped"`
	Generation string        `json:"generation"`
	CreatedAt  string        `json:"created_at"`
}

// Index owns all Qdrant operations. Collections are per vector width:
// <prefix>_<dims>.
type Index struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	prefix      string
	logger      *slog.Logger

	mu      sync.Mutex
	ensured map[int]bool

	retiring sync.WaitGroup
}

// New connects to Qdrant at the given gRPC address.
func New(addr, prefix string) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("similar: dial qdrant %s: %w", addr, err)
	}
	ix := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), prefix)
	ix.conn = conn
	return ix, nil
}

// NewWithClients builds an Index on existing clients.
func NewWithClients(points PointsAPI, collections CollectionsAPI, prefix string) *Index {
	return &Index{
		points:      points,
		collections: collections,
		prefix:      prefix,
		logger:      slog.Default(),
		ensured:     make(map[int]bool),
	}
}

// WithLogger sets the logger and returns ix.
func (ix *Index) WithLogger(l *slog.Logger) *Index {
	ix.logger = l
	return ix
}

// Close waits for pending purges, then closes the gRPC connection if the
// Index owns one.
func (ix *Index) Close() error {
	ix.retiring.Wait()
	if ix.conn == nil {
		return nil
	}
	return ix.conn.Close()
}

// Collection returns the collection name for vectors of width dims.
func (ix *Index) Collection(dims int) string {
	return fmt.Sprintf("%s_%d", ix.prefix, dims)
}

// EnsureCollection creates the collection for dims if it does not exist.
func (ix *Index) EnsureCollection(ctx context.Context, dims int) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ensured[dims] {
		return nil
	}
	name := ix.Collection(dims)

	list, err := ix.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("similar: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			ix.ensured[dims] = true
			return nil
		}
	}

	_, err = ix.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("similar: create collection %s: %w", name, err)
	}
	ix.ensured[dims] = true
	ix.logger.Info("qdrant collection created", "collection", name, "dims", dims)
	return nil
}

// Compile-time interface check.
var _ pricing.Observer = (*Index)(nil)

// ObserveEstimate stores the scaled vector of tr.
func (ix *Index) ObserveEstimate(ctx context.Context, tr pricing.Trace) error {
	dims := tr.Scaled.Len()
	if dims == 0 {
		return fmt.Errorf("similar: trace %s has no scaled vector", tr.ID)
	}
	if err := ix.EnsureCollection(ctx, dims); err != nil {
		return err
	}

	wait := true
	_, err := ix.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: ix.Collection(dims),
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: tr.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: toFloat32(tr.Scaled.Values)}}},
			Payload: payloadOf(tr),
		}},
	})
	if err != nil {
		return fmt.Errorf("similar: upsert %s: %w", tr.ID, err)
	}
	return nil
}

// Similar returns up to k past valuations nearest to tr's scaled vector,
// within tr's generation.
func (ix *Index) Similar(ctx context.Context, tr pricing.Trace, k int) ([]Match, error) {
	dims := tr.Scaled.Len()
	if dims == 0 {
		return nil, fmt.Errorf("similar: trace has no scaled vector")
	}
	if k <= 0 {
		k = 5
	}
	resp, err := ix.points.Search(ctx, &pb.SearchPoints{
		CollectionName: ix.Collection(dims),
		Vector:         toFloat32(tr.Scaled.Values),
		Limit:          uint64(k),
		Filter:         &pb.Filter{Must: []*pb.Condition{keywordMatch("generation", tr.Generation)}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("similar: search: %w", err)
	}

	out := make([]Match, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		out[i] = matchOf(p)
	}
	return out, nil
}

// PurgeGeneration removes every point of a retired generation from the
// collection for dims.
func (ix *Index) PurgeGeneration(ctx context.Context, dims int, generation string) error {
	wait := true
	_, err := ix.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: ix.Collection(dims),
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{keywordMatch("generation", generation)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("similar: purge generation %s: %w", generation, err)
	}
	return nil
}

// RetireOnSwap returns an artifact cache hook that purges the points of the
// generation being replaced. Each purge runs in the background, bounded by
// timeout.
func (ix *Index) RetireOnSwap(timeout time.Duration) func(old, cur *artifact.Bundle) {
	return func(old, cur *artifact.Bundle) {
		if old == nil || old.Generation.ID == cur.Generation.ID {
			return
		}
		dims, gen := old.Schema.Len(), old.Generation.ID
		ix.retiring.Add(1)
		go func() {
			defer ix.retiring.Done()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := ix.PurgeGeneration(ctx, dims, gen); err != nil {
				ix.logger.Warn("purge of retired generation failed", "generation", gen, "err", err)
				return
			}
			ix.logger.Info("retired generation purged", "generation", gen, "collection", ix.Collection(dims))
		}()
	}
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, x := range xs {
		out[i] = float32(x)
	}
	return out
}

func payloadOf(tr pricing.Trace) map[string]*pb.Value {
	r := tr.Record
	return map[string]*pb.Value{
		"brand":              str(r.Brand),
		"fuel_type":          str(string(r.FuelType)),
		"transmission":       str(string(r.Transmission)),
		"service_history":    str(string(r.ServiceHistory)),
		"mileage_kmpl":       dbl(r.Mileage),
		"engine_cc":          integer(int64(r.EngineCC)),
		"owner_count":        integer(int64(r.OwnerCount)),
		"car_age":            integer(int64(r.CarAge)),
		"accidents_reported": boolean(r.AccidentsReported),
		"price":              dbl(tr.Estimate.Price),
		"was_clamped":        boolean(tr.Estimate.WasClamped),
		"generation":         str(tr.Generation),
		"created_at":         str(tr.At.UTC().Format(time.RFC3339)),
	}
}

func matchOf(p *pb.ScoredPoint) Match {
	pl := p.GetPayload()
	return Match{
		ID:    p.GetId().GetUuid(),
		Score: p.GetScore(),
		Record: domain.Record{
			Brand:             pl["brand"].GetStringValue(),
			FuelType:          domain.FuelType(pl["fuel_type"].GetStringValue()),
			Transmission:      domain.Transmission(pl["transmission"].GetStringValue()),
			ServiceHistory:    domain.ServiceHistory(pl["service_history"].GetStringValue()),
			Mileage:           pl["mileage_kmpl"].GetDoubleValue(),
			EngineCC:          int(pl["engine_cc"].GetIntegerValue()),
			OwnerCount:        int(pl["owner_count"].GetIntegerValue()),
			CarAge:            int(pl["car_age"].GetIntegerValue()),
			AccidentsReported: pl["accidents_reported"].GetBoolValue(),
		},
		Price:      pl["price"].GetDoubleValue(),
		WasClamped: pl["was_clamped"].GetBoolValue(),
		Generation: pl["generation"].GetStringValue(),
		CreatedAt:  pl["created_at"].GetStringValue(),
	}
}

func str(s string) *pb.Value    { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
func dbl(f float64) *pb.Value   { return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}} }
func integer(n int64) *pb.Value { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}} }
func boolean(b bool) *pb.Value  { return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: b}} }

func keywordMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
