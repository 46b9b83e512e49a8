package similar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-valuation/engine/artifact"
	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

type mockPoints struct {
	upserts   []*pb.UpsertPoints
	deletes   []*pb.DeletePoints
	searches  []*pb.SearchPoints
	searchOut *pb.SearchResponse
	err       error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deletes = append(m.deletes, in)
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searches = append(m.searches, in)
	if m.err != nil {
		return nil, m.err
	}
	return m.searchOut, nil
}

type mockCollections struct {
	existing []string
	created  []*pb.CreateCollection
	lists    int
	listErr  error
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func trace() pricing.Trace {
	schema := artifact.NewSchema([]string{"a", "b", "c"})
	return pricing.Trace{
		ID:         "6f1c8d4e-1111-4a4a-9b9b-123456789abc",
		Record:     domain.SampleRecord(),
		Scaled:     pricing.Vector{Schema: schema, Values: []float64{0.5, -1, 2}},
		Estimate:   pricing.Estimate{Price: 8123.5},
		Generation: "gen1",
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestObserveCreatesCollectionOnce(t *testing.T) {
	pts, cols := &mockPoints{}, &mockCollections{}
	ix := NewWithClients(pts, cols, "valuations")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := ix.ObserveEstimate(ctx, trace()); err != nil {
			t.Fatal(err)
		}
	}
	if len(cols.created) != 1 || cols.lists != 1 {
		t.Fatalf("expected one create and one list, got %d/%d", len(cols.created), cols.lists)
	}
	c := cols.created[0]
	if c.GetCollectionName() != "valuations_3" || c.GetVectorsConfig().GetParams().GetSize() != 3 {
		t.Fatalf("unexpected collection %v", c)
	}
	if c.GetVectorsConfig().GetParams().GetDistance() != pb.Distance_Euclid {
		t.Fatal("expected euclidean distance")
	}

	up := pts.upserts[0]
	p := up.GetPoints()[0]
	if p.GetId().GetUuid() != trace().ID {
		t.Fatalf("unexpected id %v", p.GetId())
	}
	if data := p.GetVectors().GetVector().GetData(); len(data) != 3 || data[1] != -1 {
		t.Fatalf("unexpected vector %v", data)
	}
	if p.GetPayload()["generation"].GetStringValue() != "gen1" || p.GetPayload()["engine_cc"].GetIntegerValue() != 1600 {
		t.Fatalf("unexpected payload %v", p.GetPayload())
	}
}

func TestEnsureCollectionExisting(t *testing.T) {
	cols := &mockCollections{existing: []string{"valuations_9"}}
	ix := NewWithClients(&mockPoints{}, cols, "valuations")
	if err := ix.EnsureCollection(context.Background(), 9); err != nil {
		t.Fatal(err)
	}
	if len(cols.created) != 0 {
		t.Fatal("existing collection must not be recreated")
	}
}

func TestEnsureCollectionListError(t *testing.T) {
	ix := NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("unavailable")}, "v")
	if err := ix.EnsureCollection(context.Background(), 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestObserveWithoutVector(t *testing.T) {
	ix := NewWithClients(&mockPoints{}, &mockCollections{}, "v")
	tr := trace()
	tr.Scaled = pricing.Vector{}
	if err := ix.ObserveEstimate(context.Background(), tr); err == nil {
		t.Fatal("expected error")
	}
}

func TestObserveUpsertError(t *testing.T) {
	ix := NewWithClients(&mockPoints{err: errors.New("down")}, &mockCollections{}, "v")
	if err := ix.ObserveEstimate(context.Background(), trace()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSimilar(t *testing.T) {
	pts := &mockPoints{searchOut: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
		Score: 0.25,
		Payload: map[string]*pb.Value{
			"brand":        str("Honda"),
			"fuel_type":    str("Diesel"),
			"engine_cc":    integer(1200),
			"mileage_kmpl": dbl(21.5),
			"price":        dbl(6400),
			"was_clamped":  boolean(false),
			"generation":   str("gen1"),
		},
	}}}}
	ix := NewWithClients(pts, &mockCollections{}, "valuations")

	matches, err := ix.Similar(context.Background(), trace(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
	m := matches[0]
	if m.ID != "p1" || m.Record.Brand != "Honda" || m.Record.FuelType != domain.FuelDiesel || m.Record.EngineCC != 1200 || m.Price != 6400 {
		t.Fatalf("unexpected match %+v", m)
	}

	req := pts.searches[0]
	if req.GetCollectionName() != "valuations_3" || req.GetLimit() != 5 {
		t.Fatalf("unexpected request %v", req)
	}
	cond := req.GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != "generation" || cond.GetMatch().GetKeyword() != "gen1" {
		t.Fatalf("search must be restricted to the generation, got %v", cond)
	}
}

func TestSimilarError(t *testing.T) {
	ix := NewWithClients(&mockPoints{err: errors.New("timeout")}, &mockCollections{}, "v")
	if _, err := ix.Similar(context.Background(), trace(), 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestPurgeGeneration(t *testing.T) {
	pts := &mockPoints{}
	ix := NewWithClients(pts, &mockCollections{}, "v")
	if err := ix.PurgeGeneration(context.Background(), 3, "old"); err != nil {
		t.Fatal(err)
	}
	req := pts.deletes[0]
	f := req.GetPoints().GetFilter().GetMust()[0].GetField()
	if req.GetCollectionName() != "v_3" || f.GetKey() != "generation" || f.GetMatch().GetKeyword() != "old" {
		t.Fatalf("unexpected delete %v", req)
	}
}

func bundle(id string, features ...string) *artifact.Bundle {
	return &artifact.Bundle{Schema: artifact.NewSchema(features), Generation: artifact.Generation{ID: id}}
}

func TestRetireOnSwap(t *testing.T) {
	pts := &mockPoints{}
	ix := NewWithClients(pts, &mockCollections{}, "v")
	hook := ix.RetireOnSwap(time.Second)

	hook(nil, bundle("g1", "a", "b"))
	hook(bundle("g1", "a", "b"), bundle("g1", "a", "b"))
	hook(bundle("g1", "a", "b"), bundle("g2", "a", "b", "c"))
	if err := ix.Close(); err != nil {
		t.Fatal(err)
	}

	if len(pts.deletes) != 1 {
		t.Fatalf("expected one purge, got %d", len(pts.deletes))
	}
	req := pts.deletes[0]
	if req.GetCollectionName() != "v_2" {
		t.Fatalf("purge should target the retired schema width, got %s", req.GetCollectionName())
	}
	if kw := req.GetPoints().GetFilter().GetMust()[0].GetField().GetMatch().GetKeyword(); kw != "g1" {
		t.Fatalf("purged %q, want g1", kw)
	}
}

func TestRetireOnSwapFailureIsLogged(t *testing.T) {
	pts := &mockPoints{err: errors.New("qdrant down")}
	ix := NewWithClients(pts, &mockCollections{}, "v")
	ix.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ix.RetireOnSwap(time.Second)(bundle("g1", "a"), bundle("g2", "a"))
	if err := ix.Close(); err != nil {
		t.Fatal(err)
	}
	if len(pts.deletes) != 1 {
		t.Fatalf("expected a purge attempt, got %d", len(pts.deletes))
	}
}

func TestCloseWithoutConn(t *testing.T) {
	if err := NewWithClients(&mockPoints{}, &mockCollections{}, "v").Close(); err != nil {
		t.Fatal(err)
	}
}
