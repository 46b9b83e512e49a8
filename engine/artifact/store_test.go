package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

const (
	testFeatures = `["mileage_kmpl","engine_cc","owner_count"]`
	testScaler   = `{"mean":[18,1500,2],"scale":[4,500,1]}`
	testModel    = `{"kind":"linear","coefficients":[100,200,-300],"intercept":5000}`
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"model.json":    {Data: []byte(testModel)},
		"scaler.json":   {Data: []byte(testScaler)},
		"features.json": {Data: []byte(testFeatures)},
	}
}

func TestStoreLoad(t *testing.T) {
	b, err := NewStoreFS(testFS(), "models").Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Schema.Len() != 3 || b.Schema.Name(1) != "engine_cc" {
		t.Fatalf("unexpected schema: %v", b.Schema.Names())
	}
	if b.Scaler.Len() != 3 || b.Scaler.Scale[1] != 500 {
		t.Fatalf("unexpected scaler: %+v", b.Scaler)
	}
	y, err := b.Model.Predict([]float64{1, 1, 1})
	if err != nil || y != 5000 {
		t.Fatalf("predict: %v, %v", y, err)
	}
	if len(b.Generation.ID) != 12 || len(b.Generation.Files) != 3 {
		t.Fatalf("unexpected generation: %+v", b.Generation)
	}
	if len(b.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", b.Warnings)
	}
}

func TestStoreLoadMissingScaler(t *testing.T) {
	fsys := testFS()
	delete(fsys, "scaler.json")

	b, err := NewStoreFS(fsys, "models").Load(context.Background())
	if b != nil {
		t.Fatal("no partial bundle may be returned")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Artifact != ArtifactScaler {
		t.Fatalf("expected scaler LoadError, got %v", err)
	}
	if !errors.Is(err, ErrArtifactLoad) {
		t.Fatal("LoadError should match ErrArtifactLoad")
	}
}

func TestStoreLoadCorrupt(t *testing.T) {
	for _, name := range []string{"model.json", "scaler.json", "features.json"} {
		fsys := testFS()
		fsys[name] = &fstest.MapFile{Data: []byte("{not json")}
		if _, err := NewStoreFS(fsys, "models").Load(context.Background()); !errors.Is(err, ErrArtifactLoad) {
			t.Errorf("%s: expected load error, got %v", name, err)
		}
	}
}

func TestStoreLoadScalerSchemaSkew(t *testing.T) {
	fsys := testFS()
	fsys["scaler.json"] = &fstest.MapFile{Data: []byte(`{"mean":[1,2],"scale":[1,1]}`)}
	_, err := NewStoreFS(fsys, "models").Load(context.Background())
	if !errors.Is(err, ErrArtifactLoad) || !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch load error, got %v", err)
	}
}

func TestStoreLoadModelSchemaSkew(t *testing.T) {
	fsys := testFS()
	fsys["model.json"] = &fstest.MapFile{Data: []byte(`{"coefficients":[1,2,3,4],"intercept":0}`)}
	_, err := NewStoreFS(fsys, "models").Load(context.Background())
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) || dm.Want != 3 || dm.Got != 4 {
		t.Fatalf("expected model dimension mismatch, got %v", err)
	}
}

func TestStoreLoadUnsupportedModelKind(t *testing.T) {
	fsys := testFS()
	fsys["model.json"] = &fstest.MapFile{Data: []byte(`{"kind":"random_forest"}`)}
	if _, err := NewStoreFS(fsys, "models").Load(context.Background()); !errors.Is(err, ErrArtifactLoad) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestStoreLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStoreFS(testFS(), "models").Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStoreZeroScaleReplaced(t *testing.T) {
	fsys := testFS()
	fsys["scaler.json"] = &fstest.MapFile{Data: []byte(`{"mean_":[1,2,3],"scale_":[1,0,2]}`)}
	b, err := NewStoreFS(fsys, "models").Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Scaler.Scale[1] != 1 {
		t.Fatalf("zero scale should become 1, got %v", b.Scaler.Scale)
	}
}

func TestStoreCustomFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m.json": {Data: []byte(testModel)},
		"s.json": {Data: []byte(testScaler)},
		"f.json": {Data: []byte(testFeatures)},
	}
	s := NewStoreFS(fsys, "x", WithFiles(Files{Model: "m.json", Scaler: "s.json", Features: "f.json"}))
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestStorePartialFiles(t *testing.T) {
	fsys := testFS()
	fsys["model_v2.json"] = fsys["model.json"]
	delete(fsys, "model.json")
	s := NewStoreFS(fsys, "models", WithFiles(Files{Model: "model_v2.json"}))
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("unset names should keep their defaults: %v", err)
	}
}

func TestGenerationChangesWithContent(t *testing.T) {
	a, _ := NewStoreFS(testFS(), "models").Load(context.Background())
	fsys := testFS()
	fsys["model.json"] = &fstest.MapFile{Data: []byte(`{"coefficients":[1,1,1],"intercept":0}`)}
	b, _ := NewStoreFS(fsys, "models").Load(context.Background())
	if a.Generation.ID == b.Generation.ID {
		t.Fatal("generation should change when a file changes")
	}
	c, _ := NewStoreFS(testFS(), "models").Load(context.Background())
	if a.Generation.ID != c.Generation.ID {
		t.Fatal("identical files should give the same generation")
	}
}

func TestNewStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	for name, f := range testFS() {
		if err := os.WriteFile(filepath.Join(dir, name), f.Data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	b, err := NewStore(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := b.Generation.Files[ArtifactModel].Path; got != filepath.Join(dir, "model.json") {
		t.Fatalf("unexpected path %q", got)
	}
}
