// Package artifact loads the trained model, the fitted scaler and the
// feature list that together make one artifact generation, and caches the
// loaded triple for the pricing pipeline.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"time"
)

// Artifact names.
const (
	ArtifactModel    = "model"
	ArtifactScaler   = "scaler"
	ArtifactFeatures = "features"
)

// Files maps artifact names to file names inside the store directory.
type Files struct {
	Model    string
	Scaler   string
	Features string
}

// DefaultFiles are the file names the training job writes.
var DefaultFiles = Files{
	Model:    "model.json",
	Scaler:   "scaler.json",
	Features: "features.json",
}

// FileIdentity identifies one artifact file by content.
type FileIdentity struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	SHA256  string    `json:"sha256"`
}

// Generation identifies a loaded artifact triple. The ID changes whenever any
// of the three files changes content.
type Generation struct {
	ID    string                  `json:"id"`
	Files map[string]FileIdentity `json:"files"`
}

// Bundle is one consistent artifact generation. Nothing mutates a Bundle
// after Load returns it.
type Bundle struct {
	Model      Model
	Scaler     *ScalerParams
	Schema     *Schema
	Generation Generation
	Warnings   []SchemaLoadWarning
	LoadedAt   time.Time
}

// Loader produces a fresh Bundle from storage.
type Loader interface {
	Load(ctx context.Context) (*Bundle, error)
}

// Store reads artifacts from a file system directory.
type Store struct {
	fsys   fs.FS
	root   string
	files  Files
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFiles overrides the artifact file names. Empty names keep the
// defaults.
func WithFiles(f Files) StoreOption {
	return func(s *Store) {
		if f.Model != "" {
			s.files.Model = f.Model
		}
		if f.Scaler != "" {
			s.files.Scaler = f.Scaler
		}
		if f.Features != "" {
			s.files.Features = f.Features
		}
	}
}

// WithStoreLogger sets the logger used for load warnings.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store rooted at dir on the local disk.
func NewStore(dir string, opts ...StoreOption) *Store {
	return NewStoreFS(os.DirFS(dir), dir, opts...)
}

// NewStoreFS creates a Store over fsys. root is only used in messages.
func NewStoreFS(fsys fs.FS, root string, opts ...StoreOption) *Store {
	s := &Store{
		fsys:   fsys,
		root:   root,
		files:  DefaultFiles,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Compile-time interface check.
var _ Loader = (*Store)(nil)

// Load reads and decodes all three artifacts. It is all-or-nothing: any
// failure returns a *LoadError and no Bundle.
func (s *Store) Load(ctx context.Context) (*Bundle, error) {
	gen := Generation{Files: make(map[string]FileIdentity, 3)}

	read := func(name, file string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, s.loadErr(name, file, err)
		}
		data, id, err := s.readFile(file)
		if err != nil {
			return nil, s.loadErr(name, file, err)
		}
		gen.Files[name] = id
		return data, nil
	}

	modelData, err := read(ArtifactModel, s.files.Model)
	if err != nil {
		return nil, err
	}
	scalerData, err := read(ArtifactScaler, s.files.Scaler)
	if err != nil {
		return nil, err
	}
	featureData, err := read(ArtifactFeatures, s.files.Features)
	if err != nil {
		return nil, err
	}

	model, err := decodeModel(modelData)
	if err != nil {
		return nil, s.loadErr(ArtifactModel, s.files.Model, err)
	}
	scaler, zeroed, err := decodeScaler(scalerData)
	if err != nil {
		return nil, s.loadErr(ArtifactScaler, s.files.Scaler, err)
	}
	schema, warnings, err := decodeSchema(featureData)
	if err != nil {
		return nil, s.loadErr(ArtifactFeatures, s.files.Features, err)
	}

	if scaler.Len() != schema.Len() {
		return nil, s.loadErr(ArtifactScaler, s.files.Scaler,
			&DimensionMismatchError{Stage: "scaler", Want: schema.Len(), Got: scaler.Len()})
	}
	if d, ok := model.(Dimensioned); ok && d.NumFeatures() != schema.Len() {
		return nil, s.loadErr(ArtifactModel, s.files.Model,
			&DimensionMismatchError{Stage: "model", Want: schema.Len(), Got: d.NumFeatures()})
	}

	for _, i := range zeroed {
		s.logger.Warn("scaler has zero scale, using 1", "feature", schema.Name(i), "index", i)
	}
	for _, w := range warnings {
		s.logger.Warn("feature list coerced", "index", w.Index, "coerced", w.Coerced, "reason", w.Reason)
	}

	gen.ID = generationID(gen.Files)
	return &Bundle{
		Model:      model,
		Scaler:     scaler,
		Schema:     schema,
		Generation: gen,
		Warnings:   warnings,
		LoadedAt:   s.now(),
	}, nil
}

func (s *Store) readFile(file string) ([]byte, FileIdentity, error) {
	data, err := fs.ReadFile(s.fsys, file)
	if err != nil {
		return nil, FileIdentity{}, err
	}
	id := FileIdentity{Path: path.Join(s.root, file), Size: int64(len(data))}
	if info, err := fs.Stat(s.fsys, file); err == nil {
		id.ModTime = info.ModTime()
	}
	sum := sha256.Sum256(data)
	id.SHA256 = hex.EncodeToString(sum[:])
	return data, id, nil
}

func (s *Store) loadErr(name, file string, err error) error {
	return &LoadError{Artifact: name, Path: path.Join(s.root, file), Err: err}
}

func generationID(files map[string]FileIdentity) string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte(files[n].SHA256))
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
