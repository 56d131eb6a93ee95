package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/matsen/paperqa/internal/reference"
	"github.com/philippgille/chromem-go"
)

// Errors returned by semantic index operations.
var (
	ErrIndexNotFound      = errors.New("semantic index not found")
	ErrUnsupportedVersion = errors.New("unsupported index version")
	ErrCorruptIndex       = errors.New("semantic index is corrupt")
	ErrReadOnly           = errors.New("semantic index is read-only")
	ErrInvalidArgument    = errors.New("invalid argument")
)

const (
	// MetadataFileName is the name of the metadata record in the index directory.
	MetadataFileName = "metadata.json"

	// VectorsDirName is the chromem-go database directory inside the index directory.
	VectorsDirName = "vectors"

	// CollectionName is the chromem-go collection holding the chunks.
	CollectionName = "chunks"

	// MetricCosine is the only supported similarity metric. chromem-go
	// normalizes vectors on insert and query, so scores are cosine similarities.
	MetricCosine = "cosine"

	// CurrentIndexVersion is the format version for compatibility checking.
	// Increment this when making breaking changes to the index format.
	CurrentIndexVersion = 1
)

// Keys of the per-document metadata stored in chromem-go.
const (
	metaPaperID    = "paper_id"
	metaTitle      = "title"
	metaAuthors    = "authors"
	metaAbstract   = "abstract"
	metaSourceFile = "source_file"
	metaOrdinal    = "ordinal"
	metaChunkIndex = "chunk_index"
)

var collectionMetadata = map[string]string{"hnsw:space": MetricCosine}

// MetadataMismatchError reports an index built with settings that differ
// from the running configuration.
type MetadataMismatchError struct {
	Field      string
	Stored     string
	Configured string
}

func (e *MetadataMismatchError) Error() string {
	return fmt.Sprintf("index %s mismatch: index was built with %q, configuration has %q (rebuild with 'paperqa ingest')",
		e.Field, e.Stored, e.Configured)
}

// Index is a collection of chunks and their embeddings.
//
// An index is built in memory by NewIndex and Add, then written with Save.
// An index returned by Load is read-only and safe for concurrent searches.
type Index struct {
	Metadata Metadata

	db      *chromem.DB
	coll    *chromem.Collection
	pending []chromem.Document // documents written by Save; nil for loaded indexes
	papers  map[string]struct{}
	ids     map[string]struct{}
}

// NewIndex creates a new empty in-memory index.
func NewIndex(modelName string, dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidArgument, dimensions)
	}

	db := chromem.NewDB()
	coll, err := db.CreateCollection(CollectionName, collectionMetadata, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	return &Index{
		Metadata: Metadata{
			Version:    CurrentIndexVersion,
			ModelName:  modelName,
			Dimensions: dimensions,
			Metric:     MetricCosine,
			CreatedAt:  time.Now().UTC(),
		},
		db:      db,
		coll:    coll,
		pending: []chromem.Document{},
		papers:  make(map[string]struct{}),
		ids:     make(map[string]struct{}),
	}, nil
}

// Add appends a chunk and its embedding to the index.
// The ChunkCount and PaperCount fields are updated to reflect the contents.
func (idx *Index) Add(ctx context.Context, chunk reference.Chunk, vector []float32) error {
	if idx.pending == nil {
		return ErrReadOnly
	}
	if len(vector) != idx.Metadata.Dimensions {
		return fmt.Errorf("embedding dimension mismatch for %s: got %d, want %d", chunk.ID, len(vector), idx.Metadata.Dimensions)
	}
	if _, dup := idx.ids[chunk.ID]; dup {
		return fmt.Errorf("duplicate chunk ID %s", chunk.ID)
	}

	doc := chromem.Document{
		ID:        chunk.ID,
		Metadata:  chunkMetadata(chunk),
		Embedding: append([]float32(nil), vector...),
		Content:   chunk.Text,
	}
	if err := idx.coll.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding chunk %s: %w", chunk.ID, err)
	}

	idx.pending = append(idx.pending, doc)
	idx.ids[chunk.ID] = struct{}{}
	idx.papers[chunk.Paper.ID] = struct{}{}
	idx.Metadata.ChunkCount = len(idx.ids)
	idx.Metadata.PaperCount = len(idx.papers)
	return nil
}

// Count returns the number of chunks in the index.
func (idx *Index) Count() int {
	return idx.coll.Count()
}

// Chunk returns a stored chunk and its (normalized) vector.
func (idx *Index) Chunk(ctx context.Context, id string) (reference.Chunk, []float32, error) {
	doc, err := idx.coll.GetByID(ctx, id)
	if err != nil {
		return reference.Chunk{}, nil, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	chunk, err := chunkFromDocument(doc.ID, doc.Metadata, doc.Content)
	if err != nil {
		return reference.Chunk{}, nil, err
	}
	return chunk, doc.Embedding, nil
}

// Validate checks the stored metadata against the running configuration.
func (idx *Index) Validate(modelName string, dimensions int, metric string) error {
	return idx.Metadata.Validate(modelName, dimensions, metric)
}

// Validate checks the metadata against the configured embedding model,
// vector dimension and similarity metric.
func (m Metadata) Validate(modelName string, dimensions int, metric string) error {
	if m.ModelName != modelName {
		return &MetadataMismatchError{Field: "embedding model", Stored: m.ModelName, Configured: modelName}
	}
	if m.Dimensions != dimensions {
		return &MetadataMismatchError{Field: "dimensions", Stored: strconv.Itoa(m.Dimensions), Configured: strconv.Itoa(dimensions)}
	}
	if m.Metric != metric {
		return &MetadataMismatchError{Field: "similarity metric", Stored: m.Metric, Configured: metric}
	}
	return nil
}

// Save persists the index to dir, fully replacing any index already there.
// The new index is written to a staging directory next to dir and swapped in
// with renames, so readers never observe a half-written index.
func (idx *Index) Save(dir string) error {
	if idx.pending == nil {
		return ErrReadOnly
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("creating index parent directory: %w", err)
	}

	staging, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(staging) }

	if err := idx.writeTo(staging); err != nil {
		cleanup()
		return err
	}

	var old string
	if _, err := os.Stat(dir); err == nil {
		old = staging + ".old"
		if err := os.Rename(dir, old); err != nil {
			cleanup()
			return fmt.Errorf("moving previous index aside: %w", err)
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		if old != "" {
			os.Rename(old, dir)
		}
		cleanup()
		return fmt.Errorf("renaming staging directory: %w", err)
	}

	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

// writeTo writes the vectors and metadata record into an empty directory.
func (idx *Index) writeTo(dir string) error {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, VectorsDirName), false)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	coll, err := db.CreateCollection(CollectionName, collectionMetadata, nil)
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	ctx := context.Background()
	for _, doc := range idx.pending {
		if err := coll.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("writing chunk %s: %w", doc.ID, err)
		}
	}

	data, err := json.MarshalIndent(idx.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFileName), data, 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// ReadMetadata reads only the metadata record of the index in dir.
func ReadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing metadata: %v", ErrCorruptIndex, err)
	}

	if meta.Version != CurrentIndexVersion {
		return nil, fmt.Errorf("%w: got %d, want %d (rebuild with 'paperqa ingest')",
			ErrUnsupportedVersion, meta.Version, CurrentIndexVersion)
	}
	return &meta, nil
}

// Load reads the index in dir. The returned index is read-only.
func Load(dir string) (*Index, error) {
	meta, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}

	vectorsDir := filepath.Join(dir, VectorsDirName)
	if info, err := os.Stat(vectorsDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptIndex, vectorsDir)
	}

	db, err := chromem.NewPersistentDB(vectorsDir, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	coll := db.GetCollection(CollectionName, nil)
	if coll == nil {
		return nil, fmt.Errorf("%w: collection %q not found", ErrCorruptIndex, CollectionName)
	}
	if coll.Count() != meta.ChunkCount {
		return nil, fmt.Errorf("%w: metadata lists %d chunks, store has %d", ErrCorruptIndex, meta.ChunkCount, coll.Count())
	}

	return &Index{Metadata: *meta, db: db, coll: coll}, nil
}

// Exists checks if an index metadata record exists in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MetadataFileName))
	return err == nil
}

// IndexSize returns the total size of the index files in bytes.
func IndexSize(dir string) (int64, error) {
	if !Exists(dir) {
		return 0, ErrIndexNotFound
	}

	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func chunkMetadata(c reference.Chunk) map[string]string {
	return map[string]string{
		metaPaperID:    c.Paper.ID,
		metaTitle:      c.Paper.Title,
		metaAuthors:    c.Paper.Authors,
		metaAbstract:   c.Paper.Abstract,
		metaSourceFile: c.Paper.SourceFile,
		metaOrdinal:    strconv.Itoa(c.Ordinal),
		metaChunkIndex: strconv.Itoa(c.Index),
	}
}

func chunkFromDocument(id string, meta map[string]string, content string) (reference.Chunk, error) {
	ordinal, err := strconv.Atoi(meta[metaOrdinal])
	if err != nil {
		return reference.Chunk{}, fmt.Errorf("%w: chunk %s has invalid ordinal %q", ErrCorruptIndex, id, meta[metaOrdinal])
	}
	index, _ := strconv.Atoi(meta[metaChunkIndex])

	return reference.Chunk{
		ID:      id,
		Ordinal: ordinal,
		Index:   index,
		Text:    content,
		Paper: reference.PaperRecord{
			ID:         meta[metaPaperID],
			Title:      meta[metaTitle],
			Authors:    meta[metaAuthors],
			Abstract:   meta[metaAbstract],
			SourceFile: meta[metaSourceFile],
		},
	}, nil
}
