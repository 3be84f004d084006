package index

import (
	"bytes"
	"cmp"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const (
	fileMagic   = "docqa-vector-index"
	fileVersion = 1
)

// snapshot is the on-disk layout. The header fields let a reader reject
// files written with another metric or by something else entirely.
type snapshot struct {
	Magic     string
	Version   int
	Metric    string
	Dimension int
	Fragments []model.Fragment
	Vectors   [][]float32
}

// FileIndex keeps every entry in memory and rewrites its backing file after
// each batch. Searches hold a read lock; inserts hold the write lock until
// the new state is on disk.
type FileIndex struct {
	mu        sync.RWMutex
	path      string
	metric    Metric
	dim       int
	fragments []model.Fragment
	vectors   [][]float32
	norms     []float64
	keys      map[fragmentKey]struct{}
	sources   map[string]int

	writeFile func(path string, data []byte) error
}

// New returns an empty index bound to path. Nothing is written until the
// first insert.
func New(path string, metric Metric) *FileIndex {
	return &FileIndex{
		path:      path,
		metric:    metric,
		keys:      make(map[fragmentKey]struct{}),
		sources:   make(map[string]int),
		writeFile: atomicWriteFile,
	}
}

func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads a persisted index. It returns ErrIndexNotFound when nothing is
// stored at path and ErrIndexCorrupt when the file cannot be decoded.
func Load(path string, metric Metric) (*FileIndex, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, appErr.ErrIndexNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%s: decode: %v: %w", path, err, appErr.ErrIndexCorrupt)
	}
	if snap.Magic != fileMagic || snap.Version != fileVersion {
		return nil, fmt.Errorf("%s: unknown header %q v%d: %w", path, snap.Magic, snap.Version, appErr.ErrIndexCorrupt)
	}
	if len(snap.Fragments) != len(snap.Vectors) {
		return nil, fmt.Errorf("%s: %d fragments but %d vectors: %w", path, len(snap.Fragments), len(snap.Vectors), appErr.ErrIndexCorrupt)
	}
	if Metric(snap.Metric) != metric {
		return nil, fmt.Errorf("index built with %q, configured %q: %w", snap.Metric, metric, appErr.ErrMetricMismatch)
	}
	idx := New(path, metric)
	idx.dim = snap.Dimension
	idx.fragments = snap.Fragments
	idx.vectors = snap.Vectors
	idx.norms = make([]float64, len(snap.Vectors))
	for i, vec := range snap.Vectors {
		if len(vec) != snap.Dimension {
			return nil, fmt.Errorf("%s: entry %d has dimension %d, header says %d: %w", path, i, len(vec), snap.Dimension, appErr.ErrIndexCorrupt)
		}
		frag := snap.Fragments[i]
		key := fragmentKey{sourceID: frag.SourceID, chunkIndex: frag.ChunkIndex}
		if _, ok := idx.keys[key]; ok {
			return nil, fmt.Errorf("%s: duplicate fragment %s#%d: %w", path, frag.SourceID, frag.ChunkIndex, appErr.ErrIndexCorrupt)
		}
		idx.keys[key] = struct{}{}
		idx.sources[frag.SourceID]++
		idx.norms[i] = norm(vec)
	}
	return idx, nil
}

// Open loads the index at path or starts an empty one if none exists.
func Open(ctx context.Context, path string, metric Metric) (*FileIndex, error) {
	idx, err := Load(path, metric)
	if errors.Is(err, appErr.ErrIndexNotFound) {
		logutil.GetLogger(ctx).Info("no index on disk, starting empty", zap.String("path", path))
		return New(path, metric), nil
	}
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("index loaded",
		zap.String("path", path),
		zap.Int("entries", len(idx.fragments)),
		zap.Int("dimension", idx.dim),
	)
	return idx, nil
}

func (f *FileIndex) Insert(ctx context.Context, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batchDim, err := validateBatch(entries)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dim != 0 && batchDim != f.dim {
		return fmt.Errorf("index dimension %d, got %d: %w", f.dim, batchDim, appErr.ErrDimensionMismatch)
	}
	for _, e := range entries {
		key := fragmentKey{sourceID: e.Fragment.SourceID, chunkIndex: e.Fragment.ChunkIndex}
		if _, ok := f.keys[key]; ok {
			return fmt.Errorf("fragment %s#%d already indexed: %w", key.sourceID, key.chunkIndex, appErr.ErrConflict)
		}
	}

	fragments := slices.Grow(slices.Clone(f.fragments), len(entries))
	vectors := slices.Grow(slices.Clone(f.vectors), len(entries))
	norms := slices.Grow(slices.Clone(f.norms), len(entries))
	for _, e := range entries {
		vec := slices.Clone(e.Vector)
		fragments = append(fragments, e.Fragment)
		vectors = append(vectors, vec)
		norms = append(norms, norm(vec))
	}

	if err := f.persist(batchDim, fragments, vectors); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	f.dim = batchDim
	f.fragments = fragments
	f.vectors = vectors
	f.norms = norms
	for _, e := range entries {
		f.keys[fragmentKey{sourceID: e.Fragment.SourceID, chunkIndex: e.Fragment.ChunkIndex}] = struct{}{}
		f.sources[e.Fragment.SourceID]++
	}
	logutil.GetLogger(ctx).Debug("index batch committed",
		zap.Int("added", len(entries)),
		zap.Int("total", len(fragments)),
	)
	return nil
}

func (f *FileIndex) persist(dim int, fragments []model.Fragment, vectors [][]float32) error {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(&snapshot{
		Magic:     fileMagic,
		Version:   fileVersion,
		Metric:    string(f.metric),
		Dimension: dim,
		Fragments: fragments,
		Vectors:   vectors,
	})
	if err != nil {
		return err
	}
	return f.writeFile(f.path, buf.Bytes())
}

// Search returns up to topK entries ordered by descending score. Equal scores
// keep insertion order.
func (f *FileIndex) Search(ctx context.Context, vector []float32, topK int) ([]model.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if topK <= 0 || len(f.vectors) == 0 {
		return []model.Hit{}, nil
	}
	if len(vector) != f.dim {
		return nil, fmt.Errorf("query dimension %d, index dimension %d: %w", len(vector), f.dim, appErr.ErrDimensionMismatch)
	}
	qnorm := norm(vector)
	hits := make([]model.Hit, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = model.Hit{Fragment: f.fragments[i], Score: f.score(vector, qnorm, vec, f.norms[i])}
	}
	slices.SortStableFunc(hits, func(a, b model.Hit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *FileIndex) score(q []float32, qnorm float64, v []float32, vnorm float64) float64 {
	d := dot(q, v)
	if f.metric == MetricInnerProduct {
		return d
	}
	if qnorm == 0 || vnorm == 0 {
		return 0
	}
	return d / (qnorm * vnorm)
}

func (f *FileIndex) HasSource(ctx context.Context, sourceID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sources[sourceID] > 0, nil
}

func (f *FileIndex) Count(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.fragments), nil
}

func (f *FileIndex) Path() string {
	return f.path
}

func (f *FileIndex) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// atomicWriteFile writes data next to path and renames it into place so a
// crash leaves either the old or the new file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
