// Package index owns the append-only inner-product vector index and the
// aligned document/metadata lists, plus their on-disk snapshot. Row i of the
// index always corresponds to documents[i] and metadata[i]; every mutation
// goes through one lock so the three structures can never desynchronize.
package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vitrine-studio/vitrine/internal/document"
)

const (
	vectorsFile = "vectors.bin"
	recordsFile = "records.json"

	snapshotVersion = 1
)

var snapshotMagic = [4]byte{'V', 'T', 'I', 'X'}

// ErrNoSnapshot is returned by Load when no complete snapshot exists on disk.
// Callers treat it as "start empty and rebuild", never as a failure.
var ErrNoSnapshot = errors.New("no index snapshot")

// ErrCorruptSnapshot is returned when snapshot artifacts exist but disagree
// with each other. The store stays empty; a full rebuild recovers.
var ErrCorruptSnapshot = errors.New("corrupt index snapshot")

// Hit is one similarity-search candidate: a row position and its raw inner
// product score, in [-1,1] for unit-normalized vectors.
type Hit struct {
	Row   int
	Score float64
}

// Store is the process-wide vector index. Construct once and share; reads may
// run concurrently, writes are exclusive.
type Store struct {
	mu        sync.RWMutex
	dim       int
	vectors   [][]float32
	documents []string
	metadata  []document.Metadata

	// siteIDs caches the distinct site_id values present in metadata so
	// change detection never has to scan the whole list.
	siteIDs     map[string]struct{}
	initialized bool
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) *Store {
	return &Store{dim: dim, siteIDs: make(map[string]struct{})}
}

// Add appends rows to the index and both aligned lists. All inputs are
// validated before anything is appended, so a rejected call leaves the store
// untouched and the alignment invariant intact.
func (s *Store) Add(vectors [][]float32, documents []string, metadata []document.Metadata) error {
	if len(vectors) != len(documents) || len(documents) != len(metadata) {
		return fmt.Errorf("misaligned append: %d vectors, %d documents, %d metadata", len(vectors), len(documents), len(metadata))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, vectors...)
	s.documents = append(s.documents, documents...)
	s.metadata = append(s.metadata, metadata...)
	for _, m := range metadata {
		if m.SiteID != "" {
			s.siteIDs[m.SiteID] = struct{}{}
		}
	}
	s.initialized = true
	return nil
}

// ReplaceAll swaps the entire store contents in one step. Used by full
// rebuilds: the caller stages everything off to the side and the previous
// state stays live until this call succeeds.
func (s *Store) ReplaceAll(vectors [][]float32, documents []string, metadata []document.Metadata) error {
	if len(vectors) != len(documents) || len(documents) != len(metadata) {
		return fmt.Errorf("misaligned replace: %d vectors, %d documents, %d metadata", len(vectors), len(documents), len(metadata))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), s.dim)
		}
	}
	sites := make(map[string]struct{})
	for _, m := range metadata {
		if m.SiteID != "" {
			sites[m.SiteID] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = vectors
	s.documents = documents
	s.metadata = metadata
	s.siteIDs = sites
	s.initialized = true
	return nil
}

// Search returns the k best rows by exact inner product, best first. Ties
// keep original row order. An uninitialized store returns no hits.
func (s *Store) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(query), s.dim)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vectors) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 1
	}

	hits := make([]Hit, len(s.vectors))
	for i, v := range s.vectors {
		hits[i] = Hit{Row: i, Score: innerProduct(query, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Row returns the document and metadata at a row position.
func (s *Store) Row(i int) (string, document.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.documents) {
		return "", document.Metadata{}, fmt.Errorf("row %d out of range (size %d)", i, len(s.documents))
	}
	return s.documents[i], s.metadata[i], nil
}

// Size reports the number of indexed rows.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// IsInitialized reports whether the store holds a loaded or built index.
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// IndexedSiteIDs returns the set of site ids currently reflected in the
// index metadata.
func (s *Store) IndexedSiteIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.siteIDs))
	for id := range s.siteIDs {
		out[id] = struct{}{}
	}
	return out
}

// Documents returns a copy of the aligned document list.
func (s *Store) Documents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.documents))
	copy(out, s.documents)
	return out
}

// Metadata returns a copy of the aligned metadata list.
func (s *Store) Metadata() []document.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.Metadata, len(s.metadata))
	copy(out, s.metadata)
	return out
}

type snapshotRecords struct {
	Documents []string            `json:"documents"`
	Metadata  []document.Metadata `json:"metadata"`
}

// Save writes the snapshot to dir: a binary vector artifact and a JSON
// records artifact. Both are written to temp files first and renamed, so a
// crash mid-save leaves the previous snapshot readable.
func (s *Store) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := s.writeVectors(filepath.Join(dir, vectorsFile)); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := s.writeRecords(filepath.Join(dir, recordsFile)); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

func (s *Store) writeVectors(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	header := make([]byte, 16)
	copy(header[:4], snapshotMagic[:])
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(s.dim))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(s.vectors)))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return err
	}
	buf := make([]byte, 4*s.dim)
	for _, vec := range s.vectors {
		for i, x := range vec {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) writeRecords(path string) error {
	tmp := path + ".tmp"
	data, err := json.Marshal(snapshotRecords{Documents: s.documents, Metadata: s.metadata})
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load replaces the store contents with the snapshot in dir. Returns
// ErrNoSnapshot when either artifact is missing and ErrCorruptSnapshot when
// the artifacts disagree; in both cases the store is left empty and callers
// fall back to a full rebuild.
func (s *Store) Load(dir string) error {
	vecPath := filepath.Join(dir, vectorsFile)
	recPath := filepath.Join(dir, recordsFile)
	if !fileExists(vecPath) || !fileExists(recPath) {
		return ErrNoSnapshot
	}

	vectors, err := readVectors(vecPath, s.dim)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	data, err := os.ReadFile(recPath)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	var recs snapshotRecords
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("%w: decode records: %v", ErrCorruptSnapshot, err)
	}
	if len(recs.Documents) != len(recs.Metadata) || len(recs.Documents) != len(vectors) {
		return fmt.Errorf("%w: %d vectors, %d documents, %d metadata", ErrCorruptSnapshot, len(vectors), len(recs.Documents), len(recs.Metadata))
	}

	return s.ReplaceAll(vectors, recs.Documents, recs.Metadata)
}

func readVectors(path string, dim int) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("truncated header")
	}
	if [4]byte(data[:4]) != snapshotMagic {
		return nil, fmt.Errorf("bad magic")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}
	if d := int(binary.LittleEndian.Uint32(data[8:12])); d != dim {
		return nil, fmt.Errorf("snapshot dimension %d, want %d", d, dim)
	}
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	body := data[16:]
	if len(body) != count*dim*4 {
		return nil, fmt.Errorf("body is %d bytes, want %d", len(body), count*dim*4)
	}
	vectors := make([][]float32, count)
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		off := i * dim * 4
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off+4*j:]))
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func innerProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
