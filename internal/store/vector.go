package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// PartitionConfig describes one modality's embedding space.
type PartitionConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
}

// PartitionedVectorStore keeps one HNSW graph per modality. Embedding
// spaces of different modalities are not comparable, so a query never
// crosses partitions.
type PartitionedVectorStore struct {
	mu         sync.RWMutex
	partitions map[Modality]*vectorPartition
	closed     bool
}

// vectorPartition is a single modality's graph plus its key mappings.
// Content keys are strings; the graph wants uint64 keys, so each
// partition maintains a bidirectional mapping.
type vectorPartition struct {
	graph   *hnsw.Graph[uint64]
	config  PartitionConfig
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// partitionMetadata is the gob-persisted sidecar for one partition.
type partitionMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  PartitionConfig
}

// NewPartitionedVectorStore creates an empty store with one partition
// per configured modality.
func NewPartitionedVectorStore(configs map[Modality]PartitionConfig) (*PartitionedVectorStore, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no modality partitions configured")
	}

	partitions := make(map[Modality]*vectorPartition, len(configs))
	for modality, cfg := range configs {
		if cfg.Dimensions <= 0 {
			return nil, fmt.Errorf("partition %s: dimensions must be positive", modality)
		}
		partitions[modality] = newVectorPartition(cfg)
	}
	return &PartitionedVectorStore{partitions: partitions}, nil
}

func newVectorPartition(cfg PartitionConfig) *vectorPartition {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &vectorPartition{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func (s *PartitionedVectorStore) partition(modality Modality) (*vectorPartition, error) {
	p, ok := s.partitions[modality]
	if !ok {
		return nil, fmt.Errorf("no partition for modality %q", modality)
	}
	return p, nil
}

// Upsert inserts or replaces the vector for a content key. Replacement
// uses lazy deletion: the old graph node is orphaned rather than removed,
// which sidesteps a coder/hnsw bug when deleting the last node.
func (s *PartitionedVectorStore) Upsert(ctx context.Context, contentKey string, modality Modality, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	p, err := s.partition(modality)
	if err != nil {
		return err
	}
	if len(vector) != p.config.Dimensions {
		return ErrDimensionMismatch{Modality: modality, Expected: p.config.Dimensions, Got: len(vector)}
	}

	if existing, ok := p.idMap[contentKey]; ok {
		delete(p.keyMap, existing)
		delete(p.idMap, contentKey)
	}

	key := p.nextKey
	p.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if p.config.Metric != "l2" {
		normalizeVectorInPlace(vec)
	}

	p.graph.Add(hnsw.MakeNode(key, vec))
	p.idMap[contentKey] = key
	p.keyMap[key] = contentKey
	return nil
}

// Query returns up to k nearest neighbors in the modality's partition,
// sorted by non-decreasing distance with ties broken by content key.
func (s *PartitionedVectorStore) Query(ctx context.Context, modality Modality, vector []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	p, err := s.partition(modality)
	if err != nil {
		return nil, err
	}
	if len(vector) != p.config.Dimensions {
		return nil, ErrDimensionMismatch{Modality: modality, Expected: p.config.Dimensions, Got: len(vector)}
	}
	if p.graph.Len() == 0 || len(p.idMap) == 0 {
		return []*VectorResult{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	if p.config.Metric != "l2" {
		normalizeVectorInPlace(query)
	}

	// Over-fetch to cover lazy-deleted orphans still in the graph.
	fetch := k + (p.graph.Len() - len(p.idMap))
	nodes := p.graph.Search(query, fetch)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		contentKey, ok := p.keyMap[node.Key]
		if !ok {
			continue // orphaned by lazy deletion
		}
		distance := p.graph.Distance(query, node.Value)
		results = append(results, &VectorResult{
			ContentKey: contentKey,
			Distance:   distance,
			Score:      distanceToScore(distance, p.config.Metric),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ContentKey < results[j].ContentKey
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes content keys from a partition. Lazy: mappings are
// dropped, graph nodes stay behind as orphans until the next rebuild.
func (s *PartitionedVectorStore) Delete(ctx context.Context, modality Modality, contentKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	p, err := s.partition(modality)
	if err != nil {
		return err
	}

	for _, contentKey := range contentKeys {
		if key, ok := p.idMap[contentKey]; ok {
			delete(p.keyMap, key)
			delete(p.idMap, contentKey)
		}
	}
	return nil
}

// Contains checks if a key is live in a partition.
func (s *PartitionedVectorStore) Contains(modality Modality, contentKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	p, ok := s.partitions[modality]
	if !ok {
		return false
	}
	_, exists := p.idMap[contentKey]
	return exists
}

// Count returns the number of live vectors in a partition.
func (s *PartitionedVectorStore) Count(modality Modality) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	p, ok := s.partitions[modality]
	if !ok {
		return 0
	}
	return len(p.idMap)
}

// AllKeys returns the live content keys of a partition.
func (s *PartitionedVectorStore) AllKeys(modality Modality) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	p, ok := s.partitions[modality]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(p.idMap))
	for contentKey := range p.idMap {
		keys = append(keys, contentKey)
	}
	return keys
}

// Save persists every partition under dir, one graph file plus a gob
// metadata sidecar per modality. Writes are atomic (temp file + rename).
func (s *PartitionedVectorStore) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vector directory: %w", err)
	}

	for modality, p := range s.partitions {
		path := filepath.Join(dir, string(modality)+".hnsw")
		if err := savePartition(p, path); err != nil {
			return fmt.Errorf("save %s partition: %w", modality, err)
		}
	}
	return nil
}

func savePartition(p *vectorPartition, path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := p.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	metaTmp := path + ".meta.tmp"
	metaFile, err := os.Create(metaTmp)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	meta := partitionMetadata{IDMap: p.idMap, NextKey: p.nextKey, Config: p.config}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		metaFile.Close()
		os.Remove(metaTmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(metaTmp, path+".meta")
}

// Load restores partitions from dir. Partitions with no persisted file
// stay empty; a fresh data directory is not an error.
func (s *PartitionedVectorStore) Load(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for modality, p := range s.partitions {
		path := filepath.Join(dir, string(modality)+".hnsw")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		configured := p.config
		if err := loadPartition(p, path); err != nil {
			return fmt.Errorf("load %s partition: %w", modality, err)
		}
		if p.config.Dimensions != configured.Dimensions {
			return fmt.Errorf("%s partition: persisted dimensions %d differ from configured %d",
				modality, p.config.Dimensions, configured.Dimensions)
		}
		if p.config.Metric != configured.Metric {
			return fmt.Errorf("%s partition: persisted metric %q differs from configured %q",
				modality, p.config.Metric, configured.Metric)
		}
	}
	return nil
}

func loadPartition(p *vectorPartition, path string) error {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	var meta partitionMetadata
	err = gob.NewDecoder(metaFile).Decode(&meta)
	metaFile.Close()
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	p.config = meta.Config
	p.idMap = meta.IDMap
	p.nextKey = meta.NextKey
	p.keyMap = make(map[uint64]string, len(meta.IDMap))
	for contentKey, key := range meta.IDMap {
		p.keyMap[key] = contentKey
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// Import requires io.ByteReader.
	if err := p.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

// Close releases resources. The graphs need no explicit cleanup.
func (s *PartitionedVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.partitions = nil
	return nil
}

var _ VectorIndex = (*PartitionedVectorStore)(nil)

// normalizeVectorInPlace scales a vector to unit length.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a similarity in [0, 1].
// Cosine distance ranges 0-2; L2 ranges 0 to infinity.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
