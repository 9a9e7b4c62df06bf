package index

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"
)

const shardCount = 16

type record struct {
	isbn string
	vec  []float32 // never mutated after insert
	seq  uint64
}

type shard struct {
	mu      sync.RWMutex
	records map[string]*record
}

// Flat is an exact brute-force index. Records are spread over shards by isbn
// hash so a write only excludes readers of one shard.
type Flat struct {
	dim    int
	shards [shardCount]*shard
	seq    atomic.Uint64
	size   atomic.Int64
}

func NewFlat(dim int) *Flat {
	f := &Flat{dim: dim}
	for i := range f.shards {
		f.shards[i] = &shard{records: make(map[string]*record)}
	}
	return f
}

func (f *Flat) Dimension() int { return f.dim }

func (f *Flat) shardFor(isbn string) *shard {
	return f.shards[stripe(isbn)]
}

// stripe maps an isbn to one of shardCount buckets.
func stripe(isbn string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(isbn))
	return h.Sum32() % shardCount
}

// Insert upserts the vector for isbn. A replacement keeps the original
// insertion sequence so tie ordering is stable across re-ingestion.
func (f *Flat) Insert(ctx context.Context, isbn string, vec []float32) error {
	if err := checkVector(f.dim, vec); err != nil {
		return err
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)

	s := f.shardFor(isbn)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &record{isbn: isbn, vec: cp}
	if old, ok := s.records[isbn]; ok {
		rec.seq = old.seq
	} else {
		rec.seq = f.seq.Add(1)
		f.size.Add(1)
	}
	s.records[isbn] = rec
	return nil
}

func (f *Flat) Query(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	if err := checkVector(f.dim, vec); err != nil {
		return nil, err
	}

	hits := make([]Neighbor, 0, f.size.Load())
	for _, s := range f.shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		for _, rec := range s.records {
			hits = append(hits, Neighbor{ISBN: rec.isbn, Distance: Euclidean(vec, rec.vec), seq: rec.seq})
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(hits, compareNeighbors)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *Flat) Remove(ctx context.Context, isbn string) error {
	s := f.shardFor(isbn)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[isbn]; ok {
		delete(s.records, isbn)
		f.size.Add(-1)
	}
	return nil
}

func (f *Flat) Contains(ctx context.Context, isbn string) (bool, error) {
	s := f.shardFor(isbn)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[isbn]
	return ok, nil
}

func (f *Flat) Len(ctx context.Context) (int, error) {
	return int(f.size.Load()), nil
}

func (f *Flat) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, f.size.Load())
	for _, s := range f.shards {
		s.mu.RLock()
		for isbn := range s.records {
			keys = append(keys, isbn)
		}
		s.mu.RUnlock()
	}
	slices.Sort(keys)
	return keys, nil
}
