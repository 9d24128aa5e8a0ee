package vecstore

import (
	"cmp"
	"iter"
	"slices"
	"sync"
)

// Flat is an exact index that compares the query against every vector.
type Flat struct {
	metric Metric

	mu   sync.RWMutex
	dim  dims
	vecs map[string][]float32
}

var _ Index = (*Flat)(nil)

// NewFlat returns an empty index. dim may be zero to adopt the length of
// the first inserted vector.
func NewFlat(metric Metric, dim int) *Flat {
	return &Flat{metric: metric, dim: dims(dim), vecs: make(map[string][]float32)}
}

func (f *Flat) Metric() Metric { return f.metric }

func (f *Flat) Insert(id string, vector []float32) error {
	v := slices.Clone(vector)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dim.check(v); err != nil {
		return err
	}
	f.vecs[id] = v
	return nil
}

func (f *Flat) Delete(id string) error {
	f.mu.Lock()
	delete(f.vecs, id)
	f.mu.Unlock()
	return nil
}

// Search breaks distance ties by ID so results are deterministic.
func (f *Flat) Search(query []float32, k int) ([]Match, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vecs) == 0 {
		return nil, nil
	}
	d := f.dim
	if err := d.check(query); err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(f.vecs))
	for id, v := range f.vecs {
		out = append(out, Match{ID: id, Distance: f.metric.Distance(query, v)})
	}
	slices.SortFunc(out, compareMatch)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func compareMatch(a, b Match) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vecs)
}

func (f *Flat) All() iter.Seq2[string, []float32] {
	f.mu.RLock()
	ids := make([]string, 0, len(f.vecs))
	for id := range f.vecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	vecs := make([][]float32, len(ids))
	for i, id := range ids {
		vecs[i] = slices.Clone(f.vecs[id])
	}
	f.mu.RUnlock()

	return func(yield func(string, []float32) bool) {
		for i, id := range ids {
			if !yield(id, vecs[i]) {
				return
			}
		}
	}
}
