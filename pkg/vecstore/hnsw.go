package vecstore

import (
	"cmp"
	"container/heap"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

// HNSWConfig configures NewHNSW. Zero fields take defaults.
type HNSWConfig struct {
	Metric Metric

	// Dim is the vector length. Zero adopts the first inserted vector.
	Dim int

	// M bounds the links per node on upper layers. Layer 0 allows 2*M.
	// Default 16.
	M int

	// EfConstruction is the candidate list size while linking a new
	// node. Default 200.
	EfConstruction int

	// EfSearch is the candidate list size for queries, raised to k when
	// smaller. Default 64.
	EfSearch int

	// Seed fixes level assignment, for reproducible graphs in tests.
	Seed uint64
}

const maxLevel = 16

// HNSW is an approximate index over a hierarchical navigable small-world
// graph. Upper layers hold exponentially fewer nodes and route a query
// towards its neighbourhood; layer 0 holds every node.
type HNSW struct {
	cfg    HNSWConfig
	levelF float64

	mu    sync.RWMutex
	dim   dims
	rng   *rand.Rand
	nodes []*hnswNode // nil marks a free slot
	slots map[string]int32
	free  []int32
	entry int32 // -1 when empty
	top   int
}

// hnswNode is a graph vertex. links[l] lists neighbour slots on layer l,
// so the node's level is len(links)-1.
type hnswNode struct {
	id    string
	vec   []float32
	links [][]int32
}

var _ Index = (*HNSW)(nil)

// NewHNSW returns an empty graph index.
func NewHNSW(cfg HNSWConfig) *HNSW {
	if cfg.M < 2 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &HNSW{
		cfg:    cfg,
		levelF: 1 / math.Log(float64(cfg.M)),
		dim:    dims(cfg.Dim),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		slots:  make(map[string]int32),
		entry:  -1,
	}
}

func (h *HNSW) Metric() Metric { return h.cfg.Metric }

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.slots)
}

func (h *HNSW) maxLinks(layer int) int {
	if layer == 0 {
		return 2 * h.cfg.M
	}
	return h.cfg.M
}

func (h *HNSW) dist(q []float32, slot int32) float32 {
	return h.cfg.Metric.Distance(q, h.nodes[slot].vec)
}

func (h *HNSW) Insert(id string, vector []float32) error {
	v := slices.Clone(vector)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.dim.check(v); err != nil {
		return err
	}
	if old, ok := h.slots[id]; ok {
		h.unlink(old)
	}

	level := min(int(-math.Log(1-h.rng.Float64())*h.levelF), maxLevel)
	n := &hnswNode{id: id, vec: v, links: make([][]int32, level+1)}
	slot := h.alloc(n)

	if h.entry < 0 {
		h.entry, h.top = slot, level
		return nil
	}

	cur := h.descend(v, h.entry, h.top, level+1)
	entries := []candidate{cur}
	for l := min(level, h.top); l >= 0; l-- {
		found := h.beam(v, entries, h.cfg.EfConstruction, l)
		limit := h.maxLinks(l)
		for _, c := range found[:min(limit, len(found))] {
			n.links[l] = append(n.links[l], c.slot)
			peer := h.nodes[c.slot]
			peer.links[l] = append(peer.links[l], slot)
			if len(peer.links[l]) > limit {
				h.prune(peer, l, limit)
			}
		}
		entries = found
	}
	if level > h.top {
		h.entry, h.top = slot, level
	}
	return nil
}

func (h *HNSW) alloc(n *hnswNode) int32 {
	var slot int32
	if k := len(h.free); k > 0 {
		slot = h.free[k-1]
		h.free = h.free[:k-1]
		h.nodes[slot] = n
	} else {
		slot = int32(len(h.nodes))
		h.nodes = append(h.nodes, n)
	}
	h.slots[n.id] = slot
	return slot
}

// prune keeps the limit closest links of n on layer l.
func (h *HNSW) prune(n *hnswNode, l, limit int) {
	cs := make([]candidate, len(n.links[l]))
	for i, s := range n.links[l] {
		cs[i] = candidate{slot: s, dist: h.dist(n.vec, s)}
	}
	slices.SortFunc(cs, compareCandidate)
	n.links[l] = n.links[l][:0]
	for _, c := range cs[:limit] {
		n.links[l] = append(n.links[l], c.slot)
	}
}

func (h *HNSW) Delete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if slot, ok := h.slots[id]; ok {
		h.unlink(slot)
	}
	return nil
}

// unlink removes the node in slot and every edge pointing at it, then
// elects a new entry point when needed.
func (h *HNSW) unlink(slot int32) {
	gone := h.nodes[slot]
	for _, n := range h.nodes {
		if n == nil || n == gone {
			continue
		}
		for l := range n.links {
			n.links[l] = slices.DeleteFunc(n.links[l], func(s int32) bool { return s == slot })
		}
	}
	delete(h.slots, gone.id)
	h.nodes[slot] = nil
	h.free = append(h.free, slot)

	if h.entry != slot {
		return
	}
	h.entry, h.top = -1, 0
	for s, n := range h.nodes {
		if n != nil && (h.entry < 0 || len(n.links)-1 > h.top) {
			h.entry, h.top = int32(s), len(n.links)-1
		}
	}
}

func (h *HNSW) Search(query []float32, k int) ([]Match, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || h.entry < 0 {
		return nil, nil
	}
	d := h.dim
	if err := d.check(query); err != nil {
		return nil, err
	}
	cur := h.descend(query, h.entry, h.top, 1)
	found := h.beam(query, []candidate{cur}, max(h.cfg.EfSearch, k), 0)

	out := make([]Match, 0, min(k, len(found)))
	for _, c := range found {
		out = append(out, Match{ID: h.nodes[c.slot].id, Distance: c.dist})
	}
	slices.SortStableFunc(out, compareMatch)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// descend walks greedily from slot on layer from down to layer to,
// moving to a closer neighbour until none is closer.
func (h *HNSW) descend(q []float32, slot int32, from, to int) candidate {
	cur := candidate{slot: slot, dist: h.dist(q, slot)}
	for l := from; l >= to; l-- {
		for moved := true; moved; {
			moved = false
			links := h.nodes[cur.slot].links
			if l >= len(links) {
				break
			}
			for _, s := range links[l] {
				if d := h.dist(q, s); d < cur.dist {
					cur, moved = candidate{slot: s, dist: d}, true
				}
			}
		}
	}
	return cur
}

// beam runs a best-first search on layer l and returns up to ef nodes in
// ascending distance.
func (h *HNSW) beam(q []float32, entries []candidate, ef, l int) []candidate {
	seen := make(map[int32]struct{}, ef*4)
	frontier := make(frontierQueue, 0, ef)
	best := make([]candidate, 0, ef+1)

	keep := func(c candidate) {
		i, _ := slices.BinarySearchFunc(best, c, compareCandidate)
		best = slices.Insert(best, i, c)
		if len(best) > ef {
			best = best[:ef]
		}
	}
	for _, c := range entries {
		if _, ok := seen[c.slot]; ok {
			continue
		}
		seen[c.slot] = struct{}{}
		heap.Push(&frontier, c)
		keep(c)
	}

	for frontier.Len() > 0 {
		c := heap.Pop(&frontier).(candidate)
		if len(best) >= ef && c.dist > best[len(best)-1].dist {
			break
		}
		links := h.nodes[c.slot].links
		if l >= len(links) {
			continue
		}
		for _, s := range links[l] {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			next := candidate{slot: s, dist: h.dist(q, s)}
			if len(best) < ef || next.dist < best[len(best)-1].dist {
				heap.Push(&frontier, next)
				keep(next)
			}
		}
	}
	return best
}

func (h *HNSW) All() iter.Seq2[string, []float32] {
	h.mu.RLock()
	type pair struct {
		id  string
		vec []float32
	}
	pairs := make([]pair, 0, len(h.slots))
	for _, n := range h.nodes {
		if n != nil {
			pairs = append(pairs, pair{n.id, slices.Clone(n.vec)})
		}
	}
	h.mu.RUnlock()
	slices.SortFunc(pairs, func(a, b pair) int { return cmp.Compare(a.id, b.id) })

	return func(yield func(string, []float32) bool) {
		for _, p := range pairs {
			if !yield(p.id, p.vec) {
				return
			}
		}
	}
}

type candidate struct {
	slot int32
	dist float32
}

func compareCandidate(a, b candidate) int {
	if c := cmp.Compare(a.dist, b.dist); c != 0 {
		return c
	}
	return cmp.Compare(a.slot, b.slot)
}

// frontierQueue is a min-heap of candidates still to expand.
type frontierQueue []candidate

func (q frontierQueue) Len() int           { return len(q) }
func (q frontierQueue) Less(i, j int) bool { return compareCandidate(q[i], q[j]) < 0 }
func (q frontierQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *frontierQueue) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *frontierQueue) Pop() any {
	old := *q
	c := old[len(old)-1]
	*q = old[:len(old)-1]
	return c
}
