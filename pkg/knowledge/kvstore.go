package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paprika-agent/paprika/pkg/embed"
	"github.com/paprika-agent/paprika/pkg/kv"
	"github.com/paprika-agent/paprika/pkg/storage"
	"github.com/paprika-agent/paprika/pkg/vecstore"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot blob names used by KVStore.
const (
	MemorySnapshotName = "memories.vec"
	SkillSnapshotName  = "skills.vec"
)

// KVConfig configures OpenKV.
type KVConfig struct {
	// KV holds the records. Required. The KVStore owns it and closes it.
	KV kv.Store

	// Embedder embeds memory contents, skills and queries. Required.
	Embedder embed.Embedder

	// Blobs holds vector index snapshots. Optional: without it the
	// indexes are always rebuilt from the records on open.
	Blobs storage.Blobs

	// NewIndex creates the memory and skill indexes. It must return L2
	// indexes. Defaults to an exact flat index.
	NewIndex func() vecstore.Index

	// Prefix scopes all keys. Defaults to {"kb"}.
	Prefix kv.Key

	Logger *slog.Logger

	// Now is the clock, for tests.
	Now func() time.Time
}

// KVStore is a Store over a kv.Store with in-memory vector indexes.
type KVStore struct {
	kv       kv.Store
	embedder embed.Embedder
	blobs    storage.Blobs
	prefix   kv.Key
	logger   *slog.Logger
	now      func() time.Time

	memories vecstore.Index
	skills   vecstore.Index

	skillLocks keyLock
}

var _ Store = (*KVStore)(nil)

// OpenKV loads the vector indexes, from snapshots when they match the
// stored records and otherwise by re-indexing every record.
func OpenKV(ctx context.Context, cfg KVConfig) (*KVStore, error) {
	if cfg.KV == nil || cfg.Embedder == nil {
		return nil, errors.New("knowledge: KV and Embedder are required")
	}
	if cfg.NewIndex == nil {
		cfg.NewIndex = func() vecstore.Index { return vecstore.NewFlat(vecstore.L2, 0) }
	}
	if cfg.Prefix == nil {
		cfg.Prefix = kv.Key{"kb"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &KVStore{
		kv:       cfg.KV,
		embedder: cfg.Embedder,
		blobs:    cfg.Blobs,
		prefix:   cfg.Prefix,
		logger:   cfg.Logger,
		now:      cfg.Now,
		memories: cfg.NewIndex(),
		skills:   cfg.NewIndex(),
	}
	if s.memories.Metric() != vecstore.L2 || s.skills.Metric() != vecstore.L2 {
		return nil, errors.New("knowledge: indexes must use the L2 metric")
	}

	err := s.loadIndex(ctx, s.memories, MemorySnapshotName, memoryRecordPrefix(s.prefix), func(b []byte) (string, []float32, error) {
		var m MemoryRecord
		err := msgpack.Unmarshal(b, &m)
		return m.ID, m.Embedding, err
	})
	if err != nil {
		return nil, err
	}
	err = s.loadIndex(ctx, s.skills, SkillSnapshotName, skillPrefix(s.prefix), func(b []byte) (string, []float32, error) {
		var sk SkillRecord
		err := msgpack.Unmarshal(b, &sk)
		return sk.TaskName, sk.Embedding, err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KVStore) loadIndex(ctx context.Context, idx vecstore.Index, name string, prefix kv.Key, decode func([]byte) (string, []float32, error)) error {
	var count int
	for _, err := range s.kv.List(ctx, prefix) {
		if err != nil {
			return fmt.Errorf("knowledge: count %s: %w", prefix, err)
		}
		count++
	}

	if s.blobs != nil {
		snap, ok, err := vecstore.ReadSnapshot(ctx, s.blobs, name)
		switch {
		case err != nil:
			s.logger.Warn("knowledge: unreadable snapshot, rebuilding", "name", name, "error", err)
		case ok && snap.Len() == count:
			err := snap.Restore(idx)
			if err == nil {
				s.logger.Debug("knowledge: index restored", "name", name, "vectors", count)
				return nil
			}
			s.logger.Warn("knowledge: snapshot restore failed, rebuilding", "name", name, "error", err)
			for _, id := range snap.IDs {
				idx.Delete(id)
			}
		case ok:
			s.logger.Info("knowledge: stale snapshot, rebuilding", "name", name, "snapshot", snap.Len(), "records", count)
		}
	}

	for e, err := range s.kv.List(ctx, prefix) {
		if err != nil {
			return fmt.Errorf("knowledge: rebuild %s: %w", name, err)
		}
		id, vec, err := decode(e.Value)
		if err != nil {
			s.logger.Warn("knowledge: skipping malformed record", "key", e.Key.String(), "error", err)
			continue
		}
		if len(vec) == 0 {
			continue
		}
		if err := idx.Insert(id, vec); err != nil {
			s.logger.Warn("knowledge: skipping unindexable record", "key", e.Key.String(), "error", err)
		}
	}
	s.logger.Debug("knowledge: index rebuilt", "name", name, "vectors", idx.Len())
	return nil
}

func (s *KVStore) AppendMemory(ctx context.Context, m *MemoryRecord) error {
	if m.Content == "" {
		return errors.New("knowledge: empty memory content")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	normalizeMemory(m, s.now())
	vec, err := s.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("knowledge: embed memory: %w", err)
	}
	m.Embedding = vec

	data, err := msgpack.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.memories.Insert(m.ID, vec); err != nil {
		return fmt.Errorf("knowledge: index memory: %w", err)
	}
	err = s.kv.BatchSet(ctx, []kv.Entry{
		{Key: memoryKey(s.prefix, m.ID), Value: data},
		{Key: dayIndexKey(s.prefix, m), Value: []byte{}},
	})
	if err != nil {
		s.memories.Delete(m.ID)
		return fmt.Errorf("knowledge: store memory: %w", err)
	}
	return nil
}

func (s *KVStore) RecentMemories(ctx context.Context, asOfDay, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []MemoryRecord
	for e, err := range s.kv.ListReverse(ctx, dayIndexPrefix(s.prefix)) {
		if err != nil {
			return nil, err
		}
		day, id, err := parseDayIndexKey(e.Key, len(s.prefix))
		if err != nil {
			s.logger.Warn("knowledge: skipping index entry", "error", err)
			continue
		}
		if day > asOfDay {
			continue
		}
		m, err := s.memory(ctx, id)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *KVStore) memory(ctx context.Context, id string) (*MemoryRecord, error) {
	data, err := s.kv.Get(ctx, memoryKey(s.prefix, id))
	if err != nil {
		return nil, err
	}
	var m MemoryRecord
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("knowledge: decode memory %s: %w", id, err)
	}
	return &m, nil
}

func (s *KVStore) SimilarMemories(ctx context.Context, query string, limit int) ([]MemoryRecord, error) {
	matches, err := s.search(ctx, s.memories, query, limit)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	out := make([]MemoryRecord, 0, len(matches))
	for _, m := range matches {
		rec, err := s.memory(ctx, m.ID)
		if errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("knowledge: indexed memory missing", "id", m.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *KVStore) SimilarSkills(ctx context.Context, query string, limit int) ([]SkillRecord, error) {
	matches, err := s.search(ctx, s.skills, query, limit)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	out := make([]SkillRecord, 0, len(matches))
	for _, m := range matches {
		rec, err := s.Skill(ctx, m.ID)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("knowledge: indexed skill missing", "task", m.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *KVStore) search(ctx context.Context, idx vecstore.Index, query string, limit int) ([]vecstore.Match, error) {
	if limit <= 0 || idx.Len() == 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	return idx.Search(vec, limit)
}

// UpsertSkill serializes writers per task name; the last writer wins.
func (s *KVStore) UpsertSkill(ctx context.Context, sk *SkillRecord) error {
	if sk.TaskName == "" {
		return errors.New("knowledge: empty task name")
	}
	unlock := s.skillLocks.lock(sk.TaskName)
	defer unlock()

	now := s.now()
	rec := *sk
	existing, err := s.Skill(ctx, sk.TaskName)
	switch {
	case errors.Is(err, ErrNotFound):
		rec.CreatedAt = now
		rec.UsageCount = max(rec.UsageCount, 1)
		rec.SuccessCount = max(rec.SuccessCount, 1)
	case err != nil:
		return err
	default:
		rec.CreatedAt = existing.CreatedAt
		rec.UsageCount = existing.UsageCount + 1
		rec.SuccessCount = existing.SuccessCount + 1
		if rec.Code == "" {
			rec.Code = existing.Code
		}
	}
	rec.UpdatedAt = now

	vec, err := s.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return fmt.Errorf("knowledge: embed skill: %w", err)
	}
	rec.Embedding = vec
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	if err := s.skills.Insert(rec.TaskName, vec); err != nil {
		return fmt.Errorf("knowledge: index skill: %w", err)
	}
	if err := s.kv.Set(ctx, skillKey(s.prefix, rec.TaskName), data); err != nil {
		var rerr error
		if existing != nil {
			rerr = s.skills.Insert(existing.TaskName, existing.Embedding)
		} else {
			rerr = s.skills.Delete(rec.TaskName)
		}
		if rerr != nil {
			s.logger.Error("knowledge: skill index rollback failed", "task", rec.TaskName, "error", rerr)
		}
		return fmt.Errorf("knowledge: store skill: %w", err)
	}
	*sk = rec
	return nil
}

func (s *KVStore) Skill(ctx context.Context, taskName string) (*SkillRecord, error) {
	data, err := s.kv.Get(ctx, skillKey(s.prefix, taskName))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sk SkillRecord
	if err := msgpack.Unmarshal(data, &sk); err != nil {
		return nil, fmt.Errorf("knowledge: decode skill %s: %w", taskName, err)
	}
	return &sk, nil
}

// Snapshot writes both vector indexes to the configured blob store. It is
// a no-op without one.
func (s *KVStore) Snapshot(ctx context.Context) error {
	if s.blobs == nil {
		return nil
	}
	if err := vecstore.WriteSnapshot(ctx, s.blobs, MemorySnapshotName, s.memories); err != nil {
		return fmt.Errorf("knowledge: snapshot memories: %w", err)
	}
	if err := vecstore.WriteSnapshot(ctx, s.blobs, SkillSnapshotName, s.skills); err != nil {
		return fmt.Errorf("knowledge: snapshot skills: %w", err)
	}
	return nil
}

// Close snapshots the indexes when a blob store is configured and closes
// the kv store.
func (s *KVStore) Close() error {
	serr := s.Snapshot(context.Background())
	if serr != nil {
		s.logger.Error("knowledge: snapshot on close", "error", serr)
	}
	return errors.Join(serr, s.kv.Close())
}
