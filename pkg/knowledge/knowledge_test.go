package knowledge

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paprika-agent/paprika/pkg/embed"
	"github.com/paprika-agent/paprika/pkg/kv"
	"github.com/paprika-agent/paprika/pkg/storage"
	"github.com/paprika-agent/paprika/pkg/vecstore"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, cfg KVConfig) *KVStore {
	t.Helper()
	if cfg.KV == nil {
		cfg.KV = kv.NewMemory(nil)
	}
	if cfg.Embedder == nil {
		cfg.Embedder = embed.NewHash(256)
	}
	cfg.Now = func() time.Time { return testTime }
	s, err := OpenKV(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func contents(ms []MemoryRecord) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Content
	}
	return out
}

func TestRecentMemories(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, KVConfig{})
	defer s.Close()

	for _, m := range []MemoryRecord{
		{Day: 1, TimeSlot: 10, Content: "day one morning"},
		{Day: 2, TimeSlot: 5, Content: "day two early"},
		{Day: 12, TimeSlot: 1, Content: "day twelve"},
		{Day: 2, TimeSlot: 12, Content: "day two noon"},
		{Day: 3, TimeSlot: 1, Content: "day three"},
	} {
		if err := s.AppendMemory(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentMemories(ctx, 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"day two noon", "day two early", "day one morning"}
	if diff := cmp.Diff(want, contents(got)); diff != "" {
		t.Errorf("RecentMemories(2, 10) (-want +got):\n%s", diff)
	}

	got, _ = s.RecentMemories(ctx, 100, 2)
	if diff := cmp.Diff([]string{"day twelve", "day three"}, contents(got)); diff != "" {
		t.Errorf("RecentMemories(100, 2) (-want +got):\n%s", diff)
	}

	if got, _ := s.RecentMemories(ctx, 0, 5); len(got) != 0 {
		t.Errorf("RecentMemories(0) = %v", contents(got))
	}
	if got, _ := s.RecentMemories(ctx, 5, 0); got != nil {
		t.Errorf("RecentMemories(limit 0) = %v", got)
	}
}

func TestAppendMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, KVConfig{})
	defer s.Close()

	m := &MemoryRecord{
		Day:         4,
		TimeSlot:    9,
		Mode:        "dream",
		LocationID:  "Kitchen",
		Content:     "The stove is hot.",
		MemoryType:  MemoryFact,
		EmotionTags: []string{"wary"},
	}
	if err := s.AppendMemory(ctx, m); err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || !m.CreatedAt.Equal(testTime) || m.Importance != DefaultImportance || len(m.Embedding) != 256 {
		t.Fatalf("AppendMemory did not fill defaults: %+v", m)
	}

	got, err := s.RecentMemories(ctx, 4, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("RecentMemories = %v, %v", got, err)
	}
	if diff := cmp.Diff(*m, got[0]); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	clamp := &MemoryRecord{Content: "very important", Importance: 5}
	s.AppendMemory(ctx, clamp)
	if clamp.Importance != 1 {
		t.Errorf("Importance = %v, want clamped to 1", clamp.Importance)
	}

	if err := s.AppendMemory(ctx, &MemoryRecord{}); err == nil {
		t.Error("AppendMemory(empty) succeeded")
	}
}

func TestSimilarMemories(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, KVConfig{})
	defer s.Close()

	if got, err := s.SimilarMemories(ctx, "anything", 3); err != nil || got != nil {
		t.Fatalf("SimilarMemories on empty store = %v, %v", got, err)
	}
	for _, c := range []string{
		"The coffee smells burnt.",
		"The stove is hot.",
		"A giant eye is watching me from the sky.",
	} {
		if err := s.AppendMemory(ctx, &MemoryRecord{Day: 1, Content: c}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.SimilarMemories(ctx, "is the stove hot", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "The stove is hot." {
		t.Errorf("SimilarMemories = %v", contents(got))
	}
}

func TestUpsertSkillIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, KVConfig{})
	defer s.Close()

	first := &SkillRecord{TaskName: "Cook a burger", Description: "make food", StepsText: "1. Grab patty"}
	if err := s.UpsertSkill(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &SkillRecord{TaskName: "Cook a burger", Description: "make a burger", StepsText: "1. Grab patty\n2. Use stove"}
	if err := s.UpsertSkill(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.SimilarSkills(ctx, "How to Cook a burger", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("SimilarSkills returned %d skills, want 1", len(got))
	}
	want := SkillRecord{
		TaskName:     "Cook a burger",
		Description:  "make a burger",
		StepsText:    "1. Grab patty\n2. Use stove",
		UsageCount:   2,
		SuccessCount: 2,
		CreatedAt:    testTime,
		UpdatedAt:    testTime,
	}
	if diff := cmp.Diff(want, got[0], cmpopts.IgnoreFields(SkillRecord{}, "Embedding")); diff != "" {
		t.Errorf("skill (-want +got):\n%s", diff)
	}

	if _, err := s.Skill(ctx, "Fly"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Skill(missing) = %v, want ErrNotFound", err)
	}
	if err := s.UpsertSkill(ctx, &SkillRecord{}); err == nil {
		t.Error("UpsertSkill(empty) succeeded")
	}
}

func TestSkillNameWithSeparator(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, KVConfig{})
	defer s.Close()

	for _, name := range []string{"Step 1: open fridge", "Step 1", "a%3Ab"} {
		if err := s.UpsertSkill(ctx, &SkillRecord{TaskName: name, Description: name}); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"Step 1: open fridge", "Step 1", "a%3Ab"} {
		got, err := s.Skill(ctx, name)
		if err != nil || got.TaskName != name {
			t.Errorf("Skill(%q) = %+v, %v", name, got, err)
		}
	}
}

func TestConcurrentUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, KVConfig{})
	defer s.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sk := &SkillRecord{TaskName: "Wash dishes", Description: fmt.Sprintf("v%d", i)}
			if err := s.UpsertSkill(ctx, sk); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Skill(ctx, "Wash dishes")
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != n {
		t.Errorf("UsageCount = %d, want %d", got.UsageCount, n)
	}
	if len(s.skillLocks.locks) != 0 {
		t.Errorf("key locks leaked: %d", len(s.skillLocks.locks))
	}
}

type failingEmbedder struct{ embed.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestEmbedFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(nil)
	s := newTestStore(t, KVConfig{KV: store, Embedder: failingEmbedder{}})

	if err := s.AppendMemory(ctx, &MemoryRecord{Content: "x"}); err == nil {
		t.Fatal("AppendMemory succeeded")
	}
	if err := s.UpsertSkill(ctx, &SkillRecord{TaskName: "x"}); err == nil {
		t.Fatal("UpsertSkill succeeded")
	}
	for e := range store.List(ctx, nil) {
		t.Errorf("unexpected entry %s", e.Key)
	}
}

// flakyKV fails every Set once failSets is true.
type flakyKV struct {
	kv.Store
	failSets bool
}

func (f *flakyKV) Set(ctx context.Context, key kv.Key, value []byte) error {
	if f.failSets {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

// brittleIndex accepts a fixed number of inserts.
type brittleIndex struct {
	vecstore.Index
	inserts int
}

func (b *brittleIndex) Insert(id string, vector []float32) error {
	if b.inserts == 0 {
		return errors.New("index full")
	}
	b.inserts--
	return b.Index.Insert(id, vector)
}

func TestUpsertSkillLogsFailedRollback(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	store := &flakyKV{Store: kv.NewMemory(nil)}
	idx := 0
	s := newTestStore(t, KVConfig{
		KV:     store,
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
		NewIndex: func() vecstore.Index {
			idx++
			if idx == 2 {
				return &brittleIndex{Index: vecstore.NewFlat(vecstore.L2, 0), inserts: 2}
			}
			return vecstore.NewFlat(vecstore.L2, 0)
		},
	})

	if err := s.UpsertSkill(ctx, &SkillRecord{TaskName: "Cook a burger", StepsText: "1. grill"}); err != nil {
		t.Fatal(err)
	}
	store.failSets = true
	if err := s.UpsertSkill(ctx, &SkillRecord{TaskName: "Cook a burger", StepsText: "1. fry"}); err == nil {
		t.Fatal("UpsertSkill succeeded with a failing store")
	}
	if !strings.Contains(logs.String(), "skill index rollback failed") {
		t.Errorf("rollback failure not logged:\n%s", logs.String())
	}
}

func TestReopenFromSnapshot(t *testing.T) {
	ctx := context.Background()
	blobs, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// Memory.Close keeps the data, so the same instance can be reopened.
	store := kv.NewMemory(nil)
	hnsw := func() vecstore.Index { return vecstore.NewHNSW(vecstore.HNSWConfig{Seed: 1}) }

	s := newTestStore(t, KVConfig{KV: store, Blobs: blobs, NewIndex: hnsw})
	s.AppendMemory(ctx, &MemoryRecord{Day: 1, Content: "The fridge is empty."})
	s.UpsertSkill(ctx, &SkillRecord{TaskName: "Cook a burger", Description: "stove"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if ok, _ := blobs.Exists(ctx, SkillSnapshotName); !ok {
		t.Fatal("no skill snapshot after Close")
	}

	s = newTestStore(t, KVConfig{KV: store, Blobs: blobs, NewIndex: hnsw})
	if s.skills.Len() != 1 || s.memories.Len() != 1 {
		t.Fatalf("restored indexes: skills=%d memories=%d", s.skills.Len(), s.memories.Len())
	}

	// A memory written after the last snapshot makes it stale.
	s.AppendMemory(ctx, &MemoryRecord{Day: 2, Content: "The sink is leaking."})
	s2 := newTestStore(t, KVConfig{KV: store, Blobs: blobs})
	got, err := s2.SimilarMemories(ctx, "sink leaking", 1)
	if err != nil || len(got) != 1 || got[0].Content != "The sink is leaking." {
		t.Errorf("SimilarMemories after rebuild = %v, %v", contents(got), err)
	}
}

func TestOpenKVRequiresDeps(t *testing.T) {
	if _, err := OpenKV(context.Background(), KVConfig{}); err == nil {
		t.Error("OpenKV without deps succeeded")
	}
	_, err := OpenKV(context.Background(), KVConfig{
		KV:       kv.NewMemory(nil),
		Embedder: embed.NewHash(8),
		NewIndex: func() vecstore.Index { return vecstore.NewFlat(vecstore.Cosine, 0) },
	})
	if err == nil {
		t.Error("OpenKV with cosine index succeeded")
	}
}

func TestVectorLiteral(t *testing.T) {
	if got := vectorLiteral([]float32{1, -0.5, 0.25}); got != "[1,-0.5,0.25]" {
		t.Errorf("vectorLiteral = %s", got)
	}
	if got := vectorLiteral(nil); got != "[]" {
		t.Errorf("vectorLiteral(nil) = %s", got)
	}
}

// TestPGStore runs against a real database when PAPRIKA_TEST_POSTGRES_DSN
// points at one with pgvector installed.
func TestPGStore(t *testing.T) {
	dsn := os.Getenv("PAPRIKA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAPRIKA_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPG(ctx, PGConfig{DSN: dsn, Embedder: embed.NewHash(32)})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	task := "Cook a burger " + time.Now().Format(time.RFC3339Nano)
	if err := s.UpsertSkill(ctx, &SkillRecord{TaskName: task, Description: "a"}); err != nil {
		t.Fatal(err)
	}
	sk := &SkillRecord{TaskName: task, Description: "b"}
	if err := s.UpsertSkill(ctx, sk); err != nil {
		t.Fatal(err)
	}
	if sk.UsageCount != 2 || sk.Description != "b" {
		t.Errorf("upserted skill = %+v", sk)
	}
	if err := s.AppendMemory(ctx, &MemoryRecord{Day: 1, Content: "pg memory", EmotionTags: []string{"calm"}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.RecentMemories(ctx, 1, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("RecentMemories = %v, %v", got, err)
	}
	untagged := &MemoryRecord{Day: 2, Content: "Completed task: pg untagged", MemoryType: "task_success"}
	if err := s.AppendMemory(ctx, untagged); err != nil {
		t.Fatalf("append without tags: %v", err)
	}
	got, err = s.RecentMemories(ctx, 2, 1000)
	if err != nil {
		t.Fatal(err)
	}
	i := slices.IndexFunc(got, func(m MemoryRecord) bool { return m.ID == untagged.ID })
	if i < 0 {
		t.Fatalf("untagged memory %s not recalled", untagged.ID)
	}
	if len(got[i].EmotionTags) != 0 {
		t.Errorf("emotion tags = %q, want none", got[i].EmotionTags)
	}
}

func TestTagArrayNeverNull(t *testing.T) {
	for _, tags := range [][]string{nil, {}, {"calm", "wary"}} {
		v, err := tagArray(tags).(driver.Valuer).Value()
		if err != nil {
			t.Fatal(err)
		}
		if v == nil {
			t.Errorf("tagArray(%q) bound as NULL", tags)
		}
	}
	v, _ := tagArray(nil).(driver.Valuer).Value()
	if v != "{}" {
		t.Errorf("tagArray(nil) = %v, want {}", v)
	}
}
