// Package knowledge is the agent's long-term store of memories and skills.
//
// A memory is something the agent saw or did on a given in-game day. A
// skill is a reusable recipe learned from a completed task. Both carry an
// embedding so that the stages can look them up by similarity.
//
// Two backends implement [Store]. [KVStore] keeps records in a [kv.Store]
// and answers similarity queries from in-memory [vecstore.Index]es that
// can be snapshotted to blob storage. [PGStore] keeps everything in
// Postgres with the pgvector extension.
package knowledge

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a skill does not exist.
var ErrNotFound = errors.New("knowledge: not found")

// DefaultImportance applies to memories appended with zero importance.
const DefaultImportance = 0.5

// Memory types written by the agent.
const (
	MemoryObservation = "observation"
	MemoryTaskSuccess = "task_success"
	MemoryFact        = "fact"
)

// MemoryRecord is one remembered event.
type MemoryRecord struct {
	ID         string `json:"id" msgpack:"id"`
	Day        int    `json:"day" msgpack:"day"`
	TimeSlot   int    `json:"time_slot" msgpack:"slot"`
	Mode       string `json:"mode,omitempty" msgpack:"mode,omitempty"`
	LocationID string `json:"location_id,omitempty" msgpack:"loc,omitempty"`
	Content    string `json:"content" msgpack:"content"`
	MemoryType string `json:"memory_type,omitempty" msgpack:"type,omitempty"`

	EmotionTags []string `json:"emotion_tags,omitempty" msgpack:"tags,omitempty"`

	// Importance is in [0, 1].
	Importance float64 `json:"importance" msgpack:"imp"`

	Embedding []float32 `json:"-" msgpack:"emb,omitempty"`
	CreatedAt time.Time `json:"created_at" msgpack:"at"`
}

// SkillRecord is a learned recipe, keyed by its task name.
type SkillRecord struct {
	TaskName    string `json:"task_name" msgpack:"task"`
	Description string `json:"description" msgpack:"desc"`
	StepsText   string `json:"steps_text" msgpack:"steps"`
	Code        string `json:"code,omitempty" msgpack:"code,omitempty"`

	Embedding []float32 `json:"-" msgpack:"emb,omitempty"`

	// UsageCount and SuccessCount grow each time the skill is learned
	// again from a successful run.
	UsageCount   int `json:"usage_count" msgpack:"used"`
	SuccessCount int `json:"success_count" msgpack:"ok"`

	CreatedAt time.Time `json:"created_at" msgpack:"at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"upd"`
}

// EmbeddingText is the text a skill is indexed under.
func (s *SkillRecord) EmbeddingText() string {
	return s.TaskName + ": " + s.Description
}

// Store persists memories and skills. Implementations are safe for
// concurrent use.
type Store interface {
	// AppendMemory embeds m.Content and stores m. It fills in ID,
	// CreatedAt and a default Importance when they are zero.
	AppendMemory(ctx context.Context, m *MemoryRecord) error

	// RecentMemories returns up to limit memories with Day <= asOfDay,
	// newest first by (Day, TimeSlot).
	RecentMemories(ctx context.Context, asOfDay, limit int) ([]MemoryRecord, error)

	// SimilarMemories returns up to limit memories nearest to query by
	// L2 distance between embeddings.
	SimilarMemories(ctx context.Context, query string, limit int) ([]MemoryRecord, error)

	// SimilarSkills returns up to limit skills nearest to query.
	SimilarSkills(ctx context.Context, query string, limit int) ([]SkillRecord, error)

	// UpsertSkill inserts s or updates the skill with the same task name.
	UpsertSkill(ctx context.Context, s *SkillRecord) error

	// Skill returns the skill stored under taskName or ErrNotFound.
	Skill(ctx context.Context, taskName string) (*SkillRecord, error)

	Close() error
}

func normalizeMemory(m *MemoryRecord, now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	switch {
	case m.Importance == 0:
		m.Importance = DefaultImportance
	case m.Importance < 0:
		m.Importance = 0
	case m.Importance > 1:
		m.Importance = 1
	}
}
