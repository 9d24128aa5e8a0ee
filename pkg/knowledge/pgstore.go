package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/paprika-agent/paprika/pkg/embed"
)

// PGConfig configures OpenPG.
type PGConfig struct {
	// DSN is a lib/pq connection string. Ignored when DB is set.
	DSN string
	DB  *sql.DB

	// Embedder is required. Its Dimension sizes the vector columns
	// created by Migrate; zero leaves them unsized.
	Embedder embed.Embedder

	Logger *slog.Logger
	Now    func() time.Time
}

// PGStore is a Store in Postgres with the pgvector extension.
type PGStore struct {
	db       *sql.DB
	embedder embed.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

var _ Store = (*PGStore)(nil)

// OpenPG connects to Postgres. Call Migrate before first use of a new
// database.
func OpenPG(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("knowledge: Embedder is required")
	}
	db := cfg.DB
	if db == nil {
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("knowledge: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("knowledge: ping postgres: %w", err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PGStore{db: db, embedder: cfg.Embedder, logger: cfg.Logger, now: cfg.Now}, nil
}

// Migrate creates the extension, tables and indexes if missing.
func (s *PGStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations(s.embedder.Dimension()) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("knowledge: migrate: %w", err)
		}
	}
	return nil
}

func migrations(dim int) []string {
	vec := "vector"
	if dim > 0 {
		vec = fmt.Sprintf("vector(%d)", dim)
	}
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			in_game_day INTEGER NOT NULL,
			time_slot INTEGER NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			location_id TEXT NOT NULL DEFAULT '',
			memory_type TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			emotion_tags TEXT[] NOT NULL DEFAULT '{}',
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			embedding ` + vec + `,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS memories_day_slot ON memories (in_game_day DESC, time_slot DESC)`,
		`CREATE TABLE IF NOT EXISTS skills (
			task_name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			steps_text TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			embedding ` + vec + `,
			usage_count INTEGER NOT NULL DEFAULT 1,
			success_count INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

// vectorLiteral formats v in pgvector's text form.
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func (s *PGStore) AppendMemory(ctx context.Context, m *MemoryRecord) error {
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, in_game_day, time_slot, mode, location_id, memory_type,
			content, emotion_tags, importance, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector, $11)`,
		m.ID, m.Day, m.TimeSlot, m.Mode, m.LocationID, m.MemoryType,
		m.Content, tagArray(m.EmotionTags), m.Importance, vectorLiteral(vec), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("knowledge: insert memory: %w", err)
	}
	return nil
}

// tagArray binds nil tags as an empty array; pq encodes a nil slice as NULL.
func tagArray(tags []string) any {
	if tags == nil {
		tags = []string{}
	}
	return pq.Array(tags)
}

const memoryColumns = `id, in_game_day, time_slot, mode, location_id, memory_type,
	content, emotion_tags, importance, created_at`

func (s *PGStore) RecentMemories(ctx context.Context, asOfDay, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE in_game_day <= $1
		ORDER BY in_game_day DESC, time_slot DESC
		LIMIT $2`, asOfDay, limit)
}

func (s *PGStore) SimilarMemories(ctx context.Context, query string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	return s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories
		ORDER BY embedding <-> $1::vector
		LIMIT $2`, vectorLiteral(vec), limit)
}

func (s *PGStore) queryMemories(ctx context.Context, q string, args ...any) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query memories: %w", err)
	}
	defer rows.Close()
	var out []MemoryRecord
	for rows.Next() {
		var m MemoryRecord
		err := rows.Scan(&m.ID, &m.Day, &m.TimeSlot, &m.Mode, &m.LocationID, &m.MemoryType,
			&m.Content, pq.Array(&m.EmotionTags), &m.Importance, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("knowledge: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const skillColumns = `task_name, description, steps_text, code, usage_count, success_count, created_at, updated_at`

func scanSkill(sc interface{ Scan(...any) error }) (SkillRecord, error) {
	var sk SkillRecord
	err := sc.Scan(&sk.TaskName, &sk.Description, &sk.StepsText, &sk.Code,
		&sk.UsageCount, &sk.SuccessCount, &sk.CreatedAt, &sk.UpdatedAt)
	return sk, err
}

func (s *PGStore) SimilarSkills(ctx context.Context, query string, limit int) ([]SkillRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+skillColumns+` FROM skills
		ORDER BY embedding <-> $1::vector
		LIMIT $2`, vectorLiteral(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query skills: %w", err)
	}
	defer rows.Close()
	var out []SkillRecord
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("knowledge: scan skill: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// UpsertSkill relies on the primary key for atomicity; concurrent
// writers of one task name resolve to the last committed row.
func (s *PGStore) UpsertSkill(ctx context.Context, sk *SkillRecord) error {
	if sk.TaskName == "" {
		return errors.New("knowledge: empty task name")
	}
	vec, err := s.embedder.Embed(ctx, sk.EmbeddingText())
	if err != nil {
		return fmt.Errorf("knowledge: embed skill: %w", err)
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO skills (task_name, description, steps_text, code, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::vector, $6, $6)
		ON CONFLICT (task_name) DO UPDATE SET
			description = EXCLUDED.description,
			steps_text = EXCLUDED.steps_text,
			code = COALESCE(NULLIF(EXCLUDED.code, ''), skills.code),
			embedding = EXCLUDED.embedding,
			usage_count = skills.usage_count + 1,
			success_count = skills.success_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING `+skillColumns,
		sk.TaskName, sk.Description, sk.StepsText, sk.Code, vectorLiteral(vec), now)
	rec, err := scanSkill(row)
	if err != nil {
		return fmt.Errorf("knowledge: upsert skill: %w", err)
	}
	rec.Embedding = vec
	*sk = rec
	return nil
}

func (s *PGStore) Skill(ctx context.Context, taskName string) (*SkillRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE task_name = $1`, taskName)
	sk, err := scanSkill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: get skill: %w", err)
	}
	return &sk, nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}
