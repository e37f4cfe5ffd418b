package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aesop-rag/aesop/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DefaultMemorySimilarityFloor is the cosine-similarity threshold below
// which a neighbor is not considered a match for acceptance-memory bias
// (§4.4.5), used when no floor is supplied to NewAcceptanceMemory.
const DefaultMemorySimilarityFloor = 0.75

// MemoryTopK bounds the number of similarity-search neighbors considered.
const MemoryTopK = 10

// AcceptanceMemory persists and queries the critic_acceptance_memory table
// (C5). Every method is read-mostly and non-transactional: a failed insert
// is reported to the caller, who is expected to log and continue rather
// than abort the synthesis that already succeeded.
type AcceptanceMemory struct {
	pool            *pgxpool.Pool
	similarityFloor float64
}

// NewAcceptanceMemory wraps a pgxpool.Pool. similarityFloor <= 0 falls back
// to DefaultMemorySimilarityFloor; callers wire cfg.MemorySimilarityFloor
// here so MEMORY_SIMILARITY_FLOOR actually takes effect.
func NewAcceptanceMemory(pool *pgxpool.Pool, similarityFloor float64) *AcceptanceMemory {
	if similarityFloor <= 0 {
		similarityFloor = DefaultMemorySimilarityFloor
	}
	return &AcceptanceMemory{pool: pool, similarityFloor: similarityFloor}
}

// QueryHash returns the deterministic hash used as the table's generated
// query_hash column: md5 of the lowercased, trimmed query text.
func QueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Insert writes one accepted record. Only called for KEEP papers with
// quality_score >= 0.60 (§4.4.6); the caller enforces that threshold.
func (m *AcceptanceMemory) Insert(ctx context.Context, r model.AcceptanceRecord) error {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := m.pool.Exec(ctx, `
		INSERT INTO critic_acceptance_memory
			(id, research_query, query_embedding, pmid, study_type, publication_year,
			 relevance_score, methodology_score, quality_score, iteration, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		id, r.ResearchQuery, pgvector.NewVector(r.QueryEmbedding), r.PMID, r.StudyType, r.PublicationYear,
		r.RelevanceScore, r.MethodologyScore, r.QualityScore, r.Iteration, acceptedAtOrNow(r.AcceptedAt),
	)
	if err != nil {
		return fmt.Errorf("repository.Insert: %w", err)
	}
	return nil
}

func acceptedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// memoryRow is the shared projection for exact-hash and similarity lookups.
type memoryRow struct {
	PMID             string
	StudyType        string
	PublicationYear  int
	RelevanceScore   float64
	MethodologyScore float64
	QualityScore     float64
	Iteration        int
	AcceptedAt       time.Time
	Similarity       float64
}

// FindByHash returns every record whose query_hash matches the given query
// text exactly (lowercased, trimmed). Used as the fast path before falling
// back to vector similarity (§4.4.5).
func (m *AcceptanceMemory) FindByHash(ctx context.Context, query string) ([]model.AcceptanceRecord, error) {
	hash := QueryHash(query)

	rows, err := m.pool.Query(ctx, `
		SELECT id, research_query, query_hash, pmid, study_type, publication_year,
		       relevance_score, methodology_score, quality_score, iteration, accepted_at
		FROM critic_acceptance_memory
		WHERE query_hash = $1
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("repository.FindByHash: %w", err)
	}
	defer rows.Close()

	var records []model.AcceptanceRecord
	for rows.Next() {
		var r model.AcceptanceRecord
		if err := rows.Scan(&r.ID, &r.ResearchQuery, &r.QueryHash, &r.PMID, &r.StudyType,
			&r.PublicationYear, &r.RelevanceScore, &r.MethodologyScore, &r.QualityScore,
			&r.Iteration, &r.AcceptedAt); err != nil {
			return nil, fmt.Errorf("repository.FindByHash: scan: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FindByHash: %w", err)
	}
	return records, nil
}

// SimilarityMatch is one neighbor returned by FindBySimilarity, carrying the
// cosine similarity used to weight its contribution to the memory bias.
type SimilarityMatch struct {
	Record     model.AcceptanceRecord
	Similarity float64
}

// FindBySimilarity returns up to MemoryTopK records whose query_embedding is
// within the configured similarity floor of queryEmbedding, ordered by
// similarity descending. Cosine distance is computed with pgvector's <=>
// operator; similarity = 1 - distance.
func (m *AcceptanceMemory) FindBySimilarity(ctx context.Context, queryEmbedding []float32) ([]SimilarityMatch, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, research_query, query_hash, pmid, study_type, publication_year,
		       relevance_score, methodology_score, quality_score, iteration, accepted_at,
		       1 - (query_embedding <=> $1) AS similarity
		FROM critic_acceptance_memory
		ORDER BY query_embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(queryEmbedding), MemoryTopK)
	if err != nil {
		return nil, fmt.Errorf("repository.FindBySimilarity: %w", err)
	}
	defer rows.Close()

	var matches []SimilarityMatch
	for rows.Next() {
		var r model.AcceptanceRecord
		var sim float64
		if err := rows.Scan(&r.ID, &r.ResearchQuery, &r.QueryHash, &r.PMID, &r.StudyType,
			&r.PublicationYear, &r.RelevanceScore, &r.MethodologyScore, &r.QualityScore,
			&r.Iteration, &r.AcceptedAt, &sim); err != nil {
			return nil, fmt.Errorf("repository.FindBySimilarity: scan: %w", err)
		}
		if sim < m.similarityFloor {
			continue
		}
		matches = append(matches, SimilarityMatch{Record: r, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FindBySimilarity: %w", err)
	}
	return matches, nil
}
