package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	// Acceptance memory (C5)
	DatabaseURL      string
	DatabaseMaxConns int

	// Session store (C4)
	RedisURL   string
	SessionTTL int // seconds

	// LLM / embedding (C1, C3)
	GCPProject          string
	GCPRegion           string
	VertexAILocation    string
	VertexAIModel       string
	EmbeddingLocation   string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingCacheTTL   int // seconds

	// PubMed (C2)
	PubMedBaseURL string
	PubMedAPIKey  string
	PubMedTool    string
	PubMedEmail   string

	// CRAG thresholds (§4.4)
	MinRelevanceToKeep         float64
	MinMethodologyToKeep       float64
	MinAvgQualityForSufficient float64
	MinConfidenceFloor         float64
	ConfidenceDecayRate        float64
	MaxDiscardRatio            float64
	MaxMemoryBoost             float64
	DecayLambda                float64
	MaxCRAGIterations          int
	CriticInterCallDelayMillis int
	CriticMinAcceptanceQuality float64
	MemorySimilarityFloor      float64

	FrontendURL string
}

// Load reads configuration from environment variables. DATABASE_URL and
// GOOGLE_CLOUD_PROJECT are required; everything else is defaulted.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		RedisURL:   envStr("REDIS_URL", ""),
		SessionTTL: envInt("SESSION_TTL_SECONDS", 3600),

		GCPProject:          gcpProject,
		GCPRegion:           envStr("GCP_REGION", "us-east4"),
		VertexAILocation:    envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:       envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
		EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1536),
		EmbeddingCacheTTL:   envInt("EMBEDDING_CACHE_TTL_SECONDS", 900),

		PubMedBaseURL: envStr("PUBMED_BASE_URL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"),
		PubMedAPIKey:  envStr("PUBMED_API_KEY", ""),
		PubMedTool:    envStr("PUBMED_TOOL", "aesop"),
		PubMedEmail:   envStr("PUBMED_EMAIL", ""),

		MinRelevanceToKeep:         envFloat("MIN_RELEVANCE_TO_KEEP", 0.45),
		MinMethodologyToKeep:       envFloat("MIN_METHODOLOGY_TO_KEEP", 0.50),
		MinAvgQualityForSufficient: envFloat("MIN_AVG_QUALITY_FOR_SUFFICIENT", 0.60),
		MinConfidenceFloor:         envFloat("MIN_CONFIDENCE_FLOOR", 0.45),
		ConfidenceDecayRate:        envFloat("CONFIDENCE_DECAY_RATE", 0.07),
		MaxDiscardRatio:            envFloat("MAX_DISCARD_RATIO", 0.55),
		MaxMemoryBoost:             envFloat("MAX_MEMORY_BOOST", 0.15),
		DecayLambda:                envFloat("DECAY_LAMBDA", 0.01),
		MaxCRAGIterations:          envInt("MAX_CRAG_ITERATIONS", 3),
		CriticInterCallDelayMillis: envInt("CRITIC_INTER_CALL_DELAY_MS", 500),
		CriticMinAcceptanceQuality: envFloat("CRITIC_MIN_ACCEPTANCE_QUALITY", 0.60),
		MemorySimilarityFloor:      envFloat("MEMORY_SIMILARITY_FLOOR", 0.75),

		FrontendURL: envStr("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
