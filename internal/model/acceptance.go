package model

import "time"

// AcceptanceRecord (C5) is a durable, append-only record of one accepted
// piece of evidence, written after a sufficient CRAG decision. Never
// updated once written.
type AcceptanceRecord struct {
	ID               string    `json:"id"`
	ResearchQuery    string    `json:"researchQuery"`
	QueryHash        string    `json:"queryHash"`
	QueryEmbedding   []float32 `json:"queryEmbedding"`
	PMID             string    `json:"pmid"`
	StudyType        string    `json:"studyType,omitempty"`
	PublicationYear  int       `json:"publicationYear,omitempty"`
	RelevanceScore   float64   `json:"relevanceScore"`
	MethodologyScore float64   `json:"methodologyScore"`
	QualityScore     float64   `json:"qualityScore"`
	Iteration        int       `json:"iteration"`
	AcceptedAt       time.Time `json:"acceptedAt"`
}
