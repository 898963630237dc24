package models

import "time"

// SaleClassification marks a conversation as a wholesale sale.
type SaleClassification struct {
	CustomerID string    `json:"customer_id"`
	ThreadID   string    `json:"thread_id"`
	IsSale     bool      `json:"is_sale"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// KnowledgeSource is one ingested free-text document of a tenant. Its chunks
// live in the vector store.
type KnowledgeSource struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"customer_id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
