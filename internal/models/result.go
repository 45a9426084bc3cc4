package models

// SearchResult is one ranked retrieval hit. Similarity is 1/(1+distance).
type SearchResult struct {
	OwnerID     string   `json:"owner_id"`
	DocumentID  string   `json:"document_id"`
	Modality    Modality `json:"type"`
	Similarity  float64  `json:"similarity"`
	Distance    float64  `json:"distance"`
	Source      string   `json:"source"`
	Page        int      `json:"page,omitempty"`
	Content     string   `json:"content,omitempty"`
	PreviewPath string   `json:"-"`
	PreviewURL  string   `json:"preview_url,omitempty"`
	Slot        int      `json:"slot"`
}

// QueryResponse is the response for a query request.
type QueryResponse struct {
	Query        string          `json:"query"`
	Answer       string          `json:"answer,omitempty"`
	AnswerError  string          `json:"answer_error,omitempty"`
	Winner       *SearchResult   `json:"winner,omitempty"`
	Results      []*SearchResult `json:"results"`
	TotalResults int             `json:"total_results"`
	QueryTime    int64           `json:"query_time_ms"`
}

// BatchQueryResponse holds one response per query, in request order.
type BatchQueryResponse struct {
	Responses []*QueryResponse `json:"responses"`
	QueryTime int64            `json:"query_time_ms"`
}

// IngestResult summarizes one ingested document.
type IngestResult struct {
	DocumentID        string `json:"document_id"`
	Filename          string `json:"filename"`
	Pages             int    `json:"pages"`
	TextRecords       int    `json:"text_records"`
	ImageRecords      int    `json:"image_records"`
	EmbeddingsCreated int    `json:"embeddings_created"`
	SkippedItems      int    `json:"skipped_items"`
	// Unchanged is set when a file on disk was already ingested at this revision.
	Unchanged bool `json:"unchanged,omitempty"`
}
