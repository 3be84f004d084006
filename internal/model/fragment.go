package model

// Fragment is a contiguous piece of a source document. It is immutable once
// produced by the chunker.
type Fragment struct {
	SourceID   string `json:"source_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// Entry pairs a fragment with its embedding vector.
type Entry struct {
	Fragment Fragment
	Vector   []float32
}

type Hit struct {
	Fragment Fragment
	Score    float64
}

// RetrievalResult holds the full candidate list and the subset whose score
// reaches the relevance threshold. Both are ordered by descending score.
type RetrievalResult struct {
	Candidates []Hit
	Relevant   []Hit
}

type Query struct {
	Text      string
	TopK      int
	Threshold *float64
}

type Citation struct {
	SourceID   string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"text"`
	FilePath   string  `json:"file_path"`
	Score      float64 `json:"score"`
}

type Answer struct {
	Text     string     `json:"answer"`
	Grounded bool       `json:"grounded"`
	Sources  []Citation `json:"sources"`
}
