package models

// Document is one retrieved evidence unit: passage text plus where it came from.
type Document struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	FileName   string            `json:"file_name"`
	FilePath   string            `json:"file_path"`
	PageNumber int               `json:"page_number"`
	Score      float64           `json:"score,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Citation is the user-facing projection of a Document.
type Citation struct {
	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path"`
	PageNumber  int    `json:"page_number"`
	PageContent string `json:"page_content"`
}

// Passage is a pre-chunked unit of text stored for retrieval.
type Passage struct {
	ID         string            `json:"id,omitempty"`
	Content    string            `json:"content"`
	FileName   string            `json:"file_name"`
	FilePath   string            `json:"file_path"`
	PageNumber int               `json:"page_number"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ToDocument converts a stored passage into a retrieved document with the given score.
func (p *Passage) ToDocument(score float64) *Document {
	return &Document{
		ID:         p.ID,
		Content:    p.Content,
		FileName:   p.FileName,
		FilePath:   p.FilePath,
		PageNumber: p.PageNumber,
		Score:      score,
		Metadata:   p.Metadata,
	}
}
