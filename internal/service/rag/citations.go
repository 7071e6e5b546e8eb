package rag

import "agentrag/internal/models"

// BuildCitations projects evidence into citations in first-seen order. With
// dedup, documents sharing a (file_path, page_number) collapse into the first one.
// It returns nil when there is no evidence.
func BuildCitations(docs []*models.Document, dedup bool) []*models.Citation {
	if len(docs) == 0 {
		return nil
	}
	type pageKey struct {
		path string
		page int
	}
	var seen map[pageKey]struct{}
	if dedup {
		seen = make(map[pageKey]struct{}, len(docs))
	}
	citations := make([]*models.Citation, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		if dedup {
			k := pageKey{path: d.FilePath, page: d.PageNumber}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
		}
		citations = append(citations, &models.Citation{
			FileName:    d.FileName,
			FilePath:    d.FilePath,
			PageNumber:  d.PageNumber,
			PageContent: d.Content,
		})
	}
	if len(citations) == 0 {
		return nil
	}
	return citations
}
