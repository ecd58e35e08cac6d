package rag

import (
	"fmt"
	"strings"

	"github.com/seanblong/docchat/pkg/models"
)

// NoContext is the context text used when retrieval found nothing.
const NoContext = "No relevant context found in the documents."

// BuildContext renders hits, in their given order, as labelled blocks
// separated by a blank line.
func BuildContext(hits []models.SearchHit) string {
	if len(hits) == 0 {
		return NoContext
	}
	parts := make([]string, len(hits))
	for i, h := range hits {
		name := h.Chunk.DocumentName
		if name == "" {
			name = "Unknown"
		}
		parts[i] = fmt.Sprintf("[Document %d - %s]\n%s\n", i+1, name, h.Chunk.Text)
	}
	return strings.Join(parts, "\n")
}
