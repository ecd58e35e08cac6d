package rag

import (
	"strings"

	"github.com/seanblong/docchat/pkg/models"
)

const instructions = `**INSTRUCTIONS:**
1. Answer the question based primarily on the provided context from the documents.
2. If the context contains relevant information, use it to formulate your answer.
3. If the context doesn't fully answer the question, acknowledge what information is available and what is missing.
4. Be concise but thorough in your explanations.
5. If you're citing specific information, you can reference which document it came from.
6. Maintain conversation continuity by considering the chat history.
7. If the question is not related to the documents, politely redirect to document-related queries.`

// BuildPrompt composes the generation prompt. history is rendered as given,
// so callers pass the window they want. A non-empty intent appends the
// style note used in adaptive mode.
func BuildPrompt(query, context string, history []models.Turn, intent string) string {
	var b strings.Builder
	b.WriteString("You are an intelligent AI assistant specialized in answering questions based on PDF documents.\n")
	b.WriteString("Your task is to provide accurate, helpful, and contextual answers based on the information provided.\n\n")

	b.WriteString("**CONTEXT FROM DOCUMENTS:**\n")
	b.WriteString(context)
	b.WriteString("\n\n**CONVERSATION HISTORY:**\n")
	for _, t := range history {
		b.WriteString(strings.ToUpper(string(t.Role)))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n**USER QUESTION:**\n")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(instructions)
	b.WriteString("\n\n**ANSWER:**")

	if intent != "" {
		b.WriteString("\n\n**DETECTED INTENT:** ")
		b.WriteString(intent)
		b.WriteString("\nAdjust your response style accordingly.")
	}
	return b.String()
}
