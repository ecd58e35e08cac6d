package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/seanblong/docchat/internal/ai"
)

// ErrClassification wraps a generation failure raised while classifying.
var ErrClassification = errors.New("classification failure")

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentFactual       Intent = "FACTUAL_QUESTION"
	IntentSummarization Intent = "SUMMARIZATION"
	IntentComparison    Intent = "COMPARISON"
	IntentGeneralChat   Intent = "GENERAL_CHAT"
	IntentClarification Intent = "CLARIFICATION"
	// IntentUnrecognized means the model answered with none of the labels.
	IntentUnrecognized Intent = ""
)

// matched in this order; the breadth-changing labels win when a reply
// mentions several
var intentOrder = []Intent{
	IntentSummarization,
	IntentComparison,
	IntentFactual,
	IntentGeneralChat,
	IntentClarification,
}

// ParseIntent looks for a known label anywhere in raw. Matching is case
// sensitive since the prompt asks for the upper-case name.
func ParseIntent(raw string) Intent {
	for _, in := range intentOrder {
		if strings.Contains(raw, string(in)) {
			return in
		}
	}
	return IntentUnrecognized
}

// Classification is a classifier verdict. Label is what gets reported to
// the user and the model: the canonical name, or the raw reply when it
// matched nothing.
type Classification struct {
	Intent Intent
	Label  string
}

const intentPrompt = `Analyze this user query and determine its intent:
Query: "%s"

Classify the intent as one of:
1. FACTUAL_QUESTION - User wants specific information from documents
2. SUMMARIZATION - User wants a summary of document content
3. COMPARISON - User wants to compare information across documents
4. GENERAL_CHAT - User is having a general conversation
5. CLARIFICATION - User is asking for clarification on previous answer

Respond with just the category name.`

// Classifier asks the generation model for a query's intent.
type Classifier struct {
	gen ai.Generator
}

func NewClassifier(gen ai.Generator) *Classifier {
	return &Classifier{gen: gen}
}

func (c *Classifier) Classify(ctx context.Context, query string) (Classification, error) {
	out, err := c.gen.Generate(ctx, fmt.Sprintf(intentPrompt, query))
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %w", ErrClassification, err)
	}
	raw := strings.TrimSpace(out)
	in := ParseIntent(raw)
	label := string(in)
	if in == IntentUnrecognized {
		label = raw
	}
	return Classification{Intent: in, Label: label}, nil
}
