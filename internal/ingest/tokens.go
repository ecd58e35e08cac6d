package ingest

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Tokenizer counts cl100k_base tokens.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex
}

var (
	tokenizer     *Tokenizer
	tokenizerOnce sync.Once
	tokenizerErr  error
)

// DefaultTokenizer loads the encoding once per process.
func DefaultTokenizer() (*Tokenizer, error) {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tokenizerErr = err
			return
		}
		tokenizer = &Tokenizer{enc: enc}
	})
	return tokenizer, tokenizerErr
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}
