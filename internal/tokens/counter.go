// Package tokens provides model-token counting for budget enforcement.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter counts model tokens in a text.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter implements Counter using the tiktoken-go library.
type TiktokenCounter struct {
	encodingName string
	tke          *tiktoken.Tiktoken
	mu           sync.RWMutex
}

// NewTiktokenCounter creates a counter for the given encoding, falling back
// to cl100k_base when the requested one is unknown.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}

	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		tke, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, err
		}
		encoding = defaultEncoding
	}

	return &TiktokenCounter{encodingName: encoding, tke: tke}, nil
}

// Count returns the number of tokens in text. A nil encoder degrades to the
// whitespace-word approximation rather than failing budget enforcement.
func (c *TiktokenCounter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.tke == nil {
		return ApproximateCount(text)
	}
	return len(c.tke.Encode(text, nil, nil))
}

// Encoding returns the name of the encoding in use.
func (c *TiktokenCounter) Encoding() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encodingName
}

// WordCounter approximates token counts by whitespace-separated words.
// Useful in tests and as a degraded mode when no encoding is available.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return ApproximateCount(text)
}

// ApproximateCount is a cheap token estimate: whitespace words.
func ApproximateCount(text string) int {
	return len(strings.Fields(text))
}
