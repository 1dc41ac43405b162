package tokens

import (
	"fmt"
	"math"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the estimate used when no codec is available
const charsPerToken = 4.0

// Counter counts tokens with the cl100k_base encoding. It is safe for
// concurrent use.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter loads the encoding. A nil codec falls back to estimation, so
// the error is informational.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return &Counter{}, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in text
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return Estimate(text)
	}

	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return Estimate(text)
	}
	return len(ids)
}

// Estimate approximates the token count from the character length
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}
