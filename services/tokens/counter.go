// Package tokens estimates token counts for prompts and completions when a
// provider does not report usage, and for budget pre-checks.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used for models tiktoken does not know
const DefaultEncoding = "cl100k_base"

// charsPerToken is the heuristic ratio used when no encoding can be loaded
const charsPerToken = 4

// Counter counts tokens of text as seen by a model
type Counter interface {
	Count(model, text string) int
}

// TiktokenCounter counts tokens with tiktoken encodings. Encodings are
// loaded lazily once per encoding name; the BPE files are fetched on first
// use (cached under TIKTOKEN_CACHE_DIR when set). If an encoding cannot be
// loaded the counter falls back to a characters/4 estimate.
type TiktokenCounter struct {
	logger *zap.Logger

	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool

	// loadEncoding is swapped in tests
	loadEncoding func(name string) (*tiktoken.Tiktoken, error)
}

// NewTiktokenCounter creates a counter
func NewTiktokenCounter(logger *zap.Logger) *TiktokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{
		logger:       logger,
		encodings:    make(map[string]*tiktoken.Tiktoken),
		failed:       make(map[string]bool),
		loadEncoding: tiktoken.GetEncoding,
	}
}

// Count returns the number of tokens of text for model
func (c *TiktokenCounter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := c.encoding(encodingFor(model))
	if enc == nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) encoding(name string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[name]; ok {
		return enc
	}
	if c.failed[name] {
		return nil
	}

	enc, err := c.loadEncoding(name)
	if err != nil {
		c.logger.Warn("failed to load tiktoken encoding, using estimate",
			zap.String("encoding", name),
			zap.Error(err),
		)
		c.failed[name] = true
		return nil
	}
	c.encodings[name] = enc
	return enc
}

func encodingFor(model string) string {
	if name, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return name
	}
	for prefix, name := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) {
			return name
		}
	}
	return DefaultEncoding
}

// Estimate approximates a token count as one token per four characters,
// rounded up
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateCounter is a Counter that only uses Estimate
type EstimateCounter struct{}

// Count implements Counter
func (EstimateCounter) Count(_ string, text string) int {
	return Estimate(text)
}
