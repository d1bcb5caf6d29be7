package handler

import (
	"log/slog"
	"sync"
	"unicode"

	"github.com/hpn/gandalf-router/internal/adapter"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is the tiktoken encoding used for usage estimates.
	DefaultEncoding = "cl100k_base"

	// TokensPerWord is the approximation ratio when no encoder is available.
	TokensPerWord = 1.3

	// messageOverhead approximates the role and framing tokens of one message.
	messageOverhead = 4
)

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter approximates tokens from the word count.
type WordCounter struct{}

// Count implements TokenCounter.
func (WordCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	wordCount := 0
	inWord := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if !inWord {
				wordCount++
				inWord = true
			}
		} else {
			inWord = false
		}
	}

	tokens := int(float64(wordCount) * TokensPerWord)
	if tokens == 0 && wordCount > 0 {
		tokens = 1
	}
	return tokens
}

// TiktokenCounter counts with a tiktoken encoding. The encoding is loaded on
// first use; if it cannot be loaded the word approximation is used instead.
type TiktokenCounter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
	mu   sync.Mutex
}

// NewTiktokenCounter creates a TiktokenCounter for encoding.
func NewTiktokenCounter(encoding string, logger *slog.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, using word estimate",
				slog.String("encoding", c.encoding),
				slog.String("error", err.Error()),
			)
			return
		}
		c.enc = enc
	})

	if c.enc == nil {
		return WordCounter{}.Count(text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateUsage estimates token usage of a request/response pair.
func EstimateUsage(counter TokenCounter, req adapter.OpenAIRequest, resp adapter.OpenAIResponse) adapter.OpenAIUsage {
	var usage adapter.OpenAIUsage
	for _, msg := range req.Messages {
		usage.PromptTokens += counter.Count(msg.Role) + counter.Count(msg.Content) + messageOverhead
	}
	for _, choice := range resp.Choices {
		usage.CompletionTokens += counter.Count(choice.Message.Content)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}

// fillUsage replaces a missing usage block with an estimate. It reports
// whether the usage was estimated.
func fillUsage(counter TokenCounter, req adapter.OpenAIRequest, resp *adapter.OpenAIResponse) bool {
	if counter == nil || resp.Usage.TotalTokens > 0 {
		return false
	}
	resp.Usage = EstimateUsage(counter, req, *resp)
	return true
}
