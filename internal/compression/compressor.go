// Package compression produces compact "semantic units": short extractive
// summaries of conversation turns used for searchable text and as the
// offline substitute for LLM summarization.
package compression

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Compressor reduces one piece of conversational text to a semantic unit.
type Compressor interface {
	Compress(ctx context.Context, content string) (string, error)
}

// Config tunes the extractive compressor.
type Config struct {
	// MaxUnitLength caps the semantic unit in characters.
	MaxUnitLength int

	// MinSentenceLength drops fragments below this many characters during
	// sentence splitting.
	MinSentenceLength int
}

// DefaultConfig returns the tuning used by the ingestion path.
func DefaultConfig() Config {
	return Config{
		MaxUnitLength:     240,
		MinSentenceLength: 10,
	}
}

// Extractive scores sentences by position, length, and inverse word
// frequency, then keeps the best ones in original order. No model calls.
type Extractive struct {
	config Config
}

// NewExtractive creates an extractive compressor.
func NewExtractive(config Config) *Extractive {
	if config.MaxUnitLength <= 0 {
		config.MaxUnitLength = DefaultConfig().MaxUnitLength
	}
	if config.MinSentenceLength <= 0 {
		config.MinSentenceLength = DefaultConfig().MinSentenceLength
	}
	return &Extractive{config: config}
}

// Compress returns a semantic unit for the content. Short content passes
// through trimmed; empty content yields an empty unit.
func (e *Extractive) Compress(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil
	}
	if len(content) <= e.config.MaxUnitLength {
		return content, nil
	}

	sentences := e.splitSentences(content)
	if len(sentences) == 0 {
		return truncate(content, e.config.MaxUnitLength), nil
	}

	scores := e.scoreSentences(sentences)
	selected := e.selectSentences(sentences, scores, e.config.MaxUnitLength)
	return strings.Join(selected, " "), nil
}

func (e *Extractive) splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			sentence := strings.TrimSpace(current.String())
			if len(sentence) >= e.config.MinSentenceLength {
				sentences = append(sentences, sentence)
				current.Reset()
			}
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func (e *Extractive) scoreSentences(sentences []string) []float64 {
	freq := wordFrequency(sentences)
	scores := make([]float64, len(sentences))

	for i, sentence := range sentences {
		words := strings.Fields(sentence)

		// Earlier sentences carry more of the turn's point.
		position := 1.0 / (float64(i) + 1.0)

		// Medium-length sentences preferred; peak around 20 words.
		length := math.Min(float64(len(words))/20.0, 1.0)
		if len(words) > 20 {
			length = math.Max(1.0-(float64(len(words))-20.0)/50.0, 0.1)
		}

		// Inverse frequency rewards distinctive vocabulary.
		distinct := 0.0
		for _, word := range words {
			word = normalizeWord(word)
			if n, ok := freq[word]; ok && n > 1 {
				distinct += 1.0 / float64(n)
			}
		}
		if len(words) > 0 {
			distinct /= float64(len(words))
		}

		scores[i] = position*0.3 + length*0.4 + distinct*0.3
	}
	return scores
}

func (e *Extractive) selectSentences(sentences []string, scores []float64, budget int) []string {
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	used := 0
	keep := make(map[int]bool)
	for _, idx := range order {
		cost := len(sentences[idx])
		if used > 0 {
			cost++
		}
		if used+cost > budget {
			continue
		}
		keep[idx] = true
		used += cost
	}
	// Budget smaller than every sentence: keep the best one truncated.
	if len(keep) == 0 {
		return []string{truncate(sentences[order[0]], budget)}
	}

	selected := make([]string, 0, len(keep))
	for i, sentence := range sentences {
		if keep[i] {
			selected = append(selected, sentence)
		}
	}
	return selected
}

func wordFrequency(sentences []string) map[string]int {
	freq := make(map[string]int)
	for _, sentence := range sentences {
		for _, word := range strings.Fields(sentence) {
			word = normalizeWord(word)
			if len(word) > 2 {
				freq[word]++
			}
		}
	}
	return freq
}

func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

var _ Compressor = (*Extractive)(nil)
