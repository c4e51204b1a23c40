// Package reply answers study questions by keyword overlap with the
// student's reviewer text. It does no language understanding: a knowledge
// line is relevant when one of its words contains a query keyword.
package reply

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const (
	// minKeywordLen is exclusive: keywords must be longer than this many runes.
	minKeywordLen = 3
	maxSources    = 2
	quoteLen      = 60
)

// Kind tells which branch produced a reply.
type Kind string

const (
	KindNoKnowledge Kind = "no_knowledge"
	KindRelevant    Kind = "relevant"
	KindFallback    Kind = "fallback"
	KindApology     Kind = "apology"
)

// Reply is a generated answer plus the knowledge lines it drew from.
type Reply struct {
	Text    string   `json:"text"`
	Kind    Kind     `json:"kind"`
	Sources []string `json:"sources,omitempty"`
}

type source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *source) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Generator picks reply phrases. It is safe for concurrent use.
type Generator struct {
	src     *source
	phrases Phrasebook
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source used to pick phrases.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.src.rng = r }
}

// WithSeed makes phrase selection reproducible.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// WithPhrasebook sets the phrase source.
func WithPhrasebook(p Phrasebook) Option {
	return func(g *Generator) { g.phrases = p }
}

// New creates a Generator seeded from the runtime's random source.
func New(opts ...Option) *Generator {
	g := &Generator{
		src:     &source{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))},
		phrases: English,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Localized returns a Generator sharing g's random source but speaking p.
func (g *Generator) Localized(p Phrasebook) *Generator {
	if p == nil {
		return g
	}
	return &Generator{src: g.src, phrases: p}
}

// Generate returns the reply text for an utterance. It never returns an
// empty string.
func (g *Generator) Generate(utterance, knowledge, subject string) string {
	return g.Respond(utterance, knowledge, subject).Text
}

// Respond is Generate with the reply kind and source lines attached.
func (g *Generator) Respond(utterance, knowledge, subject string) (r Reply) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("reply generation failed", "panic", fmt.Sprint(p))
			r = Reply{Text: g.apology(), Kind: KindApology}
		}
	}()

	r = g.respond(utterance, knowledge, subject)
	if strings.TrimSpace(r.Text) == "" {
		slog.Warn("empty reply phrase", "kind", r.Kind)
		r = Reply{Text: g.apology(), Kind: KindApology}
	}
	return r
}

func (g *Generator) respond(utterance, knowledge, subject string) Reply {
	if strings.TrimSpace(knowledge) == "" {
		if strings.TrimSpace(subject) == "" {
			subject = g.phrases.Phrase(IDSubjectNotSet, nil)
		}
		return Reply{
			Text: g.pick(noKnowledgeIDs, map[string]any{"Subject": subject}),
			Kind: KindNoKnowledge,
		}
	}

	sources := RelevantLines(Keywords(utterance), knowledge, maxSources)
	if len(sources) == 0 {
		return Reply{Text: g.pick(fallbackIDs, nil), Kind: KindFallback}
	}
	return Reply{
		Text:    g.phrases.Phrase(IDRelevant, map[string]any{"Quote": Truncate(sources[0], quoteLen)}),
		Kind:    KindRelevant,
		Sources: sources,
	}
}

// Acknowledge is the message shown after reviewer text has been loaded.
func (g *Generator) Acknowledge(subject string) string {
	if strings.TrimSpace(subject) == "" {
		subject = g.phrases.Phrase(IDSubjectNotSet, nil)
	}
	return g.phrases.Phrase(IDAcknowledge, map[string]any{"Subject": subject})
}

func (g *Generator) pick(ids []string, data map[string]any) string {
	return g.phrases.Phrase(ids[g.src.intN(len(ids))], data)
}

func (g *Generator) apology() (text string) {
	defer func() {
		if recover() != nil || text == "" {
			text = apology
		}
	}()
	return g.phrases.Phrase(IDApology, nil)
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the lowercase words of s longer than three runes, in order.
func Keywords(s string) []string {
	var kw []string
	for _, w := range words(s) {
		if utf8.RuneCountInString(w) > minKeywordLen {
			kw = append(kw, w)
		}
	}
	return kw
}

// RelevantLines returns up to limit non-empty knowledge lines, in order,
// having a word that contains one of the keywords.
func RelevantLines(keywords []string, knowledge string, limit int) []string {
	if len(keywords) == 0 {
		return nil
	}
	var out []string
	for _, line := range strings.Split(knowledge, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lineMatches(words(line), keywords) {
			out = append(out, line)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func lineMatches(lineWords, keywords []string) bool {
	for _, w := range lineWords {
		for _, kw := range keywords {
			if strings.Contains(w, kw) {
				return true
			}
		}
	}
	return false
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:n]), unicode.IsSpace) + "..."
}
