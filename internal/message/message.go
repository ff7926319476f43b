// Package message builds the per-recipient payload.
//
// A Generator is invoked once per attempt so spun variants differ between
// recipients. The optional link goes on its own line after the text; when an
// image is configured the text becomes its caption.
package message

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"

	"campaignbot/internal/config"
	"campaignbot/internal/transport"
)

// DefaultEmojis decorate spun phrases when no emoji list is configured.
var DefaultEmojis = []string{"🙂", "✨", "👋", "😃", "💫"}

// EmojiProbability is the chance a spun phrase gets a trailing emoji.
const EmojiProbability = 0.5

// Generator composes a payload for one recipient.
type Generator struct {
	text    string
	phrases []string
	emojis  []string
	link    string
	image   string

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Generator)

// WithSeed makes phrase and emoji choice deterministic.
func WithSeed(seed uint64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewPCG(seed, seed+1)) }
}

// New builds a generator from the message config.
func New(cfg config.MessageConfig, opts ...Option) (*Generator, error) {
	g := &Generator{
		text:    strings.TrimSpace(cfg.Text),
		phrases: nonEmpty(cfg.Phrases),
		emojis:  nonEmpty(cfg.Emojis),
		link:    strings.TrimSpace(cfg.Link),
		image:   strings.TrimSpace(cfg.Image),
	}
	if g.text == "" && len(g.phrases) == 0 {
		return nil, errors.New("message: text or phrases is required")
	}
	if len(g.phrases) > 0 && len(g.emojis) == 0 {
		g.emojis = DefaultEmojis
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Compose returns a fresh payload. {{recipient}} in the text is replaced by
// the recipient identifier.
func (g *Generator) Compose(r transport.RecipientID) transport.Payload {
	body := g.body()
	body = strings.ReplaceAll(body, "{{recipient}}", string(r))
	if g.link != "" {
		body += "\n" + g.link
	}
	return transport.Payload{Text: body, MediaPath: g.image}
}

func (g *Generator) body() string {
	if len(g.phrases) == 0 {
		return g.text
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	phrase := g.phrases[g.intN(len(g.phrases))]
	if g.float() < EmojiProbability {
		phrase += " " + g.emojis[g.intN(len(g.emojis))]
	}
	return phrase
}

func (g *Generator) intN(n int) int {
	if g.rng == nil {
		return rand.IntN(n)
	}
	return g.rng.IntN(n)
}

func (g *Generator) float() float64 {
	if g.rng == nil {
		return rand.Float64()
	}
	return g.rng.Float64()
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
