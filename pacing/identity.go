package pacing

import (
	"github.com/pevans/papercrawl/clock"
)

// Identity is the client signature presented to the origin. A new identity is
// chosen on every rotation; Generation increases each time.
type Identity struct {
	Generation     int
	UserAgent      string
	AcceptLanguage string
	WindowWidth    int
	WindowHeight   int
}

// DefaultUserAgents returns desktop browser signatures.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/120.0",
	}
}

// Pool hands out identities built from a list of user agents.
type Pool struct {
	agents []string
	rnd    clock.Rand
}

// NewPool creates a pool. An empty agent list falls back to
// DefaultUserAgents.
func NewPool(agents []string, rnd clock.Rand) *Pool {
	if len(agents) == 0 {
		agents = DefaultUserAgents()
	}
	return &Pool{agents: agents, rnd: rnd}
}

// Next returns an identity that differs from prev in user agent whenever the
// pool holds more than one agent.
func (p *Pool) Next(prev Identity) Identity {
	i := p.pick(len(p.agents))
	if len(p.agents) > 1 && p.agents[i] == prev.UserAgent {
		i = (i + 1) % len(p.agents)
	}

	return Identity{
		Generation:     prev.Generation + 1,
		UserAgent:      p.agents[i],
		AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
		WindowWidth:    1200 + p.pick(721),
		WindowHeight:   800 + p.pick(281),
	}
}

// pick returns a value in [0, n).
func (p *Pool) pick(n int) int {
	i := int(p.rnd.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
