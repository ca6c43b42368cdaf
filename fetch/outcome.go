// Package fetch retrieves article pages through an ordered chain of
// strategies, classifying every attempt as raw content, a transient failure,
// a challenge or a fatal failure.
package fetch

import (
	"context"
	"time"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/pacing"
)

// Kind classifies the result of a fetch attempt.
type Kind int

const (
	// KindRaw means the origin returned page markup.
	KindRaw Kind = iota

	// KindTransient covers timeouts, connection errors and server errors;
	// the same strategy may be retried.
	KindTransient

	// KindChallenge means the origin refused the request as automated. The
	// chain escalates to the next strategy without retrying.
	KindChallenge

	// KindFatal means the strategy cannot fetch this URL at all.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindTransient:
		return "transient"
	case KindChallenge:
		return "challenge"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one fetch attempt, or of a whole chain run. Body
// is set only for KindRaw; Reason describes every other kind.
type Outcome struct {
	Kind     Kind
	Body     []byte
	Strategy article.StrategyName
	Reason   string
	Status   int
	Attempts int
}

// OK reports whether the outcome carries page markup.
func (o Outcome) OK() bool {
	return o.Kind == KindRaw
}

// Raw returns a successful outcome.
func Raw(strategy article.StrategyName, status int, body []byte) Outcome {
	return Outcome{Kind: KindRaw, Strategy: strategy, Status: status, Body: body}
}

// Transient returns a retryable failure.
func Transient(strategy article.StrategyName, status int, reason string) Outcome {
	return Outcome{Kind: KindTransient, Strategy: strategy, Status: status, Reason: reason}
}

// Challenge returns an anti-automation refusal.
func Challenge(strategy article.StrategyName, status int, reason string) Outcome {
	return Outcome{Kind: KindChallenge, Strategy: strategy, Status: status, Reason: reason}
}

// Fatal returns a failure that retrying with the same strategy cannot fix.
func Fatal(strategy article.StrategyName, status int, reason string) Outcome {
	return Outcome{Kind: KindFatal, Strategy: strategy, Status: status, Reason: reason}
}

// Strategy fetches one URL under an identity. Implementations never return
// errors; every failure is folded into the Outcome.
type Strategy interface {
	Name() article.StrategyName
	Fetch(ctx context.Context, url string, id pacing.Identity) Outcome
}

// TimeoutStrategy is implemented by strategies that need a longer attempt
// timeout than the chain default.
type TimeoutStrategy interface {
	Timeout() time.Duration
}
