package fallback

import "github.com/cockroachdb/errors"

// Strategy is one recovery technique in the fallback chain. The set is
// closed and dispatched through a switch; there is no open registry.
type Strategy int

const (
	// StrategyRetry re-invokes the primary operation with exponential
	// backoff.
	StrategyRetry Strategy = iota
	// StrategyAlternate routes the request to the best-ranked healthy
	// alternate backend.
	StrategyAlternate
	// StrategyDegrade simplifies the prompt and retries the primary once.
	StrategyDegrade
)

func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyAlternate:
		return "alternate"
	case StrategyDegrade:
		return "degrade"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "retry":
		return StrategyRetry, nil
	case "alternate":
		return StrategyAlternate, nil
	case "degrade":
		return StrategyDegrade, nil
	default:
		return 0, errors.Newf("fallback: unknown strategy %q", name)
	}
}

// ParseStrategies maps a list of configuration names, rejecting duplicates
// (a strategy runs at most once per execution).
func ParseStrategies(names []string) ([]Strategy, error) {
	seen := make(map[Strategy]struct{}, len(names))
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			return nil, errors.Newf("fallback: duplicate strategy %q", name)
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
