package cache

// Policy selects which entry the memory store sacrifices when an insertion
// pushes it past its size bound. The set is closed.
type Policy string

const (
	// PolicyLRU evicts the entry with the oldest last access.
	PolicyLRU Policy = "lru"
	// PolicyLFU evicts the entry with the fewest hits.
	PolicyLFU Policy = "lfu"
	// PolicyFIFO evicts the oldest entry regardless of access.
	PolicyFIFO Policy = "fifo"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case PolicyLRU, PolicyLFU, PolicyFIFO:
		return Policy(name), nil
	default:
		return "", ErrUnknownPolicy
	}
}

// victim picks the key to evict under the policy. Ties go to the entry
// inserted earliest, so the choice is stable regardless of map iteration
// order. Empty string when there is nothing to evict.
func victim(entries map[string]*entry, p Policy) string {
	var key string
	var best *entry
	for k, e := range entries {
		if best == nil || less(e, best, p) {
			key, best = k, e
		}
	}
	return key
}

func less(a, b *entry, p Policy) bool {
	switch p {
	case PolicyLFU:
		if a.hits != b.hits {
			return a.hits < b.hits
		}
	case PolicyFIFO:
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
	default: // PolicyLRU
		if !a.lastAccessedAt.Equal(b.lastAccessedAt) {
			return a.lastAccessedAt.Before(b.lastAccessedAt)
		}
	}
	return a.seq < b.seq
}
