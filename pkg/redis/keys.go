package redis

import "strings"

// DefaultKeyspace prefixes every key this service writes.
const DefaultKeyspace Keyspace = "sh"

// Keyspace builds colon-separated keys under a fixed namespace.
type Keyspace string

func (k Keyspace) Idempotency(scope, id string) string {
	return k.join("idempotency", scope, id)
}

func (k Keyspace) RateLimit(scope string) string {
	return k.join("rate_limit", scope)
}

func (k Keyspace) Lock(name string) string {
	return k.join("lock", name)
}

// join drops blank segments so an anonymous scope does not leave "::".
func (k Keyspace) join(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, string(k))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}
