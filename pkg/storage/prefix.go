package storage

import "context"

// prefixed stores every key of next under a fixed prefix.
type prefixed struct {
	next   Store
	prefix string
}

// Prefixed namespaces next under prefix. An empty prefix returns next.
func Prefixed(next Store, prefix string) Store {
	if prefix == "" {
		return next
	}
	return &prefixed{next: next, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.next.Get(ctx, p.prefix+key)
}

func (p *prefixed) SetMany(ctx context.Context, entries map[string]string) error {
	full := make(map[string]string, len(entries))
	for k, v := range entries {
		full[p.prefix+k] = v
	}
	return p.next.SetMany(ctx, full)
}

func (p *prefixed) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.prefix + k
	}
	return p.next.Delete(ctx, full...)
}

func (p *prefixed) Ping(ctx context.Context) error { return p.next.Ping(ctx) }
func (p *prefixed) Close() error                   { return p.next.Close() }
