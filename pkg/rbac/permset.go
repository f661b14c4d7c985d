package rbac

import (
	"context"
	"sort"

	"github.com/platinummonkey/tourdesk/pkg/contextkeys"
)

// PermissionSet is an immutable set of permission keys.
// The zero value is the empty set and denies everything.
type PermissionSet struct {
	keys map[string]struct{}
}

// NewPermissionSet builds a set from keys
func NewPermissionSet(keys ...string) PermissionSet {
	set := PermissionSet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		set.keys[k] = struct{}{}
	}
	return set
}

// Has reports whether key is in the set
func (s PermissionSet) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// HasAny reports whether at least one of keys is in the set; no keys means false
func (s PermissionSet) HasAny(keys ...string) bool {
	for _, k := range keys {
		if s.Has(k) {
			return true
		}
	}
	return false
}

// HasAll reports whether every key is in the set; no keys means false
func (s PermissionSet) HasAll(keys ...string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// ContainsAll reports whether every key is in s; an empty list is trivially contained
func (s PermissionSet) ContainsAll(keys []string) bool {
	for _, k := range keys {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// Len returns the number of keys
func (s PermissionSet) Len() int {
	return len(s.keys)
}

// Keys returns the keys in sorted order
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WithPermissionSet stores a prefetched set in ctx
func WithPermissionSet(ctx context.Context, set PermissionSet) context.Context {
	return contextkeys.WithPermissionSet(ctx, set)
}

// PermissionSetFromContext returns the set stored by the prefetch middleware
func PermissionSetFromContext(ctx context.Context) (PermissionSet, bool) {
	set, ok := ctx.Value(contextkeys.PermissionSetKey).(PermissionSet)
	return set, ok
}
