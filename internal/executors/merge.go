package executors

import (
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"fmt"
	"sort"
	"time"
)

// Conflict precedence for multi-result operations: the copy with the highest
// version wins, then the latest update time, then the lowest handle position.
// None of these depend on arrival order, so the consolidated list is the same
// whichever order responses are accepted in. In strict mode every version seen
// for a key is remembered, so a conflict is reported whichever pair of
// differing copies meets first.

type held[T any] struct {
	item *T
	src  federation.Source
}

type consolidator[T any] struct {
	strict bool
	key    func(*T) string
	stamp  func(*T) (int64, time.Time)
	same   func(a, b *T) bool

	items map[string]held[T]

	// versions holds the first copy seen at each version of a key. Strict only.
	versions map[string]map[int64]held[T]
}

func newConsolidator[T any](strict bool, key func(*T) string, stamp func(*T) (int64, time.Time), same func(a, b *T) bool) *consolidator[T] {
	return &consolidator[T]{
		strict:   strict,
		key:      key,
		stamp:    stamp,
		same:     same,
		items:    make(map[string]held[T]),
		versions: make(map[string]map[int64]held[T]),
	}
}

// add folds one copy in. It only fails in strict mode, when two repositories
// hold different content under the same version.
func (c *consolidator[T]) add(src federation.Source, item *T) error {
	k := c.key(item)
	v, u := c.stamp(item)
	if c.strict {
		if err := c.checkVersion(k, v, src, item); err != nil {
			return err
		}
	}

	cur, ok := c.items[k]
	if !ok {
		c.items[k] = held[T]{item: item, src: src}
		return nil
	}
	cv, cu := c.stamp(cur.item)
	switch {
	case metadata.Newer(v, u, cv, cu):
		c.items[k] = held[T]{item: item, src: src}
	case v == cv && u.Equal(cu) && src.Position < cur.src.Position:
		c.items[k] = held[T]{item: item, src: src}
	}
	return nil
}

func (c *consolidator[T]) checkVersion(k string, v int64, src federation.Source, item *T) error {
	seen, ok := c.versions[k]
	if !ok {
		seen = make(map[int64]held[T])
		c.versions[k] = seen
	}
	prev, ok := seen[v]
	if !ok {
		seen[v] = held[T]{item: item, src: src}
		return nil
	}
	if !c.same(item, prev.item) {
		return federation.Conflicting(src.RepositoryID, fmt.Errorf(
			"%s differs from the copy held by %s at version %d", k, prev.src.RepositoryID, v))
	}
	return nil
}

// sorted returns the held copies ordered by key.
func (c *consolidator[T]) sorted() []held[T] {
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]held[T], 0, len(keys))
	for _, k := range keys {
		out = append(out, c.items[k])
	}
	return out
}
