package conn

import "sort"

// reconcile diffs a fresh enumeration against c.
//
// Names only in remote are built and inserted in enumeration order (a build
// error skips the name). Names only in c are taken out in name order,
// reported, then freed. Names in both are not touched, so their wrappers keep
// their identity across passes.
func reconcile[T object](c *cache[T], remote []string, build func(name string) (T, error), emit func(Event)) (added, removed int) {
	want := make(map[string]struct{}, len(remote))
	have := c.names()

	for _, name := range remote {
		if _, dup := want[name]; dup {
			continue
		}
		want[name] = struct{}{}
		if _, ok := have[name]; ok {
			continue
		}
		obj, err := build(name)
		if err != nil {
			continue
		}
		if !c.insert(obj) {
			obj.free()
			continue
		}
		emit(Event{Type: EventObjectAdded, Kind: c.kind, Object: obj})
		added++
	}

	stale := make([]string, 0)
	for name := range have {
		if _, ok := want[name]; !ok {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)

	for _, name := range stale {
		obj, ok := c.take(name)
		if !ok {
			continue
		}
		emit(Event{Type: EventObjectRemoved, Kind: c.kind, Object: obj})
		obj.free()
		removed++
	}

	return added, removed
}

// teardown empties c, reporting and freeing every wrapper.
func teardown[T object](c *cache[T], emit func(Event)) int {
	objs := c.drain()
	for _, obj := range objs {
		emit(Event{Type: EventObjectRemoved, Kind: c.kind, Object: obj})
		obj.free()
	}
	return len(objs)
}
