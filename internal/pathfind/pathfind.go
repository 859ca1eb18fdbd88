// Package pathfind provides weighted shortest-path search and derived
// nearest-match queries over the room graph.
package pathfind

import (
	"container/heap"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapgraph/internal/atlas"
)

// nearThreshold is the distance in seconds under which a popped member of
// a destination set ends the search. Candidates farther than this are not
// silently preferred over almost-as-close alternatives; the search runs on
// and the caller picks the true minimum.
const nearThreshold = 20.0

// Finder runs shortest-path queries over a store's adjacency. Deferred
// edge costs are evaluated through eval at traversal time; a nil eval
// treats deferred edges as impassable.
type Finder struct {
	store  *atlas.Store
	eval   atlas.Evaluator
	logger *zap.Logger
}

// New creates a Finder.
//
// Precondition: store and logger must be non-nil; eval may be nil.
func New(store *atlas.Store, eval atlas.Evaluator, logger *zap.Logger) *Finder {
	return &Finder{store: store, eval: eval, logger: logger}
}

// frontierItem is one priority-queue entry. Ties on distance break by
// insertion order, making path choice deterministic among equal-cost
// alternatives.
type frontierItem struct {
	id   int
	dist float64
	seq  int
}

type frontier []frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].dist != f[j].dist {
		return f[i].dist < f[j].dist
	}
	return f[i].seq < f[j].seq
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// Dijkstra explores all rooms reachable from source.
//
// Postcondition: Returns predecessor and distance tables keyed by room id;
// unreachable rooms are absent from both.
func (f *Finder) Dijkstra(source int) (map[int]int, map[int]float64) {
	return f.run(source, nil)
}

// DijkstraTo searches from source and stops as soon as dest is settled.
func (f *Finder) DijkstraTo(source, dest int) (map[int]int, map[int]float64) {
	return f.run(source, func(id int, _ float64) bool {
		return id == dest
	})
}

// DijkstraToAny searches from source and stops as soon as a settled room
// is in dests and closer than the nearness threshold.
func (f *Finder) DijkstraToAny(source int, dests map[int]bool) (map[int]int, map[int]float64) {
	return f.run(source, func(id int, dist float64) bool {
		return dests[id] && dist < nearThreshold
	})
}

// run is the shared Dijkstra core. stop, when non-nil, ends the search
// after the given settled room.
func (f *Finder) run(source int, stop func(id int, dist float64) bool) (map[int]int, map[int]float64) {
	previous := make(map[int]int)
	distances := make(map[int]float64)

	if _, ok := f.store.LookupByID(source); !ok {
		return previous, distances
	}

	visited := make(map[int]bool)
	seq := 0
	pq := &frontier{{id: source, dist: 0, seq: seq}}
	heap.Init(pq)
	distances[source] = 0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(frontierItem)
		if visited[item.id] {
			continue
		}
		visited[item.id] = true

		if stop != nil && stop(item.id, item.dist) {
			return previous, distances
		}

		room, ok := f.store.LookupByID(item.id)
		if !ok {
			continue
		}
		for _, key := range sortedExitKeys(room.WayTo) {
			dest, err := strconv.Atoi(key)
			if err != nil || visited[dest] {
				continue
			}
			if _, ok := f.store.LookupByID(dest); !ok {
				continue
			}
			cost, ok := f.edgeCost(room, key)
			if !ok {
				continue
			}
			next := item.dist + cost
			if best, seen := distances[dest]; seen && best <= next {
				continue
			}
			distances[dest] = next
			previous[dest] = item.id
			seq++
			heap.Push(pq, frontierItem{id: dest, dist: next, seq: seq})
		}
	}
	return previous, distances
}

// edgeCost resolves the traversal cost of one adjacency entry. An exit
// with no timeto entry, or whose deferred cost cannot be evaluated, is
// unreachable via that entry.
func (f *Finder) edgeCost(room *atlas.Room, key string) (float64, bool) {
	cost, ok := room.TimeTo[key]
	if !ok {
		return 0, false
	}
	if !cost.IsDeferred() {
		return cost.Seconds, true
	}
	if f.eval == nil {
		return 0, false
	}
	seconds, err := f.eval.EvalCost(cost.Expr)
	if err != nil {
		f.logger.Debug("skipping edge with failing deferred cost",
			zap.Int("room", room.ID),
			zap.String("target", key),
			zap.Error(err),
		)
		return 0, false
	}
	return seconds, true
}

// PathTo returns the room id sequence from source to dest, excluding
// source itself.
//
// Postcondition: Returns (path, true), or (nil, false) when dest is
// unreachable or either id is unknown.
func (f *Finder) PathTo(source, dest int) ([]int, bool) {
	previous, distances := f.DijkstraTo(source, dest)
	if _, ok := distances[dest]; !ok {
		return nil, false
	}
	if source == dest {
		return []int{}, true
	}

	var path []int
	for at := dest; at != source; {
		path = append(path, at)
		prev, ok := previous[at]
		if !ok {
			return nil, false
		}
		at = prev
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// FindNearestByTag returns the closest room carrying tag, measured from
// source. A source room carrying the tag itself wins at zero cost without
// running a search.
//
// Postcondition: Returns (roomID, true), or (0, false) when no tagged
// room is reachable.
func (f *Finder) FindNearestByTag(source int, tag string) (int, bool) {
	candidates := f.taggedRooms(tag)
	return f.FindNearest(source, candidates)
}

// FindAllNearestByTag returns every reachable room carrying tag, sorted
// by ascending distance from source.
func (f *Finder) FindAllNearestByTag(source int, tag string) []int {
	candidates := f.taggedRooms(tag)
	_, distances := f.Dijkstra(source)

	type ranked struct {
		id   int
		dist float64
	}
	var reachable []ranked
	for _, id := range candidates {
		if d, ok := distances[id]; ok {
			reachable = append(reachable, ranked{id: id, dist: d})
		}
	}
	sort.Slice(reachable, func(i, j int) bool {
		if reachable[i].dist != reachable[j].dist {
			return reachable[i].dist < reachable[j].dist
		}
		return reachable[i].id < reachable[j].id
	})

	out := make([]int, len(reachable))
	for i, r := range reachable {
		out[i] = r.id
	}
	return out
}

// FindNearest returns the minimum-distance candidate measured from
// source. A candidate equal to source wins at zero cost without a search.
//
// Postcondition: Returns (roomID, true), or (0, false) when no candidate
// is reachable.
func (f *Finder) FindNearest(source int, candidates []int) (int, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	dests := make(map[int]bool, len(candidates))
	for _, id := range candidates {
		if id == source {
			return source, true
		}
		dests[id] = true
	}

	_, distances := f.DijkstraToAny(source, dests)
	best := 0
	bestDist := 0.0
	found := false
	for _, id := range candidates {
		d, ok := distances[id]
		if !ok {
			continue
		}
		if !found || d < bestDist || (d == bestDist && id < best) {
			best = id
			bestDist = d
			found = true
		}
	}
	return best, found
}

// EstimateTime sums the traversal cost along a room id sequence,
// evaluating deferred costs and defaulting missing edges to the standard
// edge cost.
func (f *Finder) EstimateTime(ids []int) float64 {
	total := 0.0
	for i := 0; i+1 < len(ids); i++ {
		room, ok := f.store.LookupByID(ids[i])
		if !ok {
			total += atlas.DefaultEdgeCost
			continue
		}
		cost, ok := room.CostToID(ids[i+1])
		if !ok {
			total += atlas.DefaultEdgeCost
			continue
		}
		seconds, err := cost.Value(f.eval)
		if err != nil {
			total += atlas.DefaultEdgeCost
			continue
		}
		total += seconds
	}
	return total
}

// sortedExitKeys returns a room's exit keys in ascending destination
// order. Relaxation order feeds the tie-break, so it must not depend on
// map iteration order.
func sortedExitKeys(wayto map[string]atlas.Way) []string {
	keys := make([]string, 0, len(wayto))
	for k := range wayto {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// taggedRooms collects the ids of all rooms carrying tag.
func (f *Finder) taggedRooms(tag string) []int {
	var ids []int
	f.store.ForEach(func(r *atlas.Room) bool {
		if r.HasTag(tag) {
			ids = append(ids, r.ID)
		}
		return true
	})
	return ids
}
