// Package locator resolves the player's current room from live game
// telemetry against the room-graph store, with exact and fuzzy matching
// and a retry-on-change race rule.
package locator

import (
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mapgraph/internal/atlas"
)

// Telemetry is the read-only oracle supplying the current game state. It
// may be rewritten concurrently by the feed reader; ChangeCount increases
// monotonically on every rewrite and is the only consistency signal.
type Telemetry interface {
	// RoomTitle returns the current room title line.
	RoomTitle() string
	// RoomDescription returns the current room description.
	RoomDescription() string
	// RoomExits returns the current exits line.
	RoomExits() string
	// RoomUID returns the server-issued room identifier, or 0 when the
	// server supplied none.
	RoomUID() int
	// ChangeCount returns the monotonically increasing room-change counter.
	ChangeCount() uint64
	// WindowDisabled reports whether the room description window is
	// disabled, in which case description matching is skipped.
	WindowDisabled() bool
}

// Context selects which lock/cache pair a resolution uses. The script and
// poller contexts are independent so they never block each other.
type Context int

const (
	// ContextScript is the active-script context. Only this context may
	// learn new rooms.
	ContextScript Context = iota
	// ContextPoller is the passive/background context.
	ContextPoller
)

// fogPattern matches an exits line obscured by fog, which is treated as a
// wildcard for the exits clause of a match.
var fogPattern = regexp.MustCompile(`obscured by .*fog`)

// resolveState is one context's lock and cached resolution.
type resolveState struct {
	mu     sync.Mutex
	valid  bool
	roomID int
	count  uint64
}

// Locator resolves "where am I now" against a Store.
type Locator struct {
	store  *atlas.Store
	logger *zap.Logger

	script resolveState
	poller resolveState
}

// New creates a Locator over the given store.
//
// Precondition: store and logger must be non-nil.
func New(store *atlas.Store, logger *zap.Logger) *Locator {
	return &Locator{store: store, logger: logger}
}

func (l *Locator) stateFor(ctx Context) *resolveState {
	if ctx == ContextPoller {
		return &l.poller
	}
	return &l.script
}

// Current resolves the current room from the telemetry snapshot.
//
// A cached resolution is returned while the telemetry change counter is
// unchanged. A nonzero room uid resolves through the UID index, falling
// back to adjacency disambiguation and then full text matching. Full
// matching re-checks the change counter before trusting a result and
// restarts when telemetry was rewritten mid-search, so a returned room is
// never matched against a half-updated snapshot.
//
// Postcondition: Returns (room, true) on resolution, or (nil, false);
// a textual match contradicting a nonzero telemetry uid is reported as
// not-found, never as the wrong room.
func (l *Locator) Current(t Telemetry, ctx Context) (*atlas.Room, bool) {
	state := l.stateFor(ctx)
	state.mu.Lock()
	defer state.mu.Unlock()

	count := t.ChangeCount()
	if state.valid && state.count == count {
		if room, ok := l.store.LookupByID(state.roomID); ok {
			return room, true
		}
	}

	// Fast path: a nonzero uid with exactly one known room needs no text
	// matching at all.
	if uid := t.RoomUID(); uid != 0 {
		ids := l.store.IDsForUID(uid)
		switch {
		case len(ids) == 1:
			if room, ok := l.store.LookupByID(ids[0]); ok {
				l.cache(state, room.ID, count)
				return room, true
			}
		case len(ids) > 1:
			if room, ok := l.disambiguate(state, ids); ok {
				l.cache(state, room.ID, count)
				return room, true
			}
		}
	}

	room, matched, ok := l.match(t)
	if !ok {
		return nil, false
	}
	l.cache(state, room.ID, matched)
	return room, true
}

// disambiguate keeps only the uid candidates reachable as a direct exit of
// the previously resolved room and adopts a sole survivor.
func (l *Locator) disambiguate(state *resolveState, ids []int) (*atlas.Room, bool) {
	if !state.valid {
		return nil, false
	}
	prev, ok := l.store.LookupByID(state.roomID)
	if !ok {
		return nil, false
	}
	var reachable []int
	for _, id := range ids {
		if _, ok := prev.WayToID(id); ok {
			reachable = append(reachable, id)
		}
	}
	if len(reachable) != 1 {
		return nil, false
	}
	return l.store.LookupByID(reachable[0])
}

// match performs full text matching under the race-retry rule: the change
// counter is snapshotted before the search and re-checked after; a result
// computed across a telemetry rewrite is discarded and the search rerun.
// The returned counter is the snapshot the result was validated against;
// a cache entry must be keyed to it, never to a later re-read.
func (l *Locator) match(t Telemetry) (*atlas.Room, uint64, bool) {
	for {
		count := t.ChangeCount()
		title := t.RoomTitle()
		desc := t.RoomDescription()
		exits := t.RoomExits()
		uid := t.RoomUID()
		foggy := fogPattern.MatchString(exits)

		room := l.findExact(title, desc, exits, foggy)
		if room == nil {
			room = l.findFuzzy(title, desc, exits, foggy, t.WindowDisabled())
		}

		if t.ChangeCount() != count {
			// Telemetry was rewritten mid-search; the match may be a
			// hybrid of two ticks and must not be trusted.
			continue
		}

		if room != nil && uid != 0 && len(room.UID) > 0 && !room.HasUID(uid) {
			l.logger.Debug("rejecting textual match with contradicting uid",
				zap.Int("room", room.ID),
				zap.Int("uid", uid),
			)
			room = nil
		}

		if room == nil {
			return nil, 0, false
		}
		return room, count, true
	}
}

// findExact searches for a room whose variant lists contain the exact
// current title, description, and exits line. A fog-obscured exits line
// matches any room's paths.
func (l *Locator) findExact(title, desc, exits string, foggy bool) *atlas.Room {
	var found *atlas.Room
	l.store.ForEach(func(r *atlas.Room) bool {
		if r.HasTitle(title) && r.HasDescription(desc) && (foggy || r.HasPaths(exits)) {
			found = r
			return false
		}
		return true
	})
	return found
}

// findFuzzy retries with the description matched through the loosened
// ellipsis-tolerant pattern. When the display window is disabled the
// description clause is skipped entirely.
func (l *Locator) findFuzzy(title, desc, exits string, foggy, windowDisabled bool) *atlas.Room {
	var pattern *regexp.Regexp
	if !windowDisabled {
		p, err := atlas.FuzzyPattern(desc)
		if err != nil {
			return nil
		}
		pattern = p
	}

	var found *atlas.Room
	l.store.ForEach(func(r *atlas.Room) bool {
		if !r.HasTitle(title) {
			return true
		}
		if !foggy && !r.HasPaths(exits) {
			return true
		}
		if pattern != nil {
			matched := false
			for _, d := range r.Description {
				if pattern.MatchString(d) {
					matched = true
					break
				}
			}
			if !matched {
				return true
			}
		}
		found = r
		return false
	})
	return found
}

// cache records a successful resolution keyed to the change counter.
func (l *Locator) cache(state *resolveState, roomID int, count uint64) {
	state.valid = true
	state.roomID = roomID
	state.count = count
}

// CurrentOrNew resolves the current room, learning a new one from the
// telemetry fields on a miss. Learning is only valid in the script
// context; the poller context never mutates the store. The field reads
// follow the same race-retry rule as matching: the change counter is
// snapshotted before and re-checked after, so a learned room never
// records a hybrid of two telemetry ticks.
//
// Postcondition: Returns (room, true) with the room present in the store,
// or (nil, false) when the store is empty and no id can be allocated.
func (l *Locator) CurrentOrNew(t Telemetry) (*atlas.Room, bool) {
	if room, ok := l.Current(t, ContextScript); ok {
		return room, true
	}

	state := &l.script
	state.mu.Lock()
	defer state.mu.Unlock()

	for {
		count := t.ChangeCount()
		title := t.RoomTitle()
		desc := t.RoomDescription()
		exits := t.RoomExits()
		uid := t.RoomUID()
		if t.ChangeCount() != count {
			continue
		}

		id, err := l.store.FreeID()
		if err != nil {
			l.logger.Warn("cannot learn room", zap.Error(err))
			return nil, false
		}

		room := &atlas.Room{
			ID:          id,
			Title:       []string{title},
			Description: []string{desc},
			Paths:       []string{exits},
		}
		room.AddUID(uid)

		if err := l.store.Insert(room); err != nil {
			l.logger.Warn("cannot learn room", zap.Int("id", id), zap.Error(err))
			return nil, false
		}
		l.logger.Info("learned unmapped room",
			zap.Int("id", id),
			zap.String("title", title),
		)
		l.cache(state, id, count)
		return room, true
	}
}
