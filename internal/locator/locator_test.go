package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mapgraph/internal/atlas"
)

// fakeTelemetry is a scriptable telemetry oracle.
type fakeTelemetry struct {
	title          string
	desc           string
	exits          string
	uid            int
	count          uint64
	windowDisabled bool
}

func (f *fakeTelemetry) RoomTitle() string       { return f.title }
func (f *fakeTelemetry) RoomDescription() string { return f.desc }
func (f *fakeTelemetry) RoomExits() string       { return f.exits }
func (f *fakeTelemetry) RoomUID() int            { return f.uid }
func (f *fakeTelemetry) ChangeCount() uint64     { return f.count }
func (f *fakeTelemetry) WindowDisabled() bool    { return f.windowDisabled }

// set rewrites the telemetry to a new room and bumps the change counter.
func (f *fakeTelemetry) set(title, desc, exits string, uid int) {
	f.title = title
	f.desc = desc
	f.exits = exits
	f.uid = uid
	f.count++
}

func newTestStore(t *testing.T) *atlas.Store {
	t.Helper()
	store := atlas.NewStore(t.TempDir(), zap.NewNop())
	_ = store.Load() // empty directory: loaded-but-empty

	rooms := []*atlas.Room{
		{
			ID:          1,
			Title:       []string{"[Town Square]"},
			Description: []string{"The heart of town, crowded at all hours."},
			Paths:       []string{"Obvious paths: north, east"},
			UID:         []int{1001},
			WayTo:       map[string]atlas.Way{"2": atlas.LiteralWay("north"), "3": atlas.LiteralWay("east")},
			TimeTo:      map[string]atlas.Cost{"2": atlas.LiteralCost(1), "3": atlas.LiteralCost(1)},
		},
		{
			ID:          2,
			Title:       []string{"[North Gate]"},
			Description: []string{"A heavy gate pierces the palisade here."},
			Paths:       []string{"Obvious paths: south, east"},
			UID:         []int{1002},
			WayTo:       map[string]atlas.Way{"1": atlas.LiteralWay("south"), "3": atlas.LiteralWay("gate")},
			TimeTo:      map[string]atlas.Cost{"1": atlas.LiteralCost(1), "3": atlas.LiteralCost(1)},
		},
		{
			ID:          3,
			Title:       []string{"[East Road]"},
			Description: []string{"Wagon ruts score the packed dirt of the road."},
			Paths:       []string{"Obvious paths: west"},
			UID:         []int{1003},
			WayTo:       map[string]atlas.Way{"1": atlas.LiteralWay("west")},
			TimeTo:      map[string]atlas.Cost{"1": atlas.LiteralCost(1)},
		},
		{
			// Shares uid 1003 with room 3 but is not adjacent to room 2.
			ID:          4,
			Title:       []string{"[Far Island]"},
			Description: []string{"Waves slap the pilings of a lonely dock."},
			Paths:       []string{"Obvious paths: none"},
			UID:         []int{1003},
			WayTo:       map[string]atlas.Way{},
			TimeTo:      map[string]atlas.Cost{},
		},
	}
	for _, r := range rooms {
		require.NoError(t, store.Insert(r))
	}
	return store
}

func squareTelemetry() *fakeTelemetry {
	return &fakeTelemetry{
		title: "[Town Square]",
		desc:  "The heart of town, crowded at all hours.",
		exits: "Obvious paths: north, east",
		count: 1,
	}
}

func TestCurrentExactMatch(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	room, ok := loc.Current(squareTelemetry(), ContextScript)
	require.True(t, ok)
	assert.Equal(t, 1, room.ID)
}

func TestCurrentUsesCacheWhileCounterUnchanged(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())
	tel := squareTelemetry()

	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	require.Equal(t, 1, room.ID)

	// Garble the text without bumping the counter: the cached
	// resolution must be trusted, not recomputed.
	tel.title = "[Somewhere Else Entirely]"
	room, ok = loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 1, room.ID)

	// Bumping the counter invalidates the cache and the garbled text
	// no longer resolves.
	tel.count++
	_, ok = loc.Current(tel, ContextScript)
	assert.False(t, ok)
}

func TestCurrentUIDFastPath(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	// Text is useless but the uid is unambiguous: no text matching needed.
	tel := &fakeTelemetry{title: "garbage", desc: "garbage", exits: "garbage", uid: 1002, count: 1}
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 2, room.ID)
}

func TestCurrentAmbiguousUIDDisambiguatedByAdjacency(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	// Resolve room 2 first so the locator has a previous position.
	tel := &fakeTelemetry{title: "x", desc: "x", exits: "x", uid: 1002, count: 1}
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	require.Equal(t, 2, room.ID)

	// uid 1003 is shared by rooms 3 and 4; only 3 is a direct exit of 2.
	tel.set("x", "x", "x", 1003)
	room, ok = loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 3, room.ID)

	// Room 4 is untouched by the disambiguation.
	other, _ := loc.store.LookupByID(4)
	assert.Equal(t, []int{1003}, other.UID)
}

func TestCurrentAmbiguousUIDWithoutPreviousFallsThrough(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	// No previous resolution: adjacency cannot help, but full text
	// matching still can.
	tel := &fakeTelemetry{
		title: "[East Road]",
		desc:  "Wagon ruts score the packed dirt of the road.",
		exits: "Obvious paths: west",
		uid:   1003,
		count: 1,
	}
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 3, room.ID)
}

func TestCurrentFuzzyDescription(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	tel := squareTelemetry()
	tel.desc = "The heart of town..." // truncated by the game
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 1, room.ID)
}

func TestCurrentWindowDisabledSkipsDescription(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	tel := squareTelemetry()
	tel.desc = "completely unrelated text"
	tel.windowDisabled = true
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 1, room.ID)
}

func TestCurrentFogWildcardsExits(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	tel := squareTelemetry()
	tel.exits = "Obvious paths: obscured by a thick fog"
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 1, room.ID)
}

func TestCurrentRejectsFalseMatchOnUID(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	// Room 1 matches textually but carries uid 1001, not 9999. A wrong
	// room is worse than no room.
	tel := squareTelemetry()
	tel.uid = 9999
	_, ok := loc.Current(tel, ContextScript)
	assert.False(t, ok)
}

func TestCurrentNotFound(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())
	tel := &fakeTelemetry{title: "[Nowhere]", desc: "void", exits: "none", count: 1}
	_, ok := loc.Current(tel, ContextScript)
	assert.False(t, ok)
}

func TestContextsAreIndependent(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	scriptTel := squareTelemetry()
	room, ok := loc.Current(scriptTel, ContextScript)
	require.True(t, ok)
	require.Equal(t, 1, room.ID)

	pollerTel := &fakeTelemetry{title: "y", desc: "y", exits: "y", uid: 1002, count: 7}
	room, ok = loc.Current(pollerTel, ContextPoller)
	require.True(t, ok)
	require.Equal(t, 2, room.ID)

	// The poller resolution did not disturb the script cache.
	room, ok = loc.Current(scriptTel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 1, room.ID)
}

func TestCurrentOrNewLearnsUnmappedRoom(t *testing.T) {
	store := newTestStore(t)
	loc := New(store, zap.NewNop())

	tel := &fakeTelemetry{
		title: "[Hidden Grotto]",
		desc:  "Phosphorescent moss lights the walls.",
		exits: "Obvious paths: out",
		uid:   7777,
		count: 3,
	}
	room, ok := loc.CurrentOrNew(tel)
	require.True(t, ok)
	assert.Equal(t, 5, room.ID) // FreeID after rooms 1-4
	assert.Equal(t, []string{"[Hidden Grotto]"}, room.Title)
	assert.Equal(t, []int{7777}, room.UID)

	// The learned room is in the store and uid-indexed.
	stored, ok := store.LookupByID(5)
	require.True(t, ok)
	assert.Equal(t, room, stored)
	assert.Equal(t, []int{5}, store.IDsForUID(7777))

	// And immediately resolvable from the cache.
	again, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 5, again.ID)
}

func TestCurrentOrNewFailsOnEmptyStore(t *testing.T) {
	store := atlas.NewStore(t.TempDir(), zap.NewNop())
	_ = store.Load()
	loc := New(store, zap.NewNop())

	tel := &fakeTelemetry{title: "[Anywhere]", desc: "x", exits: "x", count: 1}
	_, ok := loc.CurrentOrNew(tel)
	assert.False(t, ok)
}

// racingTelemetry rewrites itself to room 2's text on the swapAt-th
// ChangeCount call, simulating a telemetry update landing at a chosen
// point of the resolution.
type racingTelemetry struct {
	fakeTelemetry
	swapAt     int
	countCalls int
	swapped    bool
}

func (r *racingTelemetry) ChangeCount() uint64 {
	r.countCalls++
	if r.countCalls == r.swapAt && !r.swapped {
		r.swapped = true
		r.title = "[North Gate]"
		r.desc = "A heavy gate pierces the palisade here."
		r.exits = "Obvious paths: south, east"
		r.count = 2
	}
	return r.count
}

func TestCurrentRetriesWhenCounterChangesMidMatch(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	// Call 1 is the cache check, call 2 the match snapshot. Call 3 is
	// the post-match re-check: rewrite mid-flight.
	tel := &racingTelemetry{swapAt: 3}
	tel.title = "[Town Square]"
	tel.desc = "The heart of town, crowded at all hours."
	tel.exits = "Obvious paths: north, east"
	tel.count = 1

	// The first match attempt sees room 1's text but the counter moves
	// before it completes; the result must come from a clean re-read,
	// never from the discarded attempt.
	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 2, room.ID)
	assert.True(t, tel.swapped)
	assert.GreaterOrEqual(t, tel.countCalls, 4)
}

func TestCurrentCachesUnderTheCounterItMatched(t *testing.T) {
	loc := New(newTestStore(t), zap.NewNop())

	// The first resolution uses ChangeCount calls 1-3; call 4 is the
	// next resolution's cache check. Rewriting there must not let a
	// room matched against tick 1 be served as tick 2's answer.
	tel := &racingTelemetry{swapAt: 4}
	tel.title = "[Town Square]"
	tel.desc = "The heart of town, crowded at all hours."
	tel.exits = "Obvious paths: north, east"
	tel.count = 1

	room, ok := loc.Current(tel, ContextScript)
	require.True(t, ok)
	require.Equal(t, 1, room.ID)

	// The tick-2 telemetry describes room 2; a cache entry keyed to
	// anything but the counter the match validated would serve room 1.
	room, ok = loc.Current(tel, ContextScript)
	require.True(t, ok)
	assert.Equal(t, 2, room.ID)
	assert.True(t, tel.swapped)
}

// tearingTelemetry rewrites itself to a second unmapped room in the
// middle of a field-read sequence: the second RoomDescription call
// returns the old description while every later read sees the new room.
type tearingTelemetry struct {
	fakeTelemetry
	descCalls int
	torn      bool
}

func (tt *tearingTelemetry) RoomDescription() string {
	tt.descCalls++
	desc := tt.desc
	if tt.descCalls == 2 && !tt.torn {
		tt.torn = true
		tt.title = "[Sunken Vault]"
		tt.desc = "Brackish water pools between toppled shelves."
		tt.exits = "Obvious paths: up"
		tt.uid = 8888
		tt.count++
	}
	return desc
}

func TestCurrentOrNewRetriesWhenTelemetryRewritesMidRead(t *testing.T) {
	store := newTestStore(t)
	loc := New(store, zap.NewNop())

	tel := &tearingTelemetry{}
	tel.title = "[Hidden Grotto]"
	tel.desc = "Phosphorescent moss lights the walls."
	tel.exits = "Obvious paths: out"
	tel.uid = 7777
	tel.count = 1

	// The rewrite lands between the learner's description and exits
	// reads; the learned room must be entirely the new room, never a
	// mix of two ticks.
	room, ok := loc.CurrentOrNew(tel)
	require.True(t, ok)
	require.True(t, tel.torn)
	assert.Equal(t, []string{"[Sunken Vault]"}, room.Title)
	assert.Equal(t, []string{"Brackish water pools between toppled shelves."}, room.Description)
	assert.Equal(t, []string{"Obvious paths: up"}, room.Paths)
	assert.Equal(t, []int{8888}, room.UID)
}
