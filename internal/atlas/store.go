package atlas

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// mapFilePattern matches candidate map database files: a fixed prefix, a
// numeric suffix (higher sorts later and is treated as more recent), and
// an extension selecting the format.
var mapFilePattern = regexp.MustCompile(`^map-[0-9]+\.(json|xml|dat)$`)

// formatPriority orders candidate extensions: JSON first, then the
// streaming markup format, then the binary snapshot.
var formatPriority = []string{".json", ".xml", ".dat"}

// uidRefPattern matches a UID-style text reference ("u" + digits).
var uidRefPattern = regexp.MustCompile(`^u([0-9]+)$`)

// Store owns the authoritative room collection for one game identity and
// provides identity and text lookup. Rooms are held in a dense slot array
// indexed by id; entries are appended but never removed or renumbered
// while the store is loaded.
//
// Store is safe for concurrent use. Load, Clear, and Reload serialize on a
// dedicated load mutex so at most one load proceeds at a time; readers run
// concurrently under a read lock.
type Store struct {
	dir    string
	logger *zap.Logger

	loadMu sync.Mutex
	loaded bool

	mu    sync.RWMutex
	slots []*Room
	count int
	uids  *UIDIndex
}

// NewStore creates a Store for the map database directory of one game
// identity. The store is empty until Load is called; lookups on an
// unloaded store trigger a lazy load.
//
// Precondition: logger must be non-nil.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		uids:   NewUIDIndex(),
	}
}

// Load populates the store from the best candidate file exactly once.
// Subsequent calls are no-ops while the store is loaded. Candidates are
// tried in format priority order (JSON, markup, snapshot) and, within a
// format, lexicographically-last filename first. Each parse failure is
// logged and the next candidate tried. When every candidate fails the
// store is marked loaded-but-empty and an error is returned; callers must
// not busy-loop on it.
func (s *Store) Load() error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded {
		return nil
	}

	candidates, err := s.candidateFiles()
	if err != nil {
		s.markLoaded(nil)
		return fmt.Errorf("scanning map directory %s: %w", s.dir, err)
	}

	for _, path := range candidates {
		rooms, err := s.loadFile(path)
		if err != nil {
			s.logger.Warn("map candidate failed to parse, trying next",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		s.markLoaded(rooms)
		s.logger.Info("map database loaded",
			zap.String("file", path),
			zap.Int("rooms", s.Count()),
		)
		return nil
	}

	s.markLoaded(nil)
	if len(candidates) == 0 {
		return fmt.Errorf("no map database found in %s", s.dir)
	}
	return fmt.Errorf("all %d map candidates in %s failed to parse", len(candidates), s.dir)
}

// loadFile reads and decodes one candidate by extension.
func (s *Store) loadFile(path string) ([]*Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".json":
		return DecodeJSON(data, s.logger)
	case ".xml":
		return DecodeMarkup(data, s.logger)
	case ".dat":
		rooms, _, err := DecodeSnapshot(data)
		return rooms, err
	default:
		return nil, fmt.Errorf("unknown map format %q", filepath.Ext(path))
	}
}

// candidateFiles lists candidate map files in load order.
func (s *Store) candidateFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	byExt := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() || !mapFilePattern.MatchString(e.Name()) {
			continue
		}
		ext := filepath.Ext(e.Name())
		byExt[ext] = append(byExt[ext], e.Name())
	}

	var out []string
	for _, ext := range formatPriority {
		names := byExt[ext]
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names {
			out = append(out, filepath.Join(s.dir, name))
		}
	}
	return out, nil
}

// markLoaded installs rooms (which may be nil) and sets the loaded flag.
func (s *Store) markLoaded(rooms []*Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = nil
	s.count = 0
	for _, r := range rooms {
		s.placeLocked(r)
	}
	s.uids.Rebuild(s.slots)
	s.loaded = true
}

// placeLocked stores a room in its id slot, growing the slot array.
// Caller must hold mu.
func (s *Store) placeLocked(r *Room) {
	if r == nil || r.ID < 0 {
		return
	}
	if r.WayTo == nil {
		r.WayTo = make(map[string]Way)
	}
	if r.TimeTo == nil {
		r.TimeTo = make(map[string]Cost)
	}
	for r.ID >= len(s.slots) {
		s.slots = append(s.slots, nil)
	}
	if s.slots[r.ID] == nil {
		s.count++
	}
	s.slots[r.ID] = r
}

// ensureLoaded lazily loads the store on first access. Load errors are
// already logged; lookups simply see an empty store.
func (s *Store) ensureLoaded() {
	s.loadMu.Lock()
	loaded := s.loaded
	s.loadMu.Unlock()
	if !loaded {
		_ = s.Load()
	}
}

// Loaded reports whether a load has completed (successfully or not).
func (s *Store) Loaded() bool {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.loaded
}

// Count returns the number of rooms in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// LookupByID returns the room with the given id.
//
// Postcondition: Returns (room, true) if found, or (nil, false).
func (s *Store) LookupByID(id int) (*Room, bool) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || id >= len(s.slots) || s.slots[id] == nil {
		return nil, false
	}
	return s.slots[id], true
}

// IDsForUID resolves a server uid through the UID index.
func (s *Store) IDsForUID(uid int) []int {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uids.IDsFor(uid)
}

// LookupByText resolves a textual room reference. A "u<digits>" reference
// resolves through the UID index (lowest id wins when ambiguous); an
// all-digits reference resolves as an id; anything else is matched
// case-insensitively against title variants, then description variants,
// then a loosened pattern treating internal ellipses and periods in the
// query as wildcards.
//
// Postcondition: Returns (room, true) if found, or (nil, false).
func (s *Store) LookupByText(query string) (*Room, bool) {
	s.ensureLoaded()

	if m := uidRefPattern.FindStringSubmatch(query); m != nil {
		uid, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, false
		}
		ids := s.IDsForUID(uid)
		if len(ids) == 0 {
			return nil, false
		}
		sort.Ints(ids)
		return s.LookupByID(ids[0])
	}

	if id, err := strconv.Atoi(query); err == nil {
		return s.LookupByID(id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(query)
	for _, r := range s.slots {
		if r == nil {
			continue
		}
		for _, t := range r.Title {
			if strings.ToLower(t) == lower {
				return r, true
			}
		}
	}
	for _, r := range s.slots {
		if r == nil {
			continue
		}
		for _, d := range r.Description {
			if strings.ToLower(d) == lower {
				return r, true
			}
		}
	}

	pattern, err := FuzzyPattern(query)
	if err != nil {
		return nil, false
	}
	for _, r := range s.slots {
		if r == nil {
			continue
		}
		for _, t := range r.Title {
			if pattern.MatchString(t) {
				return r, true
			}
		}
		for _, d := range r.Description {
			if pattern.MatchString(d) {
				return r, true
			}
		}
	}
	return nil, false
}

// FuzzyPattern builds the loosened, case-insensitive match pattern for a
// query: trailing periods are stripped and internal ellipses/periods
// become wildcards. The pattern is anchored at the start of the variant,
// so a fragment from the middle of a text cannot match. Used for both
// text lookup and fuzzy description matching during location resolution.
func FuzzyPattern(query string) (*regexp.Regexp, error) {
	trimmed := strings.TrimRight(query, ".")
	quoted := regexp.QuoteMeta(trimmed)
	quoted = strings.ReplaceAll(quoted, `\.\.\.`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\.`, `.*`)
	return regexp.Compile(`(?i)^` + quoted)
}

// ForEach calls fn for every room in ascending id order until fn returns
// false. The room collection must not be mutated by fn.
func (s *Store) ForEach(fn func(*Room) bool) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.slots {
		if r == nil {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

// Rooms returns the room list in ascending id order.
//
// Postcondition: Returns a fresh slice; the rooms themselves are shared.
func (s *Store) Rooms() []*Room {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Room, 0, s.count)
	for _, r := range s.slots {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// FreeID returns one greater than the maximum id currently present, for
// inserting a newly learned room.
//
// Postcondition: Returns an error on an empty store rather than inventing
// an id space.
func (s *Store) FreeID() (int, error) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.slots) - 1; i >= 0; i-- {
		if s.slots[i] != nil {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("cannot allocate a room id in an empty store")
}

// Insert adds a learned room to the store and feeds its uids to the UID
// index. Existing rooms are never displaced.
//
// Precondition: room.ID must be non-negative and unoccupied.
// Postcondition: Returns an error when the slot is already taken.
func (s *Store) Insert(room *Room) error {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	if room == nil || room.ID < 0 {
		return fmt.Errorf("invalid room")
	}
	if room.ID < len(s.slots) && s.slots[room.ID] != nil {
		return fmt.Errorf("room id %d already present", room.ID)
	}
	s.placeLocked(room)
	for _, uid := range room.UID {
		s.uids.Add(uid, room.ID)
	}
	return nil
}

// AddUID attaches a server uid to an existing room and indexes it.
func (s *Store) AddUID(roomID, uid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roomID < 0 || roomID >= len(s.slots) || s.slots[roomID] == nil {
		return
	}
	s.slots[roomID].AddUID(uid)
	s.uids.Add(uid, roomID)
}

// Clear discards all in-memory state and resets the loaded flag so the
// next access reloads from disk.
func (s *Store) Clear() {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	s.mu.Lock()
	s.slots = nil
	s.count = 0
	s.uids = NewUIDIndex()
	s.mu.Unlock()
	s.loaded = false
}

// Reload performs Clear followed by Load.
func (s *Store) Reload() error {
	s.Clear()
	return s.Load()
}
