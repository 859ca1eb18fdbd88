package atlas

// UIDIndex is a reverse mapping from a server-issued uid to the room ids
// that have been observed under it. The same uid can legitimately appear
// on several room records before they are reconciled, so the value is a
// list, not a single id.
//
// UIDIndex is not safe for concurrent use on its own; the Store serializes
// access to its index.
type UIDIndex struct {
	ids map[int][]int
}

// NewUIDIndex creates an empty index.
func NewUIDIndex() *UIDIndex {
	return &UIDIndex{ids: make(map[int][]int)}
}

// Add records roomID under uid, creating the list if absent and skipping
// duplicates. uid 0 is the reserved "no id" sentinel and is ignored.
func (x *UIDIndex) Add(uid, roomID int) {
	if uid == 0 {
		return
	}
	for _, id := range x.ids[uid] {
		if id == roomID {
			return
		}
	}
	x.ids[uid] = append(x.ids[uid], roomID)
}

// IDsFor returns the room ids observed under uid. The result is empty for
// uid 0 and for unknown uids. The returned slice is a copy.
func (x *UIDIndex) IDsFor(uid int) []int {
	if uid == 0 {
		return nil
	}
	ids := x.ids[uid]
	if len(ids) == 0 {
		return nil
	}
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// Rebuild clears the index and repopulates it from every room's uid list.
// Called after a fresh load.
func (x *UIDIndex) Rebuild(rooms []*Room) {
	x.ids = make(map[int][]int)
	for _, r := range rooms {
		if r == nil {
			continue
		}
		for _, uid := range r.UID {
			x.Add(uid, r.ID)
		}
	}
}
