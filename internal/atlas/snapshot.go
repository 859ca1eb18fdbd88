package atlas

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// snapshot is the binary map database: the whole room list plus the time
// it was written, serialized with Go's native object-graph encoder.
type snapshot struct {
	Rooms   []*Room
	SavedAt time.Time
}

// EncodeSnapshot marshals the room list as a binary snapshot blob.
func EncodeSnapshot(rooms []*Room) ([]byte, error) {
	var buf bytes.Buffer
	snap := snapshot{Rooms: rooms, SavedAt: time.Now()}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encoding map snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a binary snapshot blob. Decoding happens into
// fresh memory, so a failure never corrupts an existing room collection.
//
// Postcondition: Returns the room list and save timestamp, or a non-nil
// error.
func DecodeSnapshot(data []byte) ([]*Room, time.Time, error) {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding map snapshot: %w", err)
	}
	return snap.Rooms, snap.SavedAt, nil
}
