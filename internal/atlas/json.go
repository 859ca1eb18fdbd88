package atlas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// roomJSONKeys is the closed set of keys a room object may carry. The
// original format accepted arbitrary extra keys silently; here they are
// flagged and discarded instead.
var roomJSONKeys = map[string]bool{
	"id": true, "title": true, "description": true, "paths": true,
	"uid": true, "wayto": true, "timeto": true, "tags": true,
	"location": true, "climate": true, "terrain": true, "image": true,
	"image_coords": true, "check_location": true, "unique_loot": true,
	"room_objects": true,
}

// MarshalJSON writes a literal way as its command string and a deferred
// way as the expression text behind the deferred marker.
func (w Way) MarshalJSON() ([]byte, error) {
	if w.IsDeferred() {
		return json.Marshal(DeferredMarker + " " + w.Expr)
	}
	return json.Marshal(w.Literal)
}

// UnmarshalJSON rehydrates a way: a string beginning with the deferred
// marker becomes a deferred command, anything else a literal.
func (w *Way) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("wayto value must be a string: %w", err)
	}
	if strings.HasPrefix(s, DeferredMarker) {
		*w = DeferredWay(strings.TrimLeft(strings.TrimPrefix(s, DeferredMarker), " "))
		return nil
	}
	*w = LiteralWay(s)
	return nil
}

// MarshalJSON writes a literal cost as a number and a deferred cost as the
// expression text behind the deferred marker.
func (c Cost) MarshalJSON() ([]byte, error) {
	if c.IsDeferred() {
		return json.Marshal(DeferredMarker + " " + c.Expr)
	}
	return json.Marshal(c.Seconds)
}

// UnmarshalJSON rehydrates a cost: a number is a literal, a string
// beginning with the deferred marker a deferred expression, and a bare
// numeric string a literal.
func (c *Cost) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*c = LiteralCost(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timeto value must be a number or string: %w", err)
	}
	if strings.HasPrefix(s, DeferredMarker) {
		*c = DeferredCost(strings.TrimLeft(strings.TrimPrefix(s, DeferredMarker), " "))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timeto string %q is neither deferred nor numeric", s)
	}
	*c = LiteralCost(f)
	return nil
}

// EncodeJSON marshals the room list as a pretty-printed JSON array.
// Empty-list and zero fields are omitted to keep documents compact.
func EncodeJSON(rooms []*Room) ([]byte, error) {
	data, err := json.MarshalIndent(rooms, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding map JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeJSON parses a JSON map document. The schema is closed: keys
// outside the room field set are logged as warnings and discarded.
//
// Postcondition: Returns the room list or a non-nil error; a partial
// result is never returned on error.
func DecodeJSON(data []byte, logger *zap.Logger) ([]*Room, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing map JSON: %w", err)
	}

	rooms := make([]*Room, 0, len(raw))
	for i, elem := range raw {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(elem, &keys); err != nil {
			return nil, fmt.Errorf("parsing map JSON room %d: %w", i, err)
		}
		var unknown []string
		for k := range keys {
			if !roomJSONKeys[k] {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			logger.Warn("discarding unknown keys in map JSON room",
				zap.Int("index", i),
				zap.Strings("keys", unknown),
			)
		}

		var room Room
		if err := json.Unmarshal(elem, &room); err != nil {
			return nil, fmt.Errorf("parsing map JSON room %d: %w", i, err)
		}
		if room.ID < 0 {
			return nil, fmt.Errorf("map JSON room %d: negative id %d", i, room.ID)
		}
		rooms = append(rooms, &room)
	}
	return rooms, nil
}
