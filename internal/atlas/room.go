// Package atlas provides the room-graph map model: rooms, the UID index,
// the graph store, and the three-format codec (JSON, binary snapshot,
// streaming markup).
package atlas

import (
	"fmt"
	"strconv"
)

// DeferredMarker is the two-character prefix that marks a serialized
// wayto/timeto string value as a deferred expression rather than a literal.
const DeferredMarker = ";e"

// DefaultEdgeCost is the traversal cost in seconds assumed for a wayto
// entry that has no matching timeto entry.
const DefaultEdgeCost = 0.2

// Evaluator executes deferred expressions on behalf of the engine. The
// engine itself never runs expression text; the embedding application
// injects an implementation (see internal/scripting).
type Evaluator interface {
	// EvalCommand evaluates a deferred movement command expression and
	// returns the command string to issue.
	EvalCommand(expr string) (string, error)
	// EvalCost evaluates a deferred cost expression and returns the
	// traversal cost in seconds.
	EvalCost(expr string) (float64, error)
}

// Way is a movement command attached to an exit: either a literal command
// string or a deferred expression evaluated at traversal time.
type Way struct {
	// Literal is the command to issue. Ignored when Expr is non-empty.
	Literal string
	// Expr is the deferred expression text. Empty means literal.
	Expr string
}

// LiteralWay returns a literal movement command.
func LiteralWay(cmd string) Way { return Way{Literal: cmd} }

// DeferredWay returns a deferred movement command.
func DeferredWay(expr string) Way { return Way{Expr: expr} }

// IsDeferred reports whether the command must be evaluated at traversal time.
func (w Way) IsDeferred() bool { return w.Expr != "" }

// Command resolves the movement command, evaluating deferred expressions
// through ev.
//
// Precondition: ev must be non-nil when the way is deferred.
// Postcondition: Returns the command string or a non-nil error.
func (w Way) Command(ev Evaluator) (string, error) {
	if !w.IsDeferred() {
		return w.Literal, nil
	}
	if ev == nil {
		return "", fmt.Errorf("deferred command requires an evaluator")
	}
	return ev.EvalCommand(w.Expr)
}

// Cost is a traversal cost attached to an exit: either literal seconds or
// a deferred expression evaluated at traversal time.
type Cost struct {
	// Seconds is the literal cost. Ignored when Expr is non-empty.
	Seconds float64
	// Expr is the deferred expression text. Empty means literal.
	Expr string
}

// LiteralCost returns a literal cost in seconds.
func LiteralCost(seconds float64) Cost { return Cost{Seconds: seconds} }

// DeferredCost returns a deferred cost.
func DeferredCost(expr string) Cost { return Cost{Expr: expr} }

// IsDeferred reports whether the cost must be evaluated at traversal time.
func (c Cost) IsDeferred() bool { return c.Expr != "" }

// Value resolves the cost in seconds, evaluating deferred expressions
// through ev.
//
// Precondition: ev must be non-nil when the cost is deferred.
// Postcondition: Returns the cost or a non-nil error.
func (c Cost) Value(ev Evaluator) (float64, error) {
	if !c.IsDeferred() {
		return c.Seconds, nil
	}
	if ev == nil {
		return 0, fmt.Errorf("deferred cost requires an evaluator")
	}
	return ev.EvalCost(c.Expr)
}

// Room is one node in the world graph. Text fields are lists because the
// game rewords titles, descriptions, and exit lines for the same physical
// room over time; every observed variant is retained.
type Room struct {
	// ID is the dense, non-negative primary key. Stable once assigned.
	ID int `json:"id"`
	// Title holds every observed title variant.
	Title []string `json:"title,omitempty"`
	// Description holds every observed description variant.
	Description []string `json:"description,omitempty"`
	// Paths holds every observed exits-line variant.
	Paths []string `json:"paths,omitempty"`
	// UID holds server-issued stable identifiers. Append-only; a room may
	// collect several as the server reassigns ids.
	UID []int `json:"uid,omitempty"`
	// WayTo maps a destination room id (decimal string key) to the
	// movement command reaching it.
	WayTo map[string]Way `json:"wayto,omitempty"`
	// TimeTo maps a destination room id to the traversal cost. Every
	// WayTo key should have one; DefaultEdgeCost is assumed when absent.
	TimeTo map[string]Cost `json:"timeto,omitempty"`
	// Tags are labels for category queries ("bank", "shop", ...).
	Tags []string `json:"tags,omitempty"`

	// Descriptive metadata with no algorithmic role.
	Location      string   `json:"location,omitempty"`
	Climate       string   `json:"climate,omitempty"`
	Terrain       string   `json:"terrain,omitempty"`
	Image         string   `json:"image,omitempty"`
	ImageCoords   []int    `json:"image_coords,omitempty"`
	CheckLocation bool     `json:"check_location,omitempty"`
	UniqueLoot    []string `json:"unique_loot,omitempty"`
	RoomObjects   []string `json:"room_objects,omitempty"`
}

// HasUID reports whether uid is among the room's known server identifiers.
func (r *Room) HasUID(uid int) bool {
	for _, u := range r.UID {
		if u == uid {
			return true
		}
	}
	return false
}

// AddUID appends uid to the room's identifier list if not already present.
// uid 0 is the reserved "no id" sentinel and is ignored.
func (r *Room) AddUID(uid int) {
	if uid == 0 || r.HasUID(uid) {
		return
	}
	r.UID = append(r.UID, uid)
}

// HasTag reports whether the room carries the given tag.
func (r *Room) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasTitle reports whether title is among the room's known title variants.
func (r *Room) HasTitle(title string) bool {
	return containsString(r.Title, title)
}

// HasDescription reports whether desc is among the room's known
// description variants.
func (r *Room) HasDescription(desc string) bool {
	return containsString(r.Description, desc)
}

// HasPaths reports whether exits is among the room's known exits-line
// variants.
func (r *Room) HasPaths(exits string) bool {
	return containsString(r.Paths, exits)
}

// WayToID returns the movement command toward the given destination id.
//
// Postcondition: Returns (way, true) if an exit exists, or (Way{}, false).
func (r *Room) WayToID(dest int) (Way, bool) {
	w, ok := r.WayTo[strconv.Itoa(dest)]
	return w, ok
}

// CostToID returns the traversal cost toward the given destination id,
// or DefaultEdgeCost when the exit exists without a timeto entry.
//
// Postcondition: Returns (cost, true) if an exit exists, or (Cost{}, false).
func (r *Room) CostToID(dest int) (Cost, bool) {
	key := strconv.Itoa(dest)
	if _, ok := r.WayTo[key]; !ok {
		return Cost{}, false
	}
	if c, ok := r.TimeTo[key]; ok {
		return c, true
	}
	return LiteralCost(DefaultEdgeCost), true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
