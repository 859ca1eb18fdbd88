package atlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleMarkup = `<map>
  <room id="1" location="Wehnimer&apos;s Landing" climate="temperate" terrain="cobblestone">
    <title>[Town Square]</title>
    <title>[Town Square, Center]</title>
    <description>The heart of town &amp; crowded at all hours.</description>
    <paths>Obvious paths: north, east</paths>
    <tag>meeting</tag>
    <uid>1001</uid>
    <unique_loot>silver coin</unique_loot>
    <room_objects>a wooden bench</room_objects>
    <exit target="2" type="literal" cost="1">north</exit>
    <exit target="3" type="deferred" cost="ferry_time">ferry_command</exit>
    <exit target="4" type="literal">east</exit>
    <image name="town.png" coords="10,20,30,40"/>
  </room>
  <room id="2">
    <title>[North Gate]</title>
    <image name="gate.png" x="50" y="60" size="20"/>
  </room>
</map>
`

func TestMarkupParseDocument(t *testing.T) {
	rooms, err := DecodeMarkup([]byte(sampleMarkup), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	r := rooms[0]
	assert.Equal(t, 1, r.ID)
	assert.Equal(t, "Wehnimer's Landing", r.Location)
	assert.Equal(t, "temperate", r.Climate)
	assert.Equal(t, "cobblestone", r.Terrain)
	assert.Equal(t, []string{"[Town Square]", "[Town Square, Center]"}, r.Title)
	assert.Equal(t, []string{"The heart of town & crowded at all hours."}, r.Description)
	assert.Equal(t, []string{"Obvious paths: north, east"}, r.Paths)
	assert.Equal(t, []string{"meeting"}, r.Tags)
	assert.Equal(t, []int{1001}, r.UID)
	assert.Equal(t, []string{"silver coin"}, r.UniqueLoot)
	assert.Equal(t, []string{"a wooden bench"}, r.RoomObjects)

	assert.Equal(t, LiteralWay("north"), r.WayTo["2"])
	assert.Equal(t, LiteralCost(1), r.TimeTo["2"])
	assert.Equal(t, DeferredWay("ferry_command"), r.WayTo["3"])
	assert.Equal(t, DeferredCost("ferry_time"), r.TimeTo["3"])
	// Missing cost attribute defaults.
	assert.Equal(t, LiteralCost(DefaultEdgeCost), r.TimeTo["4"])

	assert.Equal(t, "town.png", r.Image)
	assert.Equal(t, []int{10, 20, 30, 40}, r.ImageCoords)

	// Legacy x/y/size form computes the bounding box.
	assert.Equal(t, "gate.png", rooms[1].Image)
	assert.Equal(t, []int{40, 50, 60, 70}, rooms[1].ImageCoords)
}

func TestMarkupByteAtATimeMatchesWholeBuffer(t *testing.T) {
	whole, err := DecodeMarkup([]byte(sampleMarkup), zap.NewNop())
	require.NoError(t, err)

	p := NewMarkupParser(zap.NewNop())
	for i := 0; i < len(sampleMarkup); i++ {
		require.NoError(t, p.Feed([]byte{sampleMarkup[i]}))
	}
	chunked, err := p.Finish()
	require.NoError(t, err)

	assert.Equal(t, whole, chunked)
}

func TestMarkupMissingEndTagIsFatal(t *testing.T) {
	doc := `<map><room id="1"><title>[Square]</title></room>`
	_, err := DecodeMarkup([]byte(doc), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing closing map tag")
}

func TestMarkupRoomMissingIDIsFatal(t *testing.T) {
	doc := `<map><room><title>[Square]</title></room></map>`
	_, err := DecodeMarkup([]byte(doc), zap.NewNop())
	assert.Error(t, err)
}

func TestMarkupSkipsBadUIDAndKeepsRoom(t *testing.T) {
	doc := `<map><room id="1"><uid>not-a-number</uid><uid>42</uid></room></map>`
	rooms, err := DecodeMarkup([]byte(doc), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, []int{42}, rooms[0].UID)
}

func TestMarkupIgnoresUnknownTags(t *testing.T) {
	doc := `<map><room id="1"><title>[Square]</title><sparkle level="9"/></room></map>`
	rooms, err := DecodeMarkup([]byte(doc), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, []string{"[Square]"}, rooms[0].Title)
}

func TestMarkupRoundTrip(t *testing.T) {
	original := testRooms()
	data, err := EncodeMarkup(original)
	require.NoError(t, err)

	decoded, err := DecodeMarkup(data, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestMarkupEscapesEntities(t *testing.T) {
	rooms := []*Room{{
		ID:          1,
		Title:       []string{`<"Fish & Chips">`},
		Description: []string{"The sign reads 'fresh'."},
		Location:    `Quay "A" & B`,
		WayTo:       map[string]Way{},
		TimeTo:      map[string]Cost{},
	}}
	data, err := EncodeMarkup(rooms)
	require.NoError(t, err)

	decoded, err := DecodeMarkup(data, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, rooms, decoded)
}

func TestMarkupSelfClosingExit(t *testing.T) {
	doc := `<map><room id="1"><exit target="2" type="literal" cost="3"/></room></map>`
	rooms, err := DecodeMarkup([]byte(doc), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, LiteralWay(""), rooms[0].WayTo["2"])
	assert.Equal(t, LiteralCost(3), rooms[0].TimeTo["2"])
}

func TestMarkupExitWithoutTargetIsSkipped(t *testing.T) {
	doc := `<map><room id="1"><exit type="literal" cost="3">north</exit></room></map>`
	rooms, err := DecodeMarkup([]byte(doc), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Empty(t, rooms[0].WayTo)
}
