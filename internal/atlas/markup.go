package atlas

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// textTags are the room child elements whose text content appends to the
// corresponding list field.
var textTags = map[string]bool{
	"title": true, "description": true, "paths": true, "tag": true,
	"uid": true, "unique_loot": true, "room_objects": true,
}

// escaper and unescaper handle the five entities of the markup format.
// Escaping must replace '&' first and unescaping must replace it last.
var (
	markupEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	markupUnescaper = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
		"&amp;", "&",
	)
)

// MarkupParser is a single-pass, non-DOM tokenizer over the tag-based map
// format. Input may arrive split at any byte boundary: the parser buffers
// incomplete lexical units and consumes them once complete, so feeding one
// byte at a time produces the same result as feeding the whole document.
type MarkupParser struct {
	logger *zap.Logger

	buf   []byte
	rooms []*Room
	cur   *Room

	textTag string
	text    bytes.Buffer
	exit    *markupExit

	sawMapOpen  bool
	sawMapClose bool
	err         error
}

// markupExit holds an <exit> tag's attributes until its closing tag
// supplies the command text.
type markupExit struct {
	target string
	kind   string
	cost   string
}

// NewMarkupParser creates a parser for one document.
//
// Precondition: logger must be non-nil.
func NewMarkupParser(logger *zap.Logger) *MarkupParser {
	return &MarkupParser{logger: logger}
}

// Feed consumes as much of chunk as forms complete lexical units; partial
// trailing data is buffered for the next call.
//
// Postcondition: Returns the first structural error encountered; once an
// error occurs the parser stays failed.
func (p *MarkupParser) Feed(chunk []byte) error {
	if p.err != nil {
		return p.err
	}
	p.buf = append(p.buf, chunk...)

	for len(p.buf) > 0 {
		if p.buf[0] == '<' {
			end := bytes.IndexByte(p.buf, '>')
			if end < 0 {
				return nil // tag incomplete, wait for more input
			}
			tag := string(p.buf[1:end])
			p.buf = p.buf[end+1:]
			if err := p.handleTag(tag); err != nil {
				p.err = err
				return err
			}
			continue
		}

		next := bytes.IndexByte(p.buf, '<')
		var run []byte
		if next < 0 {
			run = p.buf
			p.buf = nil
		} else {
			run = p.buf[:next]
			p.buf = p.buf[next:]
		}
		if p.textTag != "" {
			p.text.Write(run)
		}
	}
	return nil
}

// Finish signals end of input.
//
// Postcondition: Returns the parsed rooms, or an error when the document
// opened a map element without closing it.
func (p *MarkupParser) Finish() ([]*Room, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.sawMapOpen && !p.sawMapClose {
		p.err = fmt.Errorf("markup document missing closing map tag")
		return nil, p.err
	}
	return p.rooms, nil
}

// handleTag dispatches one complete tag.
func (p *MarkupParser) handleTag(tag string) error {
	closing := strings.HasPrefix(tag, "/")
	if closing {
		return p.handleClose(strings.TrimSpace(tag[1:]))
	}

	selfClosing := strings.HasSuffix(tag, "/")
	if selfClosing {
		tag = strings.TrimSuffix(tag, "/")
	}
	name, attrs := parseTagAttrs(tag)

	switch {
	case name == "map" && p.cur == nil:
		p.sawMapOpen = true
	case name == "room":
		idText, ok := attrs["id"]
		if !ok {
			return fmt.Errorf("room tag missing id attribute")
		}
		id, err := strconv.Atoi(idText)
		if err != nil || id < 0 {
			return fmt.Errorf("room tag has invalid id %q", idText)
		}
		p.cur = &Room{
			ID:            id,
			Location:      attrs["location"],
			Climate:       attrs["climate"],
			Terrain:       attrs["terrain"],
			CheckLocation: attrs["check_location"] == "true",
			WayTo:         make(map[string]Way),
			TimeTo:        make(map[string]Cost),
		}
	case p.cur == nil:
		// Content outside a room record is ignored.
	case textTags[name]:
		p.textTag = name
		p.text.Reset()
	case name == "exit":
		p.exit = &markupExit{
			target: attrs["target"],
			kind:   attrs["type"],
			cost:   attrs["cost"],
		}
		p.textTag = "exit"
		p.text.Reset()
		if selfClosing {
			p.flushExit()
		}
	case name == "image":
		p.applyImage(attrs)
	default:
		p.logger.Debug("ignoring unknown markup tag", zap.String("tag", name))
	}
	return nil
}

// handleClose dispatches one closing tag.
func (p *MarkupParser) handleClose(name string) error {
	switch {
	case name == "map":
		p.sawMapClose = true
	case name == "room":
		if p.cur != nil {
			p.rooms = append(p.rooms, p.cur)
			p.cur = nil
		}
		p.textTag = ""
		p.exit = nil
	case name == "exit" && p.exit != nil:
		p.flushExit()
	case textTags[name] && p.textTag == name:
		p.flushText(name)
	}
	return nil
}

// flushText appends the collected text content to the matching list field.
func (p *MarkupParser) flushText(name string) {
	content := markupUnescaper.Replace(p.text.String())
	p.textTag = ""
	p.text.Reset()
	if p.cur == nil {
		return
	}
	switch name {
	case "title":
		p.cur.Title = append(p.cur.Title, content)
	case "description":
		p.cur.Description = append(p.cur.Description, content)
	case "paths":
		p.cur.Paths = append(p.cur.Paths, content)
	case "tag":
		p.cur.Tags = append(p.cur.Tags, content)
	case "unique_loot":
		p.cur.UniqueLoot = append(p.cur.UniqueLoot, content)
	case "room_objects":
		p.cur.RoomObjects = append(p.cur.RoomObjects, content)
	case "uid":
		uid, err := strconv.Atoi(strings.TrimSpace(content))
		if err != nil {
			p.logger.Warn("skipping unparseable uid in markup",
				zap.Int("room", p.cur.ID),
				zap.String("text", content),
			)
			return
		}
		p.cur.AddUID(uid)
	}
}

// flushExit finalizes a pending exit: the collected text is the movement
// command; the cost attribute is a float if numeric, a deferred expression
// otherwise, or DefaultEdgeCost when absent.
func (p *MarkupParser) flushExit() {
	exit := p.exit
	command := markupUnescaper.Replace(p.text.String())
	p.exit = nil
	p.textTag = ""
	p.text.Reset()
	if p.cur == nil || exit == nil {
		return
	}
	if exit.target == "" {
		p.logger.Warn("skipping exit without target in markup",
			zap.Int("room", p.cur.ID),
		)
		return
	}

	if exit.kind == "deferred" {
		p.cur.WayTo[exit.target] = DeferredWay(command)
	} else {
		p.cur.WayTo[exit.target] = LiteralWay(command)
	}

	switch {
	case exit.cost == "":
		p.cur.TimeTo[exit.target] = LiteralCost(DefaultEdgeCost)
	default:
		if f, err := strconv.ParseFloat(exit.cost, 64); err == nil {
			p.cur.TimeTo[exit.target] = LiteralCost(f)
		} else {
			p.cur.TimeTo[exit.target] = DeferredCost(exit.cost)
		}
	}
}

// applyImage records the room art reference and its bounding box, either
// from an explicit coords attribute or from the legacy x/y/size form.
func (p *MarkupParser) applyImage(attrs map[string]string) {
	if name, ok := attrs["name"]; ok {
		p.cur.Image = name
	}
	if coords, ok := attrs["coords"]; ok {
		parts := strings.Split(coords, ",")
		if len(parts) != 4 {
			p.logger.Warn("skipping malformed image coords in markup",
				zap.Int("room", p.cur.ID),
				zap.String("coords", coords),
			)
			return
		}
		box := make([]int, 4)
		for i, part := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				p.logger.Warn("skipping malformed image coords in markup",
					zap.Int("room", p.cur.ID),
					zap.String("coords", coords),
				)
				return
			}
			box[i] = v
		}
		p.cur.ImageCoords = box
		return
	}

	x, errX := strconv.Atoi(attrs["x"])
	y, errY := strconv.Atoi(attrs["y"])
	size, errS := strconv.Atoi(attrs["size"])
	if errX != nil || errY != nil || errS != nil {
		return
	}
	p.cur.ImageCoords = []int{x - size/2, y - size/2, x + size/2, y + size/2}
}

// parseTagAttrs splits a tag body into its name and attribute map.
// Attribute values may be double- or single-quoted and are unescaped for
// the five markup entities.
func parseTagAttrs(tag string) (string, map[string]string) {
	tag = strings.TrimSpace(tag)
	name := tag
	rest := ""
	if i := strings.IndexAny(tag, " \t\n\r"); i >= 0 {
		name = tag[:i]
		rest = tag[i+1:]
	}

	attrs := make(map[string]string)
	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " \t\n\r")
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]
		if len(rest) == 0 {
			break
		}
		quote := rest[0]
		if quote != '"' && quote != '\'' {
			break
		}
		rest = rest[1:]
		end := strings.IndexByte(rest, quote)
		if end < 0 {
			break
		}
		attrs[key] = markupUnescaper.Replace(rest[:end])
		rest = rest[end+1:]
	}
	return name, attrs
}

// DecodeMarkup parses a complete markup document from memory.
func DecodeMarkup(data []byte, logger *zap.Logger) ([]*Room, error) {
	p := NewMarkupParser(logger)
	if err := p.Feed(data); err != nil {
		return nil, err
	}
	return p.Finish()
}

// EncodeMarkup writes the room list in the markup format. Exits are
// emitted in ascending destination order for deterministic output.
func EncodeMarkup(rooms []*Room) ([]byte, error) {
	var b strings.Builder
	b.WriteString("<map>\n")
	for _, r := range rooms {
		if r == nil {
			continue
		}
		b.WriteString(fmt.Sprintf("  <room id=%q", strconv.Itoa(r.ID)))
		writeAttr(&b, "location", r.Location)
		writeAttr(&b, "climate", r.Climate)
		writeAttr(&b, "terrain", r.Terrain)
		if r.CheckLocation {
			writeAttr(&b, "check_location", "true")
		}
		b.WriteString(">\n")

		writeTextTags(&b, "title", r.Title)
		writeTextTags(&b, "description", r.Description)
		writeTextTags(&b, "paths", r.Paths)
		writeTextTags(&b, "tag", r.Tags)
		for _, uid := range r.UID {
			b.WriteString("    <uid>" + strconv.Itoa(uid) + "</uid>\n")
		}
		writeTextTags(&b, "unique_loot", r.UniqueLoot)
		writeTextTags(&b, "room_objects", r.RoomObjects)

		for _, target := range sortedWayKeys(r.WayTo) {
			way := r.WayTo[target]
			kind := "literal"
			command := way.Literal
			if way.IsDeferred() {
				kind = "deferred"
				command = way.Expr
			}
			cost := ""
			if c, ok := r.TimeTo[target]; ok {
				if c.IsDeferred() {
					cost = c.Expr
				} else {
					cost = strconv.FormatFloat(c.Seconds, 'g', -1, 64)
				}
			}
			b.WriteString("    <exit target=\"" + markupEscaper.Replace(target) + "\"")
			writeAttr(&b, "type", kind)
			writeAttr(&b, "cost", cost)
			b.WriteString(">" + markupEscaper.Replace(command) + "</exit>\n")
		}

		if r.Image != "" || len(r.ImageCoords) == 4 {
			b.WriteString("    <image")
			writeAttr(&b, "name", r.Image)
			if len(r.ImageCoords) == 4 {
				coords := make([]string, 4)
				for i, v := range r.ImageCoords {
					coords[i] = strconv.Itoa(v)
				}
				writeAttr(&b, "coords", strings.Join(coords, ","))
			}
			b.WriteString("/>\n")
		}

		b.WriteString("  </room>\n")
	}
	b.WriteString("</map>\n")
	return []byte(b.String()), nil
}

func writeAttr(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(" " + key + "=\"" + markupEscaper.Replace(value) + "\"")
}

func writeTextTags(b *strings.Builder, tag string, values []string) {
	for _, v := range values {
		b.WriteString("    <" + tag + ">" + markupEscaper.Replace(v) + "</" + tag + ">\n")
	}
}

func sortedWayKeys(wayto map[string]Way) []string {
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
