package content

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// LineIndex maps between byte offsets and LSP positions (lines and UTF-16
// code units) for one immutable text.
type LineIndex struct {
	text   string
	starts []int
}

func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{text: text, starts: starts}
}

func (li *LineIndex) LineCount() int { return len(li.starts) }

// Line returns the line containing offset.
func (li *LineIndex) Line(offset int) int {
	offset = clamp(offset, 0, len(li.text))
	return sort.SearchInts(li.starts, offset+1) - 1
}

func (li *LineIndex) lineEnd(line int) int {
	if line+1 < len(li.starts) {
		return li.starts[line+1] - 1
	}
	return len(li.text)
}

// Offset converts an LSP position to a byte offset. Characters past the end
// of a line are clamped to the line end; lines past the end of the text are
// rejected.
func (li *LineIndex) Offset(pos protocol.Position) (int, bool) {
	line := int(pos.Line)
	if line >= len(li.starts) {
		return 0, false
	}
	start, end := li.starts[line], li.lineEnd(line)

	// Traverse runes in target line to match UTF-16 character count
	var units uint32
	offset := start
	for offset < end {
		r, size := utf8.DecodeRuneInString(li.text[offset:end])
		n := uint32(1)
		if r > 0xFFFF {
			n = 2
		}
		if units+n > pos.Character {
			break
		}
		units += n
		offset += size
	}
	return offset, true
}

// Position converts a byte offset to an LSP position.
func (li *LineIndex) Position(offset int) protocol.Position {
	offset = clamp(offset, 0, len(li.text))
	line := li.Line(offset)
	var units uint32
	for _, r := range li.text[li.starts[line]:offset] {
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
	}
	return protocol.Position{Line: uint32(line), Character: units}
}

func (li *LineIndex) Range(start, end int) protocol.Range {
	return protocol.Range{Start: li.Position(start), End: li.Position(end)}
}

// Point converts a byte offset to a tree-sitter point (row, byte column).
func (li *LineIndex) Point(offset int) sitter.Point {
	offset = clamp(offset, 0, len(li.text))
	line := li.Line(offset)
	return sitter.Point{Row: uint32(line), Column: uint32(offset - li.starts[line])}
}

// EditFor converts a range replacement into the byte-level edit record the
// syntax layer consumes. A nil range replaces the whole text.
func (li *LineIndex) EditFor(c Change) (sitter.EditInput, error) {
	start, end := 0, len(li.text)
	if c.Range != nil {
		var ok bool
		if start, ok = li.Offset(c.Range.Start); !ok {
			return sitter.EditInput{}, fmt.Errorf("%w: start %d:%d", ErrInvalidRange, c.Range.Start.Line, c.Range.Start.Character)
		}
		if end, ok = li.Offset(c.Range.End); !ok {
			return sitter.EditInput{}, fmt.Errorf("%w: end %d:%d", ErrInvalidRange, c.Range.End.Line, c.Range.End.Character)
		}
		if end < start {
			return sitter.EditInput{}, fmt.Errorf("%w: end before start", ErrInvalidRange)
		}
	}

	startPoint := li.Point(start)
	return sitter.EditInput{
		StartIndex:  uint32(start),
		OldEndIndex: uint32(end),
		NewEndIndex: uint32(start + len(c.Text)),
		StartPoint:  startPoint,
		OldEndPoint: li.Point(end),
		NewEndPoint: computeNewEndPoint(startPoint, c.Text),
	}, nil
}

// computeNewEndPoint computes the tree-sitter Point after inserting newText at startPoint.
func computeNewEndPoint(startPoint sitter.Point, newText string) sitter.Point {
	lines := strings.Split(newText, "\n")
	last := lines[len(lines)-1]
	row := startPoint.Row + uint32(len(lines)-1)
	col := uint32(len(last))
	if len(lines) == 1 {
		col += startPoint.Column
	}
	return sitter.Point{Row: row, Column: col}
}

// Splice applies a byte-level edit to text.
func Splice(text string, edit sitter.EditInput, insert string) string {
	return text[:edit.StartIndex] + insert + text[edit.OldEndIndex:]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
