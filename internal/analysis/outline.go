package analysis

import (
	"sort"

	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/memo"
)

type OutlineKind int

const (
	OutlineHeading OutlineKind = iota
	OutlineFunction
	OutlineVariable
	OutlineModule
	OutlineLabel
)

// OutlineItem is one entry of the document outline. Start and End cover
// the whole section for headings; Name spans the title or the name.
type OutlineItem struct {
	Name               string
	Kind               OutlineKind
	Start, End         int
	NameStart, NameEnd int
	Children           []*OutlineItem
}

// Outline nests headings by level. File-level bindings and labels go under
// the heading whose section contains them.
func (a *Analyzer) Outline(fr *memo.Frame, uri content.URI) ([]*OutlineItem, error) {
	m, err := a.Scopes(fr, uri)
	if err != nil {
		return nil, err
	}

	var entries []*OutlineItem
	levels := map[*OutlineItem]int{}
	for _, h := range m.Headings {
		it := &OutlineItem{Name: h.Title, Kind: OutlineHeading, Start: h.Start, End: m.Length, NameStart: h.Start, NameEnd: h.End}
		levels[it] = h.Level
		entries = append(entries, it)
	}
	for i := range m.Symbols {
		s := &m.Symbols[i]
		if s.Scope != 0 {
			continue
		}
		kind := OutlineVariable
		switch s.Kind {
		case Function:
			kind = OutlineFunction
		case Module:
			kind = OutlineModule
		case LabelSymbol:
			kind = OutlineLabel
		case Variable:
		default:
			continue
		}
		entries = append(entries, &OutlineItem{Name: s.Name, Kind: kind, Start: s.Start, End: s.End, NameStart: s.Start, NameEnd: s.End})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })

	var roots []*OutlineItem
	var stack []*OutlineItem
	for _, it := range entries {
		if it.Kind == OutlineHeading {
			for len(stack) > 0 && levels[stack[len(stack)-1]] >= levels[it] {
				stack[len(stack)-1].End = it.Start
				stack = stack[:len(stack)-1]
			}
		}
		if len(stack) == 0 {
			roots = append(roots, it)
		} else {
			top := stack[len(stack)-1]
			top.Children = append(top.Children, it)
		}
		if it.Kind == OutlineHeading {
			stack = append(stack, it)
		}
	}
	return roots, nil
}
