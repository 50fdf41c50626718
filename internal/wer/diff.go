package wer

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// DiffWord is one word of a side-by-side diff, tagged with how it aligned.
type DiffWord struct {
	Word string `json:"word"`
	Kind OpKind `json:"type"`
}

// Diff splits an alignment into the reference and hypothesis views.
// Deleted words appear only on the reference side and inserted words only on
// the hypothesis side.
func Diff(a Alignment) (ref, hyp []DiffWord) {
	ref = make([]DiffWord, 0, len(a))
	hyp = make([]DiffWord, 0, len(a))
	for _, op := range a {
		switch op.Kind {
		case Deletion:
			ref = append(ref, DiffWord{Word: op.Ref, Kind: op.Kind})
		case Insertion:
			hyp = append(hyp, DiffWord{Word: op.Hyp, Kind: op.Kind})
		default:
			ref = append(ref, DiffWord{Word: op.Ref, Kind: op.Kind})
			hyp = append(hyp, DiffWord{Word: op.Hyp, Kind: op.Kind})
		}
	}
	return ref, hyp
}

// Class is the presentation label for an op kind.
func Class(k OpKind) string {
	switch k {
	case Substitution:
		return "changed"
	case Deletion:
		return "removed"
	case Insertion:
		return "added"
	default:
		return "neutral"
	}
}

// Style selects how Render marks edited words.
type Style int

const (
	StylePlain Style = iota
	StyleANSI
)

// Terminal palette: substitutions yellow, deletions red and struck through,
// insertions green.
const (
	colorChanged = lipgloss.Color("3")
	colorRemoved = lipgloss.Color("1")
	colorAdded   = lipgloss.Color("2")
)

// Render writes the words separated by spaces, marking edits according to
// style. Plain style uses (sub), [-del-] and {+ins+}. StyleANSI colors words
// for the terminal behind w; when w is not a terminal or NO_COLOR is set it
// falls back to the plain markers.
func Render(w io.Writer, words []DiffWord, style Style) error {
	return render(w, lipgloss.NewRenderer(w), words, style)
}

func render(w io.Writer, r *lipgloss.Renderer, words []DiffWord, style Style) error {
	mark := plainMark
	if style == StyleANSI && r.ColorProfile() != termenv.Ascii {
		mark = newPalette(r).mark
	}
	for i, dw := range words {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, mark(dw)); err != nil {
			return err
		}
	}
	return nil
}

type palette struct {
	changed, removed, added lipgloss.Style
}

func newPalette(r *lipgloss.Renderer) palette {
	return palette{
		changed: r.NewStyle().Foreground(colorChanged),
		removed: r.NewStyle().Foreground(colorRemoved).Strikethrough(true),
		added:   r.NewStyle().Foreground(colorAdded),
	}
}

func (p palette) mark(dw DiffWord) string {
	switch dw.Kind {
	case Substitution:
		return p.changed.Render(dw.Word)
	case Deletion:
		return p.removed.Render(dw.Word)
	case Insertion:
		return p.added.Render(dw.Word)
	}
	return dw.Word
}

func plainMark(dw DiffWord) string {
	switch dw.Kind {
	case Substitution:
		return fmt.Sprintf("(%s)", dw.Word)
	case Deletion:
		return fmt.Sprintf("[-%s-]", dw.Word)
	case Insertion:
		return fmt.Sprintf("{+%s+}", dw.Word)
	}
	return dw.Word
}
