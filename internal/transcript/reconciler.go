// Package transcript merges streams of interim and final transcript
// fragments into a single growing text buffer.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ProvisionalMarker trails the rendered view while an utterance run is
// open. It is presentation-only and never enters the committed buffer.
const ProvisionalMarker = "…"

// Fragment is one unit of transcribed text. Sequence numbers are
// assigned by the receiving side in arrival order and only ever grow.
type Fragment struct {
	Text  string
	Final bool
	Seq   int64
}

// sentence boundaries recognized when locating replaceable tail text
var boundaries = []string{". ", "! ", "? "}

// Reconciler folds fragments into a committed buffer plus at most one
// open provisional run. It is not safe for concurrent use; the session
// event loop owns it.
type Reconciler struct {
	committed string
	pending   string

	runOpen     bool
	replaceFrom int // start of the replaceable region while a run is open

	lastSeq int64
}

// NewReconciler returns an empty reconciler. Seed text (for example a
// buffer the user already edited) can be installed with SetCommitted.
func NewReconciler() *Reconciler {
	return &Reconciler{lastSeq: -1}
}

// Apply folds one fragment into the buffer. It reports whether the
// buffer changed: duplicate sequence numbers are dropped, so applying
// the same final twice is a no-op.
func (r *Reconciler) Apply(frag Fragment) bool {
	if frag.Seq <= r.lastSeq {
		return false
	}
	r.lastSeq = frag.Seq

	if frag.Final {
		return r.applyFinal(frag.Text)
	}
	return r.applyInterim(frag.Text)
}

func (r *Reconciler) applyInterim(text string) bool {
	text = strings.TrimSpace(text)
	if !r.runOpen {
		// first fragment of a new utterance attaches after everything
		// already committed
		r.runOpen = true
		r.replaceFrom = len(r.committed)
		r.pending = text
		return true
	}
	// later interims revise the current utterance: everything after the
	// last complete sentence of the committed buffer is replaceable, so
	// re-spoken tail words are not shown twice
	changed := false
	if idx := lastBoundary(r.committed); idx >= 0 && idx != r.replaceFrom {
		r.replaceFrom = idx
		changed = true
	}
	if r.pending != text {
		r.pending = text
		changed = true
	}
	return changed
}

func (r *Reconciler) applyFinal(text string) bool {
	text = strings.TrimSpace(text)
	defer func() {
		r.pending = ""
		r.runOpen = false
		r.replaceFrom = len(r.committed)
	}()
	if text == "" {
		return r.pending != ""
	}
	if r.runOpen {
		// a final that re-speaks the replaceable tail would duplicate it
		// on append; trim the overlap instead of rewriting history
		text = trimOverlap(r.committed[r.replaceFrom:], text)
		if text == "" {
			return r.pending != ""
		}
	}
	r.committed = Join(r.committed, text)
	return true
}

// Committed returns the durable buffer: no provisional text, no marker.
func (r *Reconciler) Committed() string { return r.committed }

// Pending returns the open run's provisional text, or "".
func (r *Reconciler) Pending() string {
	if !r.runOpen {
		return ""
	}
	return r.pending
}

// RunOpen reports whether an utterance run is currently open.
func (r *Reconciler) RunOpen() bool { return r.runOpen }

// View renders the externally visible buffer. While a run is open the
// replaceable tail of the committed text is masked by the provisional
// text, and the provisional marker is appended.
func (r *Reconciler) View() string {
	if !r.runOpen || r.pending == "" {
		return r.committed
	}
	prefix := r.committed[:r.replaceFrom]
	return Join(prefix, r.pending) + ProvisionalMarker
}

// Finalize promotes any provisional text to the committed buffer and
// closes the run, returning the result. Used when a session stops
// before the service finalizes the last utterance; the promoted text
// goes through the same overlap trimming as a real final.
func (r *Reconciler) Finalize() string {
	if r.runOpen && r.pending != "" {
		r.applyFinal(r.pending)
	}
	return r.committed
}

// SetCommitted installs externally edited text as the committed buffer
// and closes any open run. Manual edits are never revised afterwards.
func (r *Reconciler) SetCommitted(text string) {
	r.committed = text
	r.pending = ""
	r.runOpen = false
	r.replaceFrom = len(r.committed)
}

// Reset clears all text and sequence state.
func (r *Reconciler) Reset() {
	r.committed = ""
	r.pending = ""
	r.runOpen = false
	r.replaceFrom = 0
	r.lastSeq = -1
}

// lastBoundary returns the index just past the last sentence-terminal
// punctuation-plus-space in s, or -1.
func lastBoundary(s string) int {
	best := -1
	for _, b := range boundaries {
		if idx := strings.LastIndex(s, b); idx >= 0 && idx+len(b) > best {
			best = idx + len(b)
		}
	}
	return best
}

// Join appends text onto buf with the final-fragment separator rule: a
// single space unless buf is empty or already ends in whitespace. Empty
// text leaves buf unchanged.
func Join(buf, text string) string {
	if text == "" {
		return buf
	}
	if buf == "" {
		return text
	}
	if r, _ := utf8.DecodeLastRuneInString(buf); unicode.IsSpace(r) {
		return buf + text
	}
	return buf + " " + text
}

// trimOverlap removes from text the leading portion that re-speaks
// tail, comparing case-insensitively on words.
func trimOverlap(tail, text string) string {
	tw := strings.Fields(strings.ToLower(tail))
	if len(tw) == 0 {
		return text
	}
	xw := strings.Fields(text)
	if len(xw) < len(tw) {
		return text
	}
	for i, w := range tw {
		if strings.ToLower(stripTrailingPunct(xw[i])) != stripTrailingPunct(w) {
			return text
		}
	}
	return strings.TrimSpace(strings.Join(xw[len(tw):], " "))
}

func stripTrailingPunct(w string) string {
	return strings.TrimRightFunc(w, func(r rune) bool {
		return unicode.IsPunct(r)
	})
}
