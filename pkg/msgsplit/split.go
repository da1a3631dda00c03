// Package msgsplit splits long formatted text into platform-safe chunks.
//
// Chunks never cut inside a UTF-8 code point or a user-visible grapheme
// cluster (flag emoji, skin-tone sequences, combining marks), and the
// concatenation of all chunks reproduces the input byte for byte.
package msgsplit

import (
	"strings"

	"github.com/rivo/uniseg"
)

// TelegramMaxBytes is Telegram's message payload limit.
const TelegramMaxBytes = 4096

// DefaultLookBack is how far back (in bytes) Split searches for a natural
// boundary before falling back to a hard grapheme cut.
const DefaultLookBack = 256

// Options tunes Split for non-default platforms.
type Options struct {
	MaxBytes int // chunk size limit; default TelegramMaxBytes
	LookBack int // natural-boundary search window; default DefaultLookBack
}

// Split cuts text into ordered chunks of at most maxBytes bytes using the
// default look-back window. Empty input yields a nil slice.
func Split(text string, maxBytes int) []string {
	return SplitOpts(text, Options{MaxBytes: maxBytes})
}

// SplitOpts is Split with an explicit look-back window.
//
// Boundary preference within the window, best first: paragraph break,
// line break, sentence end, word gap. When none exists the cut lands on the
// last grapheme boundary that fits.
func SplitOpts(text string, opt Options) []string {
	maxBytes := opt.MaxBytes
	if maxBytes <= 0 {
		maxBytes = TelegramMaxBytes
	}
	lookBack := opt.LookBack
	if lookBack <= 0 {
		lookBack = DefaultLookBack
	}
	if lookBack > maxBytes {
		lookBack = maxBytes
	}

	if text == "" {
		return nil
	}

	var chunks []string
	rest := text
	for len(rest) > 0 {
		if len(rest) <= maxBytes {
			chunks = append(chunks, rest)
			break
		}
		cut := cutPoint(rest, maxBytes, lookBack)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	return chunks
}

// cutPoint returns the byte offset to split rest at: the best natural boundary
// within the look-back window, else the furthest grapheme boundary <= maxBytes.
func cutPoint(rest string, maxBytes, lookBack int) int {
	var (
		hard     int // furthest grapheme boundary that fits
		para     int // after "\n\n"
		line     int // after "\n"
		sentence int // after ". ", "! ", "? ", "… "
		word     int // after a space
	)

	state := -1
	pos := 0
	prev := ""
	remaining := rest
	for len(remaining) > 0 {
		cluster, tail, _, newState := uniseg.FirstGraphemeClusterInString(remaining, state)
		next := pos + len(cluster)
		if next > maxBytes {
			break
		}
		hard = next

		switch {
		case cluster == "\n" && prev == "\n":
			para = next
		case cluster == "\n" || cluster == "\r\n":
			line = next
		case cluster == " ":
			if isSentenceEnd(prev) {
				sentence = next
			} else {
				word = next
			}
		}

		prev = cluster
		pos = next
		remaining = tail
		state = newState
	}

	if hard == 0 {
		// A single grapheme cluster wider than maxBytes. Never cut inside a
		// code point: back off to the last rune boundary that fits, or emit
		// the first whole rune when even that is too wide.
		return runeCut(rest, maxBytes)
	}

	win := hard - lookBack
	for _, b := range []int{para, line, sentence, word} {
		if b > 0 && b >= win {
			return b
		}
	}
	return hard
}

func isSentenceEnd(cluster string) bool {
	switch cluster {
	case ".", "!", "?", "…":
		return true
	}
	return false
}

func runeCut(s string, maxBytes int) int {
	cut := 0
	for i, r := range s {
		next := i + len(string(r))
		if next > maxBytes && cut > 0 {
			break
		}
		cut = next
		if cut >= maxBytes {
			break
		}
	}
	return cut
}

// Join is the inverse of Split; it exists to make the round-trip contract
// explicit at call sites.
func Join(chunks []string) string {
	return strings.Join(chunks, "")
}
