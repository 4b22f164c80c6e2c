// Package stream renders an incrementally produced reply as a Telegram
// message that is edited in place as content arrives, throttled so the
// Telegram API is not flooded.
package stream

// MessageLengthCap is the Telegram hard limit on message text length.
const MessageLengthCap = 4096

// Breakpoint maps a content length to the edit cutoff used beyond it.
type Breakpoint struct {
	MinLen int
	Cutoff int
}

// Policy controls how often the presenter edits the in-flight message. The
// cutoff is the number of new runes that must accumulate since the last edit
// before another edit is issued; it grows with content length, and group
// chats use larger cutoffs than private chats.
type Policy struct {
	Group       []Breakpoint
	Private     []Breakpoint
	LengthCap   int
	BackoffStep int
}

// DefaultPolicy returns the stock edit throttling tables.
func DefaultPolicy() Policy {
	return Policy{
		Group: []Breakpoint{
			{MinLen: 1000, Cutoff: 180},
			{MinLen: 200, Cutoff: 120},
			{MinLen: 50, Cutoff: 90},
			{MinLen: 0, Cutoff: 50},
		},
		Private: []Breakpoint{
			{MinLen: 1000, Cutoff: 90},
			{MinLen: 200, Cutoff: 45},
			{MinLen: 50, Cutoff: 25},
			{MinLen: 0, Cutoff: 15},
		},
		LengthCap:   MessageLengthCap,
		BackoffStep: 5,
	}
}

// CutoffFor returns the edit cutoff for the given content length. Breakpoints
// are evaluated longest-first; the tables from DefaultPolicy are already
// ordered, and custom tables must be too.
func (p Policy) CutoffFor(group bool, contentLen int) int {
	table := p.Private
	if group {
		table = p.Group
	}
	for _, bp := range table {
		if contentLen > bp.MinLen {
			return bp.Cutoff
		}
	}
	if len(table) == 0 {
		return 15
	}
	return table[len(table)-1].Cutoff
}

// SplitChunks splits text into pieces no longer than cap runes, preferring to
// break at the last newline inside the window, so oversized replies can be
// delivered as consecutive messages.
func SplitChunks(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MessageLengthCap
	}

	runes := []rune(text)
	if len(runes) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		cut := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
