package voice

import "strings"

// forceCutRunes bounds how long the segmenter waits for punctuation
// before cutting anyway, so synthesis latency stays bounded on rambling
// unpunctuated output.
const forceCutRunes = 40

// unitDelimiters are the sentence/clause terminators that end a synthesis
// unit, covering both ASCII and CJK punctuation.
var unitDelimiters = map[rune]struct{}{
	'.': {}, '!': {}, '?': {}, ';': {}, ',': {}, '\n': {},
	'。': {}, '！': {}, '？': {}, '；': {}, '，': {}, '、': {},
}

// segmenter accumulates streamed text fragments and cuts them into
// synthesis units at the earliest delimiter, or at forceCutRunes when no
// delimiter shows up.
type segmenter struct {
	buf []rune
}

// push appends a fragment and returns every complete unit it released,
// in order. Units keep their trailing delimiter.
func (s *segmenter) push(fragment string) []string {
	s.buf = append(s.buf, []rune(fragment)...)

	var units []string
	for {
		cut := -1
		for i, r := range s.buf {
			if _, ok := unitDelimiters[r]; ok {
				cut = i + 1
				break
			}
			if i+1 >= forceCutRunes {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			return units
		}
		unit := strings.TrimSpace(string(s.buf[:cut]))
		s.buf = s.buf[cut:]
		if unit != "" {
			units = append(units, unit)
		}
	}
}

// flush returns whatever remains in the buffer as a final unit.
func (s *segmenter) flush() string {
	unit := strings.TrimSpace(string(s.buf))
	s.buf = nil
	return unit
}
