package fuzzy

// bitapScorer scores a text against a fixed pattern with the Bitap
// algorithm in its Wu-Manber k-mismatch form: one uint32 of match state per
// allowed substitution count, which is why patterns are capped at 32 runes.
type bitapScorer struct {
	pattern     []rune
	masks       map[rune]uint32
	maxDistance int
}

func newBitapScorer(pattern []rune, maxDistance int) *bitapScorer {
	masks := make(map[rune]uint32, len(pattern))
	for i, r := range pattern {
		masks[r] |= 1 << i
	}

	return &bitapScorer{
		pattern:     pattern,
		masks:       masks,
		maxDistance: maxDistance,
	}
}

// score returns the similarity of the best approximate occurrence of the
// pattern in text:
//
//	score = 1 - mismatches/len(pattern)
//
// where mismatches is the minimal number of single-rune substitutions under
// which the pattern occurs in text. ok is false when every alignment needs
// more than the budget; texts shorter than the pattern never match.
func (s *bitapScorer) score(text string) (float64, bool) {
	patternLen := len(s.pattern)
	if patternLen == 0 {
		return 0, false
	}
	final := uint32(1) << (patternLen - 1)

	// state[d] bit j: pattern[:j+1] matches the text ending at the current
	// rune with at most d substitutions.
	state := make([]uint32, s.maxDistance+1)

	best := -1
	for _, char := range []rune(text) {
		mask := s.masks[char]

		prev := state[0]
		state[0] = ((state[0] << 1) | 1) & mask
		for d := 1; d <= s.maxDistance; d++ {
			cur := state[d]
			state[d] = (((state[d] << 1) | 1) & mask) | ((prev << 1) | 1)
			prev = cur
		}

		for d := 0; d <= s.maxDistance; d++ {
			if state[d]&final != 0 {
				if best < 0 || d < best {
					best = d
				}
				break
			}
		}
		if best == 0 {
			break
		}
	}

	if best < 0 {
		return 0, false
	}
	return 1 - float64(best)/float64(patternLen), true
}
