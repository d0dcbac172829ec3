package game

type Peg string

const (
	PegExact Peg = "exact"
	PegColor Peg = "color"
)

// Feedback is the peg multiset awarded for one guess.
type Feedback struct {
	Exact int `json:"exact"`
	Color int `json:"color"`
}

// Pegs renders the multiset with exact pegs first.
func (f Feedback) Pegs() []Peg {
	pegs := make([]Peg, 0, f.Exact+f.Color)
	for range f.Exact {
		pegs = append(pegs, PegExact)
	}
	for range f.Color {
		pegs = append(pegs, PegColor)
	}
	return pegs
}

// Solved reports whether every position matched exactly.
func (f Feedback) Solved(length int) bool {
	return f.Exact == length && f.Color == 0
}

// Score compares guess against secret.
//
// Exact matches are taken first and consume both positions. Then each
// remaining secret value, left to right, consumes the first remaining
// guess position holding the same value and earns a color peg.
func Score(secret, guess Code) (Feedback, error) {
	if len(secret) != len(guess) {
		return Feedback{}, ErrLengthMismatch
	}

	n := len(secret)
	secretUsed := make([]bool, n)
	guessUsed := make([]bool, n)
	var fb Feedback

	for i := 0; i < n; i++ {
		if secret[i] == guess[i] {
			fb.Exact++
			secretUsed[i] = true
			guessUsed[i] = true
		}
	}

	for i := 0; i < n; i++ {
		if secretUsed[i] {
			continue
		}
		for j := 0; j < n; j++ {
			if guessUsed[j] || guess[j] != secret[i] {
				continue
			}
			fb.Color++
			guessUsed[j] = true
			break
		}
	}

	return fb, nil
}
