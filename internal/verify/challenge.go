// Package verify runs the new-member verification challenge: issuing an arithmetic
// question, judging the answer and expiring unanswered challenges.
package verify

import (
	"fmt"
	"math/rand/v2"
)

// Decoys sit at +-1/2 to catch guessers and +-10/20 to catch people adding only the ones digit.
var decoyOffsets = []int{-20, -10, -2, -1, 1, 2, 10, 20}

const optionCount = 4

// newArithmetic builds "a + b = ?" with two-digit operands and four distinct positive options.
func newArithmetic(rng *rand.Rand) (question string, answer int, options []int) {
	a := 10 + rng.IntN(90)
	b := 10 + rng.IntN(90)
	answer = a + b

	options = []int{answer}
	for len(options) < optionCount {
		candidate := answer + decoyOffsets[rng.IntN(len(decoyOffsets))]
		if candidate <= 0 || contains(options, candidate) {
			continue
		}
		options = append(options, candidate)
	}
	rng.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	return fmt.Sprintf("%d + %d = ?", a, b), answer, options
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
