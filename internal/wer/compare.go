package wer

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Result is the outcome of comparing a hypothesis transcript against a
// reference transcript.
type Result struct {
	Reference  Tokens    `json:"reference"`
	Hypothesis Tokens    `json:"hypothesis"`
	Alignment  Alignment `json:"alignment"`
	Stats      Stats     `json:"stats"`
	WER        float64   `json:"wer"`
}

// Compare normalizes both transcripts and aligns them.
func Compare(reference, hypothesis string) Result {
	ref := Normalize(reference)
	hyp := Normalize(hypothesis)
	alignment, stats := Align(ref, hyp)
	return Result{
		Reference:  ref,
		Hypothesis: hyp,
		Alignment:  alignment,
		Stats:      stats,
		WER:        stats.WER(),
	}
}

// unitCost weighs substitutions the same as insertions and deletions.
// levenshtein.DefaultOptions charges 2 for a substitution.
var unitCost = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// CER returns the character error rate over the normalized transcripts with
// word separators removed. The empty-reference convention matches Stats.WER.
func CER(reference, hypothesis string) float64 {
	ref := []rune(strings.Join(Normalize(reference), ""))
	hyp := []rune(strings.Join(Normalize(hypothesis), ""))

	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}

	d := levenshtein.DistanceForStrings(ref, hyp, unitCost)
	return float64(d) / float64(len(ref))
}
