package wer

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies one step of an alignment.
type OpKind int

const (
	Match OpKind = iota
	Substitution
	Deletion
	Insertion
)

var opKindNames = [...]string{
	Match:        "match",
	Substitution: "substitution",
	Deletion:     "deletion",
	Insertion:    "insertion",
}

func (k OpKind) String() string {
	if k < 0 || int(k) >= len(opKindNames) {
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
	return opKindNames[k]
}

func (k OpKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *OpKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for i, name := range opKindNames {
		if name == s {
			*k = OpKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown op kind %q", s)
}

// Op is a single aligned step. Match and Substitution carry both tokens,
// Deletion only Ref, Insertion only Hyp.
type Op struct {
	Kind OpKind `json:"op"`
	Ref  Token  `json:"ref,omitempty"`
	Hyp  Token  `json:"hyp,omitempty"`
}

// Alignment is a minimum-cost edit path from reference to hypothesis in
// forward order.
type Alignment []Op

// RefTokens returns the reference side of the alignment, which is always the
// original reference sequence.
func (a Alignment) RefTokens() Tokens {
	out := Tokens{}
	for _, op := range a {
		if op.Kind != Insertion {
			out = append(out, op.Ref)
		}
	}
	return out
}

// HypTokens returns the hypothesis side of the alignment.
func (a Alignment) HypTokens() Tokens {
	out := Tokens{}
	for _, op := range a {
		if op.Kind != Deletion {
			out = append(out, op.Hyp)
		}
	}
	return out
}

// Distance is the number of non-match steps, equal to the edit distance.
func (a Alignment) Distance() int {
	n := 0
	for _, op := range a {
		if op.Kind != Match {
			n++
		}
	}
	return n
}

// Stats holds error counts for a comparison.
type Stats struct {
	Substitutions int `json:"substitutions"`
	Deletions     int `json:"deletions"`
	Insertions    int `json:"insertions"`
	RefWords      int `json:"total_words"`
}

// Errors returns S + D + I.
func (s Stats) Errors() int {
	return s.Substitutions + s.Deletions + s.Insertions
}

// WER returns the word error rate. With an empty reference it is 0 when
// there are no insertions and 1 otherwise. The value is not clamped.
func (s Stats) WER() float64 {
	if s.RefWords == 0 {
		if s.Insertions == 0 {
			return 0
		}
		return 1
	}
	return float64(s.Errors()) / float64(s.RefWords)
}

// Align computes the Levenshtein alignment of hyp against ref with unit costs
// and returns the operations along with their counts.
//
// When several paths share the minimum cost the backtrace prefers, at each
// cell, match, then substitution, then deletion, then insertion.
func Align(ref, hyp Tokens) (Alignment, Stats) {
	n, m := len(ref), len(hyp)

	// cost[i][j] is the edit distance between ref[:i] and hyp[:j].
	cost := make([][]int, n+1)
	for i := range cost {
		cost[i] = make([]int, m+1)
		cost[i][0] = i
	}
	for j := 0; j <= m; j++ {
		cost[0][j] = j
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				cost[i][j] = cost[i-1][j-1]
				continue
			}
			cost[i][j] = 1 + min(cost[i-1][j-1], cost[i-1][j], cost[i][j-1])
		}
	}

	return backtrace(cost, ref, hyp)
}

func backtrace(cost [][]int, ref, hyp Tokens) (Alignment, Stats) {
	i, j := len(ref), len(hyp)
	stats := Stats{RefWords: len(ref)}

	// Built in reverse, flipped at the end.
	ops := make(Alignment, 0, max(i, j))
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			ops = append(ops, Op{Kind: Match, Ref: ref[i-1], Hyp: hyp[j-1]})
			i--
			j--
		case i > 0 && j > 0 && cost[i][j] == cost[i-1][j-1]+1:
			ops = append(ops, Op{Kind: Substitution, Ref: ref[i-1], Hyp: hyp[j-1]})
			stats.Substitutions++
			i--
			j--
		case i > 0 && cost[i][j] == cost[i-1][j]+1:
			ops = append(ops, Op{Kind: Deletion, Ref: ref[i-1]})
			stats.Deletions++
			i--
		default:
			ops = append(ops, Op{Kind: Insertion, Hyp: hyp[j-1]})
			stats.Insertions++
			j--
		}
	}

	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops, stats
}
