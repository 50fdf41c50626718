// Package wer aligns transcripts word by word and scores them.
//
// Normalize turns raw text into comparable tokens. Align runs an exact
// Levenshtein alignment over two token sequences and reports every match,
// substitution, deletion and insertion together with word error rate counts.
// Everything here is pure and safe for concurrent use; memory grows with the
// product of the two sequence lengths.
package wer
