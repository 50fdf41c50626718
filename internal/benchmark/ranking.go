package benchmark

import "sort"

// Ranking returns the finished results ordered best first: lowest WER, then
// fastest. Failed and unfinished results are left out.
func Ranking(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Status == StatusDone {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WER != out[j].WER {
			return out[i].WER < out[j].WER
		}
		return out[i].DurationMs < out[j].DurationMs
	})
	return out
}
