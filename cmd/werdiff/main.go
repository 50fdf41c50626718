// Command werdiff scores a hypothesis transcript against a reference and
// prints the word-level diff.
//
//	werdiff reference.txt hypothesis.txt
//	werdiff -ref "the cat sat" -hyp "the bat sat down" -color
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/snarg/stt-bench/internal/wer"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "werdiff:", err)
		os.Exit(1)
	}
}

type output struct {
	Stats     wer.Stats     `json:"stats"`
	WER       float64       `json:"wer"`
	CER       float64       `json:"cer"`
	Alignment wer.Alignment `json:"alignment"`
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("werdiff", flag.ContinueOnError)
	ref := fs.String("ref", "", "Reference transcript text")
	hyp := fs.String("hyp", "", "Hypothesis transcript text")
	color := fs.Bool("color", false, "Color edits when stdout is a terminal (NO_COLOR disables)")
	asJSON := fs.Bool("json", false, "Print stats and alignment as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reference, hypothesis, err := inputs(fs.Args(), *ref, *hyp)
	if err != nil {
		return err
	}

	res := wer.Compare(reference, hypothesis)
	cer := wer.CER(reference, hypothesis)

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(output{Stats: res.Stats, WER: res.WER, CER: cer, Alignment: res.Alignment})
	}

	style := wer.StylePlain
	if *color {
		style = wer.StyleANSI
	}
	s := res.Stats
	fmt.Fprintf(stdout, "WER: %.2f%%  (S=%d D=%d I=%d N=%d)\n", res.WER*100, s.Substitutions, s.Deletions, s.Insertions, s.RefWords)
	fmt.Fprintf(stdout, "CER: %.2f%%\n", cer*100)

	refWords, hypWords := wer.Diff(res.Alignment)
	io.WriteString(stdout, "REF: ")
	if err := wer.Render(stdout, refWords, style); err != nil {
		return err
	}
	io.WriteString(stdout, "\nHYP: ")
	if err := wer.Render(stdout, hypWords, style); err != nil {
		return err
	}
	io.WriteString(stdout, "\n")
	return nil
}

// inputs returns the two transcripts from either two file arguments or the
// -ref/-hyp flags.
func inputs(files []string, ref, hyp string) (string, string, error) {
	switch len(files) {
	case 0:
		if ref == "" && hyp == "" {
			return "", "", errors.New("usage: werdiff [-color] [-json] (REF_FILE HYP_FILE | -ref TEXT -hyp TEXT)")
		}
		return ref, hyp, nil
	case 2:
		r, err := os.ReadFile(files[0])
		if err != nil {
			return "", "", err
		}
		h, err := os.ReadFile(files[1])
		if err != nil {
			return "", "", err
		}
		return string(r), string(h), nil
	default:
		return "", "", fmt.Errorf("expected 2 files, got %d", len(files))
	}
}
