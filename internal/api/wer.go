package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/stt-bench/internal/wer"
)

// WERHandler scores a hypothesis transcript against a reference without
// involving any provider.
type WERHandler struct{}

func NewWERHandler() *WERHandler { return &WERHandler{} }

func (h *WERHandler) Routes(r chi.Router) {
	r.Post("/wer", h.Compare)
}

type werRequest struct {
	Reference  string `json:"reference"`
	Hypothesis string `json:"hypothesis"`
}

// WERResponse is the body of POST /wer.
type WERResponse struct {
	Reference  wer.Tokens    `json:"reference"`
	Hypothesis wer.Tokens    `json:"hypothesis"`
	Stats      wer.Stats     `json:"stats"`
	Errors     int           `json:"errors"`
	WER        float64       `json:"wer"`
	CER        float64       `json:"cer"`
	Alignment  wer.Alignment `json:"alignment"`
	Diff       DiffResponse  `json:"diff"`
}

// DiffResponse holds the two sides of a word diff.
type DiffResponse struct {
	Reference  []wer.DiffWord `json:"reference"`
	Hypothesis []wer.DiffWord `json:"hypothesis"`
}

// Compare handles POST /api/v1/wer.
func (h *WERHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req werRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res := wer.Compare(req.Reference, req.Hypothesis)
	refDiff, hypDiff := wer.Diff(res.Alignment)
	WriteJSON(w, http.StatusOK, WERResponse{
		Reference:  res.Reference,
		Hypothesis: res.Hypothesis,
		Stats:      res.Stats,
		Errors:     res.Stats.Errors(),
		WER:        res.WER,
		CER:        wer.CER(req.Reference, req.Hypothesis),
		Alignment:  res.Alignment,
		Diff:       DiffResponse{Reference: refDiff, Hypothesis: hypDiff},
	})
}
