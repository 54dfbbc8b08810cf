package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jason-s-yu/fairtable/internal/fairness"
)

// FairnessReportHandler serves the verification report of a session's most
// recent outcome.
func (s *Server) FairnessReportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDFrom(w, r)
	if !ok {
		return
	}
	report, err := s.Verifier.VerifyFairness(r.Context(), id)
	if err != nil {
		s.Logger.WithError(err).WithField("session", id).Error("fairness report failed")
		writeJSON(w, http.StatusInternalServerError, fairness.Report{Reason: "verification_failed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type verifyResponse struct {
	Valid  bool   `json:"is_valid"`
	Reason string `json:"reason,omitempty"`
}

// VerifyOutcomeHandler checks a claimed outcome against the stored
// commitment.
func (s *Server) VerifyOutcomeHandler(w http.ResponseWriter, r *http.Request) {
	var req fairness.OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok, err := s.Verifier.VerifyGameOutcome(r.Context(), req)
	switch {
	case errors.Is(err, fairness.ErrSeedNotFound):
		writeJSON(w, http.StatusOK, verifyResponse{Reason: fairness.ReasonDataNotFound})
	case errors.Is(err, fairness.ErrSeedNotRevealed):
		writeJSON(w, http.StatusOK, verifyResponse{Reason: fairness.ReasonSeedNotRevealed})
	case errors.Is(err, fairness.ErrUnsupportedGameType):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.Logger.WithError(err).Error("outcome verification failed")
		writeError(w, http.StatusInternalServerError, "verification failed")
	case !ok:
		writeJSON(w, http.StatusOK, verifyResponse{})
	default:
		writeJSON(w, http.StatusOK, verifyResponse{Valid: true})
	}
}

func (s *Server) ClientSeedHandler(w http.ResponseWriter, r *http.Request) {
	seed, err := fairness.GenerateClientSeed()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate client seed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"client_seed": seed})
}
