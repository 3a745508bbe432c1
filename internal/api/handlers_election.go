package api

import (
	"net/http"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/service"
)

func (c *Ctrl) ListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := c.election.ListCandidates()
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	resp := make([]CandidateResponse, 0, len(candidates))
	for i := range candidates {
		resp = append(resp, toCandidateResponse(&candidates[i]))
	}
	WriteJson(w, http.StatusOK, resp)
}

func (c *Ctrl) GetCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := candidateID(r)
	if !ok {
		c.writeServiceError(w, r, service.ErrCandidateNotFound)
		return
	}
	candidate, err := c.election.GetCandidate(id)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, toCandidateResponse(candidate))
}

func (c *Ctrl) AddCandidate(w http.ResponseWriter, r *http.Request, session Session) {
	var req CandidateRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	candidate, err := c.election.AddCandidate(service.CandidateInput(req))
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusCreated, toCandidateResponse(candidate))
}

func (c *Ctrl) UpdateCandidate(w http.ResponseWriter, r *http.Request, session Session) {
	id, ok := candidateID(r)
	if !ok {
		c.writeServiceError(w, r, service.ErrCandidateNotFound)
		return
	}
	var req CandidateRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	candidate, err := c.election.UpdateCandidate(id, service.CandidateInput(req))
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, toCandidateResponse(candidate))
}

func (c *Ctrl) RemoveCandidate(w http.ResponseWriter, r *http.Request, session Session) {
	id, ok := candidateID(r)
	if !ok {
		c.writeServiceError(w, r, service.ErrCandidateNotFound)
		return
	}
	if err := c.election.RemoveCandidate(id); err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Ctrl) GetElection(w http.ResponseWriter, r *http.Request) {
	view, err := c.election.Election()
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, view)
}

func (c *Ctrl) StartElection(w http.ResponseWriter, r *http.Request, session Session) {
	c.transition(w, r, session, c.election.Start)
}

func (c *Ctrl) EndElection(w http.ResponseWriter, r *http.Request, session Session) {
	c.transition(w, r, session, c.election.End)
}

func (c *Ctrl) ResetElection(w http.ResponseWriter, r *http.Request, session Session) {
	c.transition(w, r, session, c.election.Reset)
}

// transition runs a state change and answers with the resulting election.
func (c *Ctrl) transition(w http.ResponseWriter, r *http.Request, session Session, change func() (*data.Election, error)) {
	election, err := change()
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.logger.WithField("admin", session.UserID).WithField("state", election.State).Info("election state changed")
	c.GetElection(w, r)
}

func (c *Ctrl) Results(w http.ResponseWriter, r *http.Request) {
	results, err := c.election.Results()
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, results)
}

func (c *Ctrl) Stats(w http.ResponseWriter, r *http.Request, session Session) {
	stats, err := c.election.Stats()
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, stats)
}

func (c *Ctrl) CastVote(w http.ResponseWriter, r *http.Request, session Session) {
	var req VoteRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	vote, err := c.election.CastVote(session.UserID, req.CandidateID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusCreated, toVoteResponse(vote))
}

func (c *Ctrl) MyVote(w http.ResponseWriter, r *http.Request, session Session) {
	vote, err := c.election.MyVote(session.UserID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, toVoteResponse(vote))
}
