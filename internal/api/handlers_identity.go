package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dino16m/chainvote-server/internal/identity"
)

// sniffLength is how much of an upload content detection looks at.
const sniffLength = 512

func (c *Ctrl) VerifyAadhaar(w http.ResponseWriter, r *http.Request, session Session) {
	// leave room for the multipart envelope and the other fields
	r.Body = http.MaxBytesReader(w, r.Body, c.maxDocument+1<<16)
	if err := r.ParseMultipartForm(c.maxDocument); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.writeServiceError(w, r, identity.ErrInvalidDocument)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("document")
	if errors.Is(err, http.ErrMissingFile) {
		c.writeServiceError(w, r, identity.ErrDocumentRequired)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read document")
		return
	}
	defer file.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		c.writeServiceError(w, r, err)
		return
	}

	user, err := c.verification.VerifyAadhaar(session.UserID, r.FormValue("aadhaarNumber"), head[:n], header.Size)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, toUserResponse(user))
}

func (c *Ctrl) WalletChallenge(w http.ResponseWriter, r *http.Request, session Session) {
	var req ChallengeRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	challenge, err := c.verification.IssueChallenge(session.UserID, req.Address)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusCreated, ChallengeResponse{
		Address:   challenge.Address,
		Nonce:     challenge.Nonce,
		Message:   challenge.Message,
		ExpiresAt: challenge.ExpiresAt,
	})
}

func (c *Ctrl) LinkWallet(w http.ResponseWriter, r *http.Request, session Session) {
	var req LinkWalletRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	user, err := c.verification.LinkWallet(session.UserID, req.Address, req.Signature)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, toUserResponse(user))
}

func (c *Ctrl) WalletQR(w http.ResponseWriter, r *http.Request, session Session) {
	png, err := c.verification.WalletQR(session.UserID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
