package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/identity"
	"github.com/dino16m/chainvote-server/internal/service"
	"github.com/dino16m/chainvote-server/internal/wallet"
)

type apiError struct {
	err     error
	status  int
	message string
}

var apiErrors = []apiError{
	{ErrUnauthorized, http.StatusUnauthorized, "Please log in to continue"},
	{errForbidden, http.StatusForbidden, "You are not allowed to do this"},

	{service.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{service.ErrInvalidUsername, http.StatusBadRequest, "Username must be 3-32 letters, digits, dots, dashes or underscores"},
	{service.ErrInvalidPassword, http.StatusBadRequest, "Password must be longer than 3 characters"},
	{service.ErrUsernameTaken, http.StatusConflict, "Username already taken"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{service.ErrVotersOnly, http.StatusForbidden, "Only voters can do this"},

	{identity.ErrInvalidAadhaar, http.StatusBadRequest, "Please enter a valid 12-digit Aadhaar number"},
	{identity.ErrDocumentRequired, http.StatusBadRequest, "Please upload your Aadhaar card image"},
	{identity.ErrInvalidDocument, http.StatusBadRequest, "The Aadhaar card upload must be an image or PDF within the size limit"},
	{service.ErrAlreadyVerified, http.StatusConflict, "Aadhaar already verified"},
	{service.ErrAadhaarInUse, http.StatusConflict, "This Aadhaar number is linked to another account"},

	{wallet.ErrInvalidAddress, http.StatusBadRequest, "Invalid wallet address"},
	{wallet.ErrInvalidSignature, http.StatusBadRequest, "Wallet signature does not match the address"},
	{service.ErrChallengeExpired, http.StatusBadRequest, "Wallet challenge missing or expired, request a new one"},
	{service.ErrChallengeMismatch, http.StatusBadRequest, "Wallet challenge was issued for a different address"},
	{service.ErrWalletInUse, http.StatusConflict, "This wallet is linked to another account"},
	{service.ErrWalletLocked, http.StatusConflict, "Wallet cannot be changed after voting"},
	{service.ErrWalletNotLinked, http.StatusConflict, "Wallet not connected"},

	{service.ErrInvalidCandidate, http.StatusBadRequest, "Please fill in all required fields"},
	{service.ErrCandidateNotFound, http.StatusNotFound, "Invalid candidate ID"},
	{service.ErrElectionLocked, http.StatusConflict, "Candidates can only be changed before the election starts"},

	{service.ErrElectionAlreadyStarted, http.StatusConflict, "Election has already started or ended"},
	{service.ErrNoCandidates, http.StatusConflict, "Cannot start election with no candidates. Add candidates first."},
	{service.ErrElectionNotInProgress, http.StatusConflict, "Election is not in progress"},
	{service.ErrElectionNotEnded, http.StatusConflict, "Election has not ended"},

	{service.ErrIdentityNotVerified, http.StatusConflict, "Aadhaar verification required before voting"},
	{service.ErrAlreadyVoted, http.StatusConflict, "You have already voted"},
	{service.ErrVotingClosed, http.StatusConflict, "Voting is not currently active"},
	{service.ErrVoteNotFound, http.StatusNotFound, "You have not voted yet"},
}

var errForbidden = errors.New("FORBIDDEN")

// WriteJson writes a JSON response with the given status code.
func WriteJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	WriteJson(w, status, ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps a known error to its status and message. Unknown
// errors are logged and reported as 500.
func (c *Ctrl) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, known := range apiErrors {
		if errors.Is(err, known.err) {
			writeError(w, known.status, known.err.Error(), known.message)
			return
		}
	}
	c.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func decodeJson(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func candidateID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// GenerateSecret returns n random bytes, used when no signing secret is
// configured.
func GenerateSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func toUserResponse(user *data.User) UserResponse {
	return UserResponse{
		ID:              user.ID,
		Username:        user.Username,
		DisplayName:     user.DisplayName,
		Role:            user.Role,
		AadhaarVerified: user.AadhaarVerified,
		AadhaarMasked:   identity.Mask(user.AadhaarLast4),
		WalletAddress:   user.Wallet(),
		HasVoted:        user.HasVoted,
	}
}

func toCandidateResponse(c *data.Candidate) CandidateResponse {
	return CandidateResponse{
		ID:        c.ID,
		Name:      c.Name,
		Party:     c.Party,
		ImageURL:  c.ImageURL,
		VoteCount: c.VoteCount,
	}
}

func toVoteResponse(v *data.Vote) VoteResponse {
	return VoteResponse{
		ID:            v.ID,
		CandidateID:   v.CandidateID,
		WalletAddress: v.WalletAddress,
		Receipt:       v.Receipt,
		CreatedAt:     v.CreatedAt,
	}
}
