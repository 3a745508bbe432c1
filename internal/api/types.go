package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/dino16m/chainvote-server/internal/data"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SignupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	DisplayName     string    `json:"displayName"`
	Role            data.Role `json:"role"`
	AadhaarVerified bool      `json:"aadhaarVerified"`
	AadhaarMasked   string    `json:"aadhaarMasked,omitempty"`
	WalletAddress   string    `json:"walletAddress,omitempty"`
	HasVoted        bool      `json:"hasVoted"`
}

type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

type CandidateRequest struct {
	Name     string `json:"name"`
	Party    string `json:"party"`
	ImageURL string `json:"imageUrl"`
}

type CandidateResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Party     string `json:"party"`
	ImageURL  string `json:"imageUrl"`
	VoteCount int64  `json:"voteCount"`
}

type ChallengeRequest struct {
	Address string `json:"address"`
}

type ChallengeResponse struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LinkWalletRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature,omitempty"`
}

type VoteRequest struct {
	CandidateID uint `json:"candidateId"`
}

type VoteResponse struct {
	ID            uuid.UUID `json:"id"`
	CandidateID   uint      `json:"candidateId"`
	WalletAddress string    `json:"walletAddress"`
	Receipt       string    `json:"receipt"`
	CreatedAt     time.Time `json:"createdAt"`
}
