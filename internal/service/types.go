package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dino16m/chainvote-server/internal/data"
)

type MessageType string

const (
	Snapshot MessageType = "snapshot"
	Tally    MessageType = "tally"
	State    MessageType = "state"
	Error    MessageType = "error"
)

var (
	ErrUserNotFound       = errors.New("USER_NOT_FOUND")
	ErrInvalidUsername    = errors.New("INVALID_USERNAME")
	ErrInvalidPassword    = errors.New("INVALID_PASSWORD")
	ErrUsernameTaken      = errors.New("USERNAME_TAKEN")
	ErrInvalidCredentials = errors.New("INVALID_CREDENTIALS")
	ErrVotersOnly         = errors.New("VOTERS_ONLY")

	ErrAlreadyVerified = errors.New("ALREADY_VERIFIED")
	ErrAadhaarInUse    = errors.New("AADHAAR_IN_USE")

	ErrChallengeExpired  = errors.New("CHALLENGE_EXPIRED")
	ErrChallengeMismatch = errors.New("CHALLENGE_MISMATCH")
	ErrWalletInUse       = errors.New("WALLET_IN_USE")
	ErrWalletLocked      = errors.New("WALLET_LOCKED")
	ErrWalletNotLinked   = errors.New("WALLET_NOT_LINKED")

	ErrInvalidCandidate  = errors.New("INVALID_CANDIDATE")
	ErrCandidateNotFound = errors.New("CANDIDATE_NOT_FOUND")
	ErrElectionLocked    = errors.New("ELECTION_LOCKED")

	ErrElectionAlreadyStarted = errors.New("ELECTION_ALREADY_STARTED")
	ErrNoCandidates           = errors.New("NO_CANDIDATES")
	ErrElectionNotInProgress  = errors.New("ELECTION_NOT_IN_PROGRESS")
	ErrElectionNotEnded       = errors.New("ELECTION_NOT_ENDED")

	ErrIdentityNotVerified = errors.New("IDENTITY_NOT_VERIFIED")
	ErrAlreadyVoted        = errors.New("ALREADY_VOTED")
	ErrVotingClosed        = errors.New("VOTING_CLOSED")
	ErrVoteNotFound        = errors.New("VOTE_NOT_FOUND")
)

type CandidateResult struct {
	ID         uint    `json:"id"`
	Name       string  `json:"name"`
	Party      string  `json:"party"`
	ImageURL   string  `json:"imageUrl"`
	VoteCount  int64   `json:"voteCount"`
	Percentage float64 `json:"percentage"`
}

type Results struct {
	State      data.ElectionState `json:"state"`
	Status     string             `json:"status"`
	TotalVotes int64              `json:"totalVotes"`
	Candidates []CandidateResult  `json:"candidates"`
	Winner     *CandidateResult   `json:"winner,omitempty"`
	Tied       bool               `json:"tied"`
}

type ElectionView struct {
	State      data.ElectionState `json:"state"`
	Status     string             `json:"status"`
	TotalVotes int64              `json:"totalVotes"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	EndedAt    *time.Time         `json:"endedAt,omitempty"`
	Winner     *CandidateResult   `json:"winner,omitempty"`
}

type Stats struct {
	TotalCandidates  int64   `json:"totalCandidates"`
	TotalVotes       int64   `json:"totalVotes"`
	HighestVotes     int64   `json:"highestVotes"`
	Status           string  `json:"status"`
	RegisteredVoters int64   `json:"registeredVoters"`
	VerifiedVoters   int64   `json:"verifiedVoters"`
	LinkedWallets    int64   `json:"linkedWallets"`
	Turnout          float64 `json:"turnout"`
}

type CandidateTally struct {
	ID        uint  `json:"id"`
	VoteCount int64 `json:"voteCount"`
}

type TallyData struct {
	TotalVotes int64            `json:"totalVotes"`
	Candidates []CandidateTally `json:"candidates"`
}

type StateData struct {
	State    data.ElectionState `json:"state"`
	Status   string             `json:"status"`
	WinnerID *uint              `json:"winnerId,omitempty"`
}

type ErrorData struct {
	Error string `json:"error"`
}

type Message[T any] struct {
	Data        T           `json:"data"`
	MessageType MessageType `json:"messageType"`
	CreatedAt   int64       `json:"createdAt"`
}

func newMessage[T any](msgType MessageType, payload T) []byte {
	msg := Message[T]{
		Data:        payload,
		MessageType: msgType,
		CreatedAt:   time.Now().UTC().Unix(),
	}
	b, _ := json.Marshal(msg)
	return b
}

func ErrorMessage(msg string) []byte {
	return newMessage(Error, ErrorData{Error: msg})
}

func SnapshotMessage(results *Results) []byte {
	return newMessage(Snapshot, results)
}

func TallyMessage(tally TallyData) []byte {
	return newMessage(Tally, tally)
}

func StateMessage(election *data.Election) []byte {
	return newMessage(State, StateData{
		State:    election.State,
		Status:   election.State.String(),
		WinnerID: election.WinnerID,
	})
}

// ParseMessage decodes a feed message with a known payload type.
func ParseMessage[T any](raw []byte) (Message[T], error) {
	var msg Message[T]
	err := json.Unmarshal(raw, &msg)
	if err != nil {
		return Message[T]{}, err
	}
	return msg, nil
}

// MessageTypeOf reads only the envelope type of a feed message.
func MessageTypeOf(raw []byte) (MessageType, error) {
	var msg Message[json.RawMessage]
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", err
	}
	return msg.MessageType, nil
}
