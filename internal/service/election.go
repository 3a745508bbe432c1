package service

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/wallet"
)

const (
	maxNameLength  = 100
	maxImageLength = 2048
)

type CandidateInput struct {
	Name     string
	Party    string
	ImageURL string
}

func (in CandidateInput) normalize() (CandidateInput, error) {
	out := CandidateInput{
		Name:     strings.TrimSpace(in.Name),
		Party:    strings.TrimSpace(in.Party),
		ImageURL: strings.TrimSpace(in.ImageURL),
	}
	if out.Name == "" || out.Party == "" {
		return out, ErrInvalidCandidate
	}
	if len(out.Name) > maxNameLength || len(out.Party) > maxNameLength || len(out.ImageURL) > maxImageLength {
		return out, ErrInvalidCandidate
	}
	if out.ImageURL == "" {
		out.ImageURL = data.DefaultCandidateImage
	}
	return out, nil
}

// ElectionService owns candidates, the election state machine and vote
// casting. All writes are serialised by mu and run in a transaction; live
// messages are published after mu is released.
type ElectionService struct {
	store  *data.Store
	hub    *LiveHub
	logger *logrus.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func NewElectionService(store *data.Store, hub *LiveHub, logger *logrus.Logger) *ElectionService {
	return &ElectionService{
		store:  store,
		hub:    hub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *ElectionService) Hub() *LiveHub {
	return e.hub
}

// requireNotStarted fails unless candidates may still be edited.
func requireNotStarted(tx *data.Store) error {
	election, err := tx.Elections().Get()
	if err != nil {
		return err
	}
	if election.State != data.NotStarted {
		return ErrElectionLocked
	}
	return nil
}

// write runs fn in a transaction while holding mu.
func (e *ElectionService) write(fn func(tx *data.Store) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Transaction(fn)
}

func (e *ElectionService) ListCandidates() ([]data.Candidate, error) {
	return e.store.Candidates().List()
}

func (e *ElectionService) GetCandidate(id uint) (*data.Candidate, error) {
	candidate, err := e.store.Candidates().Get(id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrCandidateNotFound
	}
	return candidate, err
}

func (e *ElectionService) AddCandidate(in CandidateInput) (*data.Candidate, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	candidate := &data.Candidate{
		Name:     in.Name,
		Party:    in.Party,
		ImageURL: in.ImageURL,
	}
	err = e.write(func(tx *data.Store) error {
		if err := requireNotStarted(tx); err != nil {
			return err
		}
		next, err := tx.Candidates().NextID()
		if err != nil {
			return err
		}
		candidate.ID = next
		return tx.Candidates().Create(candidate)
	})
	if err != nil {
		return nil, err
	}
	e.logger.WithField("candidate", candidate.ID).WithField("name", candidate.Name).Info("candidate added")
	return candidate, nil
}

func (e *ElectionService) UpdateCandidate(id uint, in CandidateInput) (*data.Candidate, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	var candidate *data.Candidate
	err = e.write(func(tx *data.Store) error {
		if err := requireNotStarted(tx); err != nil {
			return err
		}
		found, err := tx.Candidates().Get(id)
		if errors.Is(err, data.ErrNotFound) {
			return ErrCandidateNotFound
		}
		if err != nil {
			return err
		}
		found.Name = in.Name
		found.Party = in.Party
		found.ImageURL = in.ImageURL
		candidate = found
		return tx.Candidates().Update(found)
	})
	if err != nil {
		return nil, err
	}
	e.logger.WithField("candidate", id).Info("candidate updated")
	return candidate, nil
}

func (e *ElectionService) RemoveCandidate(id uint) error {
	err := e.write(func(tx *data.Store) error {
		if err := requireNotStarted(tx); err != nil {
			return err
		}
		found, err := tx.Candidates().Get(id)
		if errors.Is(err, data.ErrNotFound) {
			return ErrCandidateNotFound
		}
		if err != nil {
			return err
		}
		return tx.Candidates().Delete(found)
	})
	if err != nil {
		return err
	}
	e.logger.WithField("candidate", id).Info("candidate removed")
	return nil
}

func (e *ElectionService) Election() (*ElectionView, error) {
	election, err := e.store.Elections().Get()
	if err != nil {
		return nil, err
	}
	view := &ElectionView{
		State:      election.State,
		Status:     election.State.String(),
		TotalVotes: election.TotalVotes,
		StartedAt:  election.StartedAt,
		EndedAt:    election.EndedAt,
	}
	if election.State == data.Ended && election.WinnerID != nil {
		winner, err := e.store.Candidates().Get(*election.WinnerID)
		if err == nil {
			result := toResult(*winner, election.TotalVotes)
			view.Winner = &result
		} else if !errors.Is(err, data.ErrNotFound) {
			return nil, err
		}
	}
	return view, nil
}

func (e *ElectionService) Start() (*data.Election, error) {
	var election *data.Election
	err := e.write(func(tx *data.Store) error {
		var err error
		election, err = tx.Elections().Get()
		if err != nil {
			return err
		}
		if election.State != data.NotStarted {
			return ErrElectionAlreadyStarted
		}
		n, err := tx.Candidates().Count()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoCandidates
		}
		now := e.now()
		election.State = data.InProgress
		election.StartedAt = &now
		return tx.Elections().Update(election)
	})
	if err != nil {
		return nil, err
	}
	e.logger.WithField("state", election.State).Info("election started")
	e.hub.Publish(StateMessage(election))
	return election, nil
}

func (e *ElectionService) End() (*data.Election, error) {
	var election *data.Election
	err := e.write(func(tx *data.Store) error {
		var err error
		election, err = tx.Elections().Get()
		if err != nil {
			return err
		}
		if election.State != data.InProgress {
			return ErrElectionNotInProgress
		}
		candidates, err := tx.Candidates().List()
		if err != nil {
			return err
		}
		now := e.now()
		election.State = data.Ended
		election.EndedAt = &now
		election.WinnerID = nil
		if winner, _ := pickWinner(candidates); winner != nil {
			election.WinnerID = &winner.ID
		}
		return tx.Elections().Update(election)
	})
	if err != nil {
		return nil, err
	}
	entry := e.logger.WithField("state", election.State)
	if election.WinnerID != nil {
		entry = entry.WithField("winner", *election.WinnerID)
	}
	entry.Info("election ended")
	e.hub.Publish(StateMessage(election))
	return election, nil
}

// Reset returns an ended election to NotStarted, discarding every vote.
// Candidates are kept with zero counts.
func (e *ElectionService) Reset() (*data.Election, error) {
	var election *data.Election
	err := e.write(func(tx *data.Store) error {
		var err error
		election, err = tx.Elections().Get()
		if err != nil {
			return err
		}
		if election.State != data.Ended {
			return ErrElectionNotEnded
		}
		if err := tx.Votes().DeleteAll(); err != nil {
			return err
		}
		if err := tx.Candidates().ResetVotes(); err != nil {
			return err
		}
		if err := tx.Users().ClearVoted(); err != nil {
			return err
		}
		election.State = data.NotStarted
		election.TotalVotes = 0
		election.WinnerID = nil
		election.StartedAt = nil
		election.EndedAt = nil
		return tx.Elections().Update(election)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("election reset")
	e.hub.Publish(StateMessage(election))
	return election, nil
}

// CastVote records the voter's single vote. Guards are checked in order:
// role, wallet, identity, previous vote, election state, candidate.
func (e *ElectionService) CastVote(userID string, candidateID uint) (*data.Vote, error) {
	var vote *data.Vote
	var tally TallyData
	err := e.write(func(tx *data.Store) error {
		user, err := tx.Users().Get(userID)
		if errors.Is(err, data.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if user.Role != data.RoleVoter {
			return ErrVotersOnly
		}
		if user.WalletAddress == nil {
			return ErrWalletNotLinked
		}
		if !user.AadhaarVerified {
			return ErrIdentityNotVerified
		}
		if user.HasVoted {
			return ErrAlreadyVoted
		}

		election, err := tx.Elections().Get()
		if err != nil {
			return err
		}
		if election.State != data.InProgress {
			return ErrVotingClosed
		}
		if _, err := tx.Candidates().Get(candidateID); err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return ErrCandidateNotFound
			}
			return err
		}

		now := e.now()
		vote = &data.Vote{
			ID:            uuid.New(),
			UserID:        user.ID,
			CandidateID:   candidateID,
			WalletAddress: *user.WalletAddress,
			CreatedAt:     now,
		}
		vote.Receipt = wallet.Receipt(
			user.ID.String(),
			strconv.FormatUint(uint64(candidateID), 10),
			vote.WalletAddress,
			strconv.FormatInt(now.UnixNano(), 10),
			vote.ID.String(),
		)
		if err := tx.Votes().Create(vote); err != nil {
			if errors.Is(err, data.ErrDuplicate) {
				return ErrAlreadyVoted
			}
			return err
		}
		if err := tx.Candidates().IncrementVotes(candidateID); err != nil {
			return err
		}
		election.TotalVotes++
		if err := tx.Elections().Update(election); err != nil {
			return err
		}
		if err := tx.Users().MarkVoted(userID); err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return ErrAlreadyVoted
			}
			return err
		}

		tally, err = buildTally(tx, election.TotalVotes)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.WithField("user", userID).WithField("candidate", candidateID).Info("vote cast")
	e.hub.Publish(TallyMessage(tally))
	return vote, nil
}

func (e *ElectionService) MyVote(userID string) (*data.Vote, error) {
	vote, err := e.store.Votes().GetByUser(userID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrVoteNotFound
	}
	return vote, err
}

func (e *ElectionService) Results() (*Results, error) {
	election, err := e.store.Elections().Get()
	if err != nil {
		return nil, err
	}
	candidates, err := e.store.Candidates().List()
	if err != nil {
		return nil, err
	}

	results := &Results{
		State:      election.State,
		Status:     election.State.String(),
		TotalVotes: election.TotalVotes,
		Candidates: make([]CandidateResult, 0, len(candidates)),
	}
	for _, c := range candidates {
		results.Candidates = append(results.Candidates, toResult(c, election.TotalVotes))
	}
	if election.State == data.Ended {
		winner, tied := pickWinner(candidates)
		if winner != nil {
			result := toResult(*winner, election.TotalVotes)
			results.Winner = &result
			results.Tied = tied
		}
	}
	return results, nil
}

func (e *ElectionService) Stats() (*Stats, error) {
	election, err := e.store.Elections().Get()
	if err != nil {
		return nil, err
	}
	candidates, err := e.store.Candidates().List()
	if err != nil {
		return nil, err
	}
	voters, err := e.store.Users().CountByRole(data.RoleVoter)
	if err != nil {
		return nil, err
	}
	verified, err := e.store.Users().CountVerified()
	if err != nil {
		return nil, err
	}
	wallets, err := e.store.Users().CountWallets()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalCandidates:  int64(len(candidates)),
		TotalVotes:       election.TotalVotes,
		Status:           election.State.String(),
		RegisteredVoters: voters,
		VerifiedVoters:   verified,
		LinkedWallets:    wallets,
		Turnout:          percentage(election.TotalVotes, voters),
	}
	for _, c := range candidates {
		if c.VoteCount > stats.HighestVotes {
			stats.HighestVotes = c.VoteCount
		}
	}
	return stats, nil
}

func buildTally(tx *data.Store, total int64) (TallyData, error) {
	candidates, err := tx.Candidates().List()
	if err != nil {
		return TallyData{}, err
	}
	tally := TallyData{
		TotalVotes: total,
		Candidates: make([]CandidateTally, 0, len(candidates)),
	}
	for _, c := range candidates {
		tally.Candidates = append(tally.Candidates, CandidateTally{ID: c.ID, VoteCount: c.VoteCount})
	}
	return tally, nil
}

// pickWinner returns the candidate with the most votes; ties go to the
// lowest id. candidates must be ordered by id. tied reports whether another
// candidate had the same count.
func pickWinner(candidates []data.Candidate) (winner *data.Candidate, tied bool) {
	for i := range candidates {
		c := &candidates[i]
		switch {
		case winner == nil || c.VoteCount > winner.VoteCount:
			winner = c
			tied = false
		case c.VoteCount == winner.VoteCount:
			tied = true
		}
	}
	return winner, tied
}

func toResult(c data.Candidate, total int64) CandidateResult {
	return CandidateResult{
		ID:         c.ID,
		Name:       c.Name,
		Party:      c.Party,
		ImageURL:   c.ImageURL,
		VoteCount:  c.VoteCount,
		Percentage: percentage(c.VoteCount, total),
	}
}

// percentage of part in total rounded to two decimals; zero when total is.
func percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(total)) / 100
}
