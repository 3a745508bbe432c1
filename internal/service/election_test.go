package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/testutil"
)

func newElection(t *testing.T) (*ElectionService, *data.Store) {
	t.Helper()
	store := testutil.NewStore(t)
	logger := testutil.Logger(t)
	return NewElectionService(store, NewLiveHub(logger), logger), store
}

// readyVoter stores a voter who has verified identity and linked a wallet.
func readyVoter(t *testing.T, store *data.Store, n int) *data.User {
	t.Helper()
	address := fmt.Sprintf("0x%040x", n+1)
	fingerprint := fmt.Sprintf("fp-%d", n)
	user := &data.User{
		ID:                 uuid.New(),
		Username:           fmt.Sprintf("voter%d", n),
		Password:           "x",
		Role:               data.RoleVoter,
		AadhaarVerified:    true,
		AadhaarFingerprint: &fingerprint,
		WalletAddress:      &address,
	}
	require.NoError(t, store.Users().Create(user))
	return user
}

func addCandidates(t *testing.T, svc *ElectionService, names ...string) []*data.Candidate {
	t.Helper()
	var out []*data.Candidate
	for _, name := range names {
		c, err := svc.AddCandidate(CandidateInput{Name: name, Party: name + " Party"})
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestAddCandidateValidation(t *testing.T) {
	svc, _ := newElection(t)

	_, err := svc.AddCandidate(CandidateInput{Name: "  ", Party: "P"})
	assert.ErrorIs(t, err, ErrInvalidCandidate)
	_, err = svc.AddCandidate(CandidateInput{Name: "Ada", Party: ""})
	assert.ErrorIs(t, err, ErrInvalidCandidate)

	c, err := svc.AddCandidate(CandidateInput{Name: " Ada ", Party: " Analytical "})
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.ID)
	assert.Equal(t, "Ada", c.Name)
	assert.Equal(t, "Analytical", c.Party)
	assert.Equal(t, data.DefaultCandidateImage, c.ImageURL)
	assert.Zero(t, c.VoteCount)
}

func TestCandidatesLockedAfterStart(t *testing.T) {
	svc, _ := newElection(t)
	cs := addCandidates(t, svc, "Ada", "Grace")

	updated, err := svc.UpdateCandidate(cs[0].ID, CandidateInput{Name: "Ada L.", Party: "Engines", ImageURL: "/ada.png"})
	require.NoError(t, err)
	assert.Equal(t, "/ada.png", updated.ImageURL)

	require.NoError(t, svc.RemoveCandidate(cs[1].ID))
	assert.ErrorIs(t, svc.RemoveCandidate(cs[1].ID), ErrCandidateNotFound)

	_, err = svc.Start()
	require.NoError(t, err)

	_, err = svc.AddCandidate(CandidateInput{Name: "Late", Party: "Late"})
	assert.ErrorIs(t, err, ErrElectionLocked)
	_, err = svc.UpdateCandidate(cs[0].ID, CandidateInput{Name: "X", Party: "Y"})
	assert.ErrorIs(t, err, ErrElectionLocked)
	assert.ErrorIs(t, svc.RemoveCandidate(cs[0].ID), ErrElectionLocked)
}

func TestElectionTransitions(t *testing.T) {
	svc, _ := newElection(t)

	_, err := svc.End()
	assert.ErrorIs(t, err, ErrElectionNotInProgress)
	_, err = svc.Start()
	assert.ErrorIs(t, err, ErrNoCandidates)
	_, err = svc.Reset()
	assert.ErrorIs(t, err, ErrElectionNotEnded)

	addCandidates(t, svc, "Ada")

	election, err := svc.Start()
	require.NoError(t, err)
	assert.Equal(t, data.InProgress, election.State)
	assert.NotNil(t, election.StartedAt)

	_, err = svc.Start()
	assert.ErrorIs(t, err, ErrElectionAlreadyStarted)

	election, err = svc.End()
	require.NoError(t, err)
	assert.Equal(t, data.Ended, election.State)
	require.NotNil(t, election.WinnerID)
	assert.EqualValues(t, 1, *election.WinnerID)

	_, err = svc.Start()
	assert.ErrorIs(t, err, ErrElectionAlreadyStarted)
	_, err = svc.End()
	assert.ErrorIs(t, err, ErrElectionNotInProgress)

	view, err := svc.Election()
	require.NoError(t, err)
	assert.Equal(t, "ENDED", view.Status)
	require.NotNil(t, view.Winner)
	assert.Equal(t, "Ada", view.Winner.Name)
}

func TestCastVoteGuards(t *testing.T) {
	svc, store := newElection(t)
	cs := addCandidates(t, svc, "Ada", "Grace")

	voter := readyVoter(t, store, 1)

	_, err := svc.CastVote(voter.ID.String(), cs[0].ID)
	assert.ErrorIs(t, err, ErrVotingClosed, "not started")

	_, err = svc.Start()
	require.NoError(t, err)

	noWallet := &data.User{ID: uuid.New(), Username: "nowallet", Password: "x", Role: data.RoleVoter, AadhaarVerified: true}
	require.NoError(t, store.Users().Create(noWallet))
	_, err = svc.CastVote(noWallet.ID.String(), cs[0].ID)
	assert.ErrorIs(t, err, ErrWalletNotLinked)

	address := "0x00000000000000000000000000000000000000ff"
	unverified := &data.User{ID: uuid.New(), Username: "unverified", Password: "x", Role: data.RoleVoter, WalletAddress: &address}
	require.NoError(t, store.Users().Create(unverified))
	_, err = svc.CastVote(unverified.ID.String(), cs[0].ID)
	assert.ErrorIs(t, err, ErrIdentityNotVerified)

	admin := &data.User{ID: uuid.New(), Username: "admin", Password: "x", Role: data.RoleAdmin}
	require.NoError(t, store.Users().Create(admin))
	_, err = svc.CastVote(admin.ID.String(), cs[0].ID)
	assert.ErrorIs(t, err, ErrVotersOnly)

	_, err = svc.CastVote(uuid.NewString(), cs[0].ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.CastVote(voter.ID.String(), 42)
	assert.ErrorIs(t, err, ErrCandidateNotFound)

	vote, err := svc.CastVote(voter.ID.String(), cs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, voter.ID, vote.UserID)
	assert.Equal(t, *voter.WalletAddress, vote.WalletAddress)
	assert.Len(t, vote.Receipt, 66)

	_, err = svc.CastVote(voter.ID.String(), cs[0].ID)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	mine, err := svc.MyVote(voter.ID.String())
	require.NoError(t, err)
	assert.Equal(t, vote.Receipt, mine.Receipt)

	_, err = svc.MyVote(admin.ID.String())
	assert.ErrorIs(t, err, ErrVoteNotFound)

	_, err = svc.End()
	require.NoError(t, err)
	other := readyVoter(t, store, 2)
	_, err = svc.CastVote(other.ID.String(), cs[0].ID)
	assert.ErrorIs(t, err, ErrVotingClosed, "ended")
}

func TestResultsAndWinner(t *testing.T) {
	svc, store := newElection(t)
	cs := addCandidates(t, svc, "Ada", "Grace", "Linus")
	_, err := svc.Start()
	require.NoError(t, err)

	votes := []uint{cs[1].ID, cs[1].ID, cs[2].ID, cs[1].ID}
	for i, candidateID := range votes {
		voter := readyVoter(t, store, i)
		_, err := svc.CastVote(voter.ID.String(), candidateID)
		require.NoError(t, err)
	}

	results, err := svc.Results()
	require.NoError(t, err)
	assert.EqualValues(t, 4, results.TotalVotes)
	assert.Nil(t, results.Winner, "winner hidden while voting")
	require.Len(t, results.Candidates, 3)
	assert.EqualValues(t, 0, results.Candidates[0].Percentage)
	assert.EqualValues(t, 75, results.Candidates[1].Percentage)
	assert.EqualValues(t, 25, results.Candidates[2].Percentage)

	stats, err := svc.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalCandidates)
	assert.EqualValues(t, 4, stats.TotalVotes)
	assert.EqualValues(t, 3, stats.HighestVotes)
	assert.EqualValues(t, 4, stats.RegisteredVoters)
	assert.EqualValues(t, 100, stats.Turnout)
	assert.Equal(t, "IN_PROGRESS", stats.Status)

	_, err = svc.End()
	require.NoError(t, err)
	results, err = svc.Results()
	require.NoError(t, err)
	require.NotNil(t, results.Winner)
	assert.Equal(t, "Grace", results.Winner.Name)
	assert.False(t, results.Tied)
}

func TestPickWinnerTieGoesToLowestID(t *testing.T) {
	candidates := []data.Candidate{
		{ID: 1, VoteCount: 2},
		{ID: 2, VoteCount: 5},
		{ID: 3, VoteCount: 5},
	}
	winner, tied := pickWinner(candidates)
	require.NotNil(t, winner)
	assert.EqualValues(t, 2, winner.ID)
	assert.True(t, tied)

	candidates = append(candidates, data.Candidate{ID: 4, VoteCount: 6})
	winner, tied = pickWinner(candidates)
	assert.EqualValues(t, 4, winner.ID)
	assert.False(t, tied)

	winner, _ = pickWinner(nil)
	assert.Nil(t, winner)
}

func TestPercentage(t *testing.T) {
	assert.EqualValues(t, 0, percentage(3, 0))
	assert.EqualValues(t, 33.33, percentage(1, 3))
	assert.EqualValues(t, 66.67, percentage(2, 3))
	assert.EqualValues(t, 100, percentage(5, 5))
}

func TestResetClearsVotes(t *testing.T) {
	svc, store := newElection(t)
	cs := addCandidates(t, svc, "Ada")
	_, err := svc.Start()
	require.NoError(t, err)
	voter := readyVoter(t, store, 1)
	_, err = svc.CastVote(voter.ID.String(), cs[0].ID)
	require.NoError(t, err)
	_, err = svc.End()
	require.NoError(t, err)

	election, err := svc.Reset()
	require.NoError(t, err)
	assert.Equal(t, data.NotStarted, election.State)
	assert.Nil(t, election.WinnerID)

	results, err := svc.Results()
	require.NoError(t, err)
	assert.Zero(t, results.TotalVotes)
	assert.Zero(t, results.Candidates[0].VoteCount)

	user, err := store.Users().Get(voter.ID.String())
	require.NoError(t, err)
	assert.False(t, user.HasVoted)
	_, err = svc.MyVote(voter.ID.String())
	assert.ErrorIs(t, err, ErrVoteNotFound)

	// candidates are editable again and the voter may vote in the next round
	_, err = svc.AddCandidate(CandidateInput{Name: "Grace", Party: "Compiler"})
	require.NoError(t, err)
	_, err = svc.Start()
	require.NoError(t, err)
	_, err = svc.CastVote(voter.ID.String(), cs[0].ID)
	require.NoError(t, err)
}

func TestConcurrentVotesAreCountedOnce(t *testing.T) {
	svc, store := newElection(t)
	cs := addCandidates(t, svc, "Ada")
	_, err := svc.Start()
	require.NoError(t, err)

	voters := make([]*data.User, 10)
	for i := range voters {
		voters[i] = readyVoter(t, store, i)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for _, voter := range voters {
		for range 3 {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := svc.CastVote(id, cs[0].ID); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}(voter.ID.String())
		}
	}
	wg.Wait()

	assert.Equal(t, len(voters), accepted)
	results, err := svc.Results()
	require.NoError(t, err)
	assert.EqualValues(t, len(voters), results.TotalVotes)
	assert.EqualValues(t, len(voters), results.Candidates[0].VoteCount)
}

func TestVotePublishesTally(t *testing.T) {
	svc, store := newElection(t)
	cs := addCandidates(t, svc, "Ada")
	sub := svc.Hub().Subscribe()
	defer sub.Leave()

	_, err := svc.Start()
	require.NoError(t, err)
	msg := <-sub.Inbox()
	msgType, err := MessageTypeOf(msg)
	require.NoError(t, err)
	assert.Equal(t, State, msgType)

	voter := readyVoter(t, store, 1)
	_, err = svc.CastVote(voter.ID.String(), cs[0].ID)
	require.NoError(t, err)

	tally, err := ParseMessage[TallyData](<-sub.Inbox())
	require.NoError(t, err)
	assert.Equal(t, Tally, tally.MessageType)
	assert.EqualValues(t, 1, tally.Data.TotalVotes)
	require.Len(t, tally.Data.Candidates, 1)
	assert.EqualValues(t, 1, tally.Data.Candidates[0].VoteCount)
}

func TestRemovedLastCandidateIDIsReused(t *testing.T) {
	svc, _ := newElection(t)
	cs := addCandidates(t, svc, "Ada", "Grace", "Linus")
	require.NoError(t, svc.RemoveCandidate(cs[2].ID))

	again, err := svc.AddCandidate(CandidateInput{Name: "Ken", Party: "Unix"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, again.ID)

	require.NoError(t, svc.RemoveCandidate(cs[0].ID))
	next, err := svc.AddCandidate(CandidateInput{Name: "Barbara", Party: "CLU"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, next.ID)
}

func TestPublishDoesNotHoldWriteLock(t *testing.T) {
	svc, _ := newElection(t)
	addCandidates(t, svc, "Ada")

	// a subscriber that never reads, with a full outbox
	stuck := svc.Hub().Subscribe()
	defer stuck.Leave()
	for i := 0; i < outboxSize; i++ {
		svc.Hub().Publish(ErrorMessage("filler"))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.Start()
		assert.NoError(t, err)
	}()

	// Start blocks in Publish for sendTimeout; the lock must be free by then
	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return false
		default:
		}
		if svc.mu.TryLock() {
			svc.mu.Unlock()
			election, err := svc.store.Elections().Get()
			return err == nil && election.State == data.InProgress
		}
		return false
	}, sendTimeout*3/4, time.Millisecond)
	<-done
}
