package service

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/identity"
	"github.com/dino16m/chainvote-server/internal/testutil"
	"github.com/dino16m/chainvote-server/internal/wallet"
)

var scan = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newVerification(t *testing.T, requireSignature bool) (*VerificationService, *data.Store) {
	t.Helper()
	store := testutil.NewStore(t)
	sealer, err := identity.NewSealer(bytes.Repeat([]byte{7}, identity.KeySize))
	require.NoError(t, err)
	cfg := VerificationConfig{
		MaxDocumentBytes: 1 << 20,
		RequireSignature: requireSignature,
		ChallengeTTL:     time.Minute,
	}
	return NewVerificationService(store, sealer, cfg, testutil.Logger(t)), store
}

func newVoter(t *testing.T, store *data.Store, username string) *data.User {
	t.Helper()
	user := &data.User{ID: uuid.New(), Username: username, Password: "x", Role: data.RoleVoter}
	require.NoError(t, store.Users().Create(user))
	return user
}

func TestVerifyAadhaar(t *testing.T) {
	svc, store := newVerification(t, true)
	alice := newVoter(t, store, "alice")
	bob := newVoter(t, store, "bob")

	_, err := svc.VerifyAadhaar(alice.ID.String(), "1234", scan, int64(len(scan)))
	assert.ErrorIs(t, err, identity.ErrInvalidAadhaar)
	_, err = svc.VerifyAadhaar(alice.ID.String(), "1234 5678 9012", nil, 0)
	assert.ErrorIs(t, err, identity.ErrDocumentRequired)

	user, err := svc.VerifyAadhaar(alice.ID.String(), "1234 5678 9012", scan, int64(len(scan)))
	require.NoError(t, err)
	assert.True(t, user.AadhaarVerified)
	assert.Equal(t, "9012", user.AadhaarLast4)
	assert.NotContains(t, user.AadhaarSealed, "123456789012")
	require.NotNil(t, user.VerifiedAt)

	plain, err := svc.sealer.Open(user.AadhaarSealed)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", plain)

	_, err = svc.VerifyAadhaar(alice.ID.String(), "123456789012", scan, int64(len(scan)))
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	_, err = svc.VerifyAadhaar(bob.ID.String(), "1234-5678-9012", scan, int64(len(scan)))
	assert.ErrorIs(t, err, ErrAadhaarInUse)

	_, err = svc.VerifyAadhaar(uuid.NewString(), "123456789013", scan, int64(len(scan)))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyAadhaarVotersOnly(t *testing.T) {
	svc, store := newVerification(t, true)
	admin := &data.User{ID: uuid.New(), Username: "admin", Password: "x", Role: data.RoleAdmin}
	require.NoError(t, store.Users().Create(admin))

	_, err := svc.VerifyAadhaar(admin.ID.String(), "123456789012", scan, int64(len(scan)))
	assert.ErrorIs(t, err, ErrVotersOnly)
}

func TestLinkWalletWithSignature(t *testing.T) {
	svc, store := newVerification(t, true)
	alice := newVoter(t, store, "alice")

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, err = svc.LinkWallet(alice.ID.String(), address, "0x00")
	assert.ErrorIs(t, err, ErrChallengeExpired, "no challenge yet")

	challenge, err := svc.IssueChallenge(alice.ID.String(), strings.ToLower(address))
	require.NoError(t, err)
	assert.Equal(t, address, challenge.Address)
	assert.Contains(t, challenge.Message, challenge.Nonce)

	sig, err := wallet.SignMessage(key, challenge.Message)
	require.NoError(t, err)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherAddress := crypto.PubkeyToAddress(other.PublicKey).Hex()
	_, err = svc.LinkWallet(alice.ID.String(), otherAddress, sig)
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	forged, err := wallet.SignMessage(other, challenge.Message)
	require.NoError(t, err)
	_, err = svc.LinkWallet(alice.ID.String(), address, forged)
	assert.ErrorIs(t, err, wallet.ErrInvalidSignature)

	user, err := svc.LinkWallet(alice.ID.String(), address, sig)
	require.NoError(t, err)
	assert.Equal(t, address, user.Wallet())
	require.NotNil(t, user.WalletLinkedAt)

	// challenges are single use
	_, err = svc.LinkWallet(alice.ID.String(), address, sig)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestLinkWalletChallengeExpires(t *testing.T) {
	svc, store := newVerification(t, true)
	alice := newVoter(t, store, "alice")
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(alice.ID.String(), address)
	require.NoError(t, err)
	sig, err := wallet.SignMessage(key, challenge.Message)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	_, err = svc.LinkWallet(alice.ID.String(), address, sig)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestLinkWalletWithoutSignature(t *testing.T) {
	svc, store := newVerification(t, false)
	alice := newVoter(t, store, "alice")
	bob := newVoter(t, store, "bob")
	address := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

	_, err := svc.LinkWallet(alice.ID.String(), "not-an-address", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidAddress)

	user, err := svc.LinkWallet(alice.ID.String(), address, "")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", user.Wallet())

	// relinking the same address is fine, another user may not take it
	_, err = svc.LinkWallet(alice.ID.String(), address, "")
	require.NoError(t, err)
	_, err = svc.LinkWallet(bob.ID.String(), address, "")
	assert.ErrorIs(t, err, ErrWalletInUse)
	_, err = svc.IssueChallenge(bob.ID.String(), address)
	assert.ErrorIs(t, err, ErrWalletInUse)

	png, err := svc.WalletQR(alice.ID.String())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	_, err = svc.WalletQR(bob.ID.String())
	assert.ErrorIs(t, err, ErrWalletNotLinked)
}

func TestWalletLockedAfterVoting(t *testing.T) {
	svc, store := newVerification(t, false)
	alice := newVoter(t, store, "alice")
	require.NoError(t, store.Users().MarkVoted(alice.ID.String()))

	_, err := svc.LinkWallet(alice.ID.String(), "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "")
	assert.ErrorIs(t, err, ErrWalletLocked)
}

func TestCheckSeals(t *testing.T) {
	svc, store := newVerification(t, false)
	alice := newVoter(t, store, "alice")
	bob := newVoter(t, store, "bob")
	newVoter(t, store, "carol")

	report, err := svc.CheckSeals()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)

	_, err = svc.VerifyAadhaar(alice.ID.String(), "1234 5678 9012", scan, int64(len(scan)))
	require.NoError(t, err)

	// bob was verified while the server ran with a different key
	otherSealer, err := identity.NewSealer(bytes.Repeat([]byte{9}, identity.KeySize))
	require.NoError(t, err)
	other := NewVerificationService(store, otherSealer, svc.cfg, testutil.Logger(t))
	_, err = other.VerifyAadhaar(bob.ID.String(), "2345 6789 0123", scan, int64(len(scan)))
	require.NoError(t, err)

	report, err = svc.CheckSeals()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Broken)
	assert.Equal(t, []string{bob.ID.String()}, report.BrokenUsers)
}
