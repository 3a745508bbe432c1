package service

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/identity"
	"github.com/dino16m/chainvote-server/internal/wallet"
)

type VerificationConfig struct {
	MaxDocumentBytes int64
	RequireSignature bool
	ChallengeTTL     time.Duration
}

// Challenge is what a voter's wallet has to sign before the address is
// linked.
type Challenge struct {
	Address   string
	Nonce     string
	Message   string
	ExpiresAt time.Time
}

// VerificationService handles the two steps a voter completes before
// voting: identity verification and wallet linking.
type VerificationService struct {
	store  *data.Store
	sealer *identity.Sealer
	cfg    VerificationConfig
	logger *logrus.Logger
	now    func() time.Time
}

func NewVerificationService(store *data.Store, sealer *identity.Sealer, cfg VerificationConfig, logger *logrus.Logger) *VerificationService {
	return &VerificationService{
		store:  store,
		sealer: sealer,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (v *VerificationService) voter(userID string) (*data.User, error) {
	user, err := v.store.Users().Get(userID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.Role != data.RoleVoter {
		return nil, ErrVotersOnly
	}
	return user, nil
}

// VerifyAadhaar checks the number and the uploaded scan, then marks the
// voter verified. docHead holds the first bytes of the scan.
func (v *VerificationService) VerifyAadhaar(userID, rawNumber string, docHead []byte, docSize int64) (*data.User, error) {
	number, err := identity.NormalizeAadhaar(rawNumber)
	if err != nil {
		return nil, err
	}
	if err := identity.CheckDocument(docHead, docSize, v.cfg.MaxDocumentBytes); err != nil {
		return nil, err
	}

	user, err := v.voter(userID)
	if err != nil {
		return nil, err
	}
	if user.AadhaarVerified {
		return nil, ErrAlreadyVerified
	}

	fingerprint := v.sealer.Fingerprint(number)
	owner, err := v.store.Users().GetByFingerprint(fingerprint)
	if err == nil && owner.ID != user.ID {
		v.logger.WithField("user", user.ID).Warn("aadhaar already bound to another account")
		return nil, ErrAadhaarInUse
	}
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return nil, err
	}

	sealed, err := v.sealer.Seal(number)
	if err != nil {
		return nil, err
	}
	err = v.store.Users().MarkVerified(user.ID.String(), sealed, fingerprint, identity.Last4(number), v.now())
	if errors.Is(err, data.ErrDuplicate) {
		return nil, ErrAadhaarInUse
	}
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrAlreadyVerified
	}
	if err != nil {
		return nil, err
	}
	v.logger.WithField("user", user.ID).Info("aadhaar verified")
	return v.store.Users().Get(user.ID.String())
}

// checkWalletTarget loads the voter and makes sure address may be linked
// to them.
func (v *VerificationService) checkWalletTarget(userID, address string) (*data.User, error) {
	user, err := v.voter(userID)
	if err != nil {
		return nil, err
	}
	if user.HasVoted {
		return nil, ErrWalletLocked
	}
	owner, err := v.store.Users().GetByWallet(address)
	if err == nil && owner.ID != user.ID {
		return nil, ErrWalletInUse
	}
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return nil, err
	}
	return user, nil
}

func (v *VerificationService) IssueChallenge(userID, rawAddress string) (*Challenge, error) {
	address, err := wallet.NormalizeAddress(rawAddress)
	if err != nil {
		return nil, err
	}
	user, err := v.checkWalletTarget(userID, address)
	if err != nil {
		return nil, err
	}

	nonce, err := wallet.NewNonce()
	if err != nil {
		return nil, err
	}
	now := v.now()
	pending := &data.WalletChallenge{
		UserID:    user.ID,
		Address:   address,
		Nonce:     nonce,
		ExpiresAt: now.Add(v.cfg.ChallengeTTL),
		CreatedAt: now,
	}
	if err := v.store.Challenges().Put(pending); err != nil {
		return nil, err
	}
	v.logger.WithField("user", user.ID).WithField("address", address).Debug("wallet challenge issued")
	return &Challenge{
		Address:   address,
		Nonce:     nonce,
		Message:   wallet.ChallengeMessage(address, nonce),
		ExpiresAt: pending.ExpiresAt,
	}, nil
}

// LinkWallet binds address to the voter. When signatures are required the
// voter must hold an unexpired challenge for the same address, signed by
// that address.
func (v *VerificationService) LinkWallet(userID, rawAddress, signature string) (*data.User, error) {
	address, err := wallet.NormalizeAddress(rawAddress)
	if err != nil {
		return nil, err
	}
	user, err := v.checkWalletTarget(userID, address)
	if err != nil {
		return nil, err
	}

	if v.cfg.RequireSignature {
		if err := v.checkChallenge(user, address, signature); err != nil {
			return nil, err
		}
	}

	// the write only matches while the voter has not voted, so a vote cast
	// since checkWalletTarget wins
	err = v.store.Users().SetWallet(user.ID.String(), address, v.now())
	if errors.Is(err, data.ErrDuplicate) {
		return nil, ErrWalletInUse
	}
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrWalletLocked
	}
	if err != nil {
		return nil, err
	}
	v.logger.WithField("user", user.ID).WithField("address", address).Info("wallet linked")
	return v.store.Users().Get(user.ID.String())
}

func (v *VerificationService) checkChallenge(user *data.User, address, signature string) error {
	pending, err := v.store.Challenges().Get(user.ID.String())
	if errors.Is(err, data.ErrNotFound) {
		return ErrChallengeExpired
	}
	if err != nil {
		return err
	}
	if v.now().After(pending.ExpiresAt) {
		if err := v.store.Challenges().Delete(user.ID.String()); err != nil {
			v.logger.WithError(err).Warn("failed to delete expired challenge")
		}
		return ErrChallengeExpired
	}
	if pending.Address != address {
		return ErrChallengeMismatch
	}
	if err := wallet.VerifySignature(address, wallet.ChallengeMessage(address, pending.Nonce), signature); err != nil {
		v.logger.WithField("user", user.ID).WithField("address", address).Warn("wallet signature rejected")
		return err
	}
	return v.store.Challenges().Delete(user.ID.String())
}

func (v *VerificationService) WalletQR(userID string) ([]byte, error) {
	user, err := v.voter(userID)
	if err != nil {
		return nil, err
	}
	if user.WalletAddress == nil {
		return nil, ErrWalletNotLinked
	}
	return wallet.QRCode(*user.WalletAddress)
}

// SealReport summarises a pass over every verified voter's sealed number.
type SealReport struct {
	Checked     int      `json:"checked"`
	Broken      int      `json:"broken"`
	BrokenUsers []string `json:"brokenUsers"`
}

// CheckSeals opens each stored Aadhaar seal and confirms it still matches
// the voter's fingerprint. A seal written under another key counts as
// broken.
func (v *VerificationService) CheckSeals() (*SealReport, error) {
	users, err := v.store.Users().ListVerified()
	if err != nil {
		return nil, err
	}
	report := &SealReport{BrokenUsers: []string{}}
	for _, user := range users {
		report.Checked++
		number, err := v.sealer.Open(user.AadhaarSealed)
		if err == nil && user.AadhaarFingerprint != nil && v.sealer.Fingerprint(number) == *user.AadhaarFingerprint {
			continue
		}
		report.Broken++
		report.BrokenUsers = append(report.BrokenUsers, user.ID.String())
		v.logger.WithField("user", user.ID).Warn("aadhaar seal does not match fingerprint")
	}
	return report, nil
}
