package data

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("NOT_FOUND")
	ErrDuplicate = errors.New("DUPLICATE")
)

// Store groups the per-table stores over one gorm handle. Inside
// Transaction every store shares the transaction's handle.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db: db,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) Users() *UserStore {
	return &UserStore{db: s.db}
}

func (s *Store) Candidates() *CandidateStore {
	return &CandidateStore{db: s.db}
}

func (s *Store) Elections() *ElectionStore {
	return &ElectionStore{db: s.db}
}

func (s *Store) Votes() *VoteStore {
	return &VoteStore{db: s.db}
}

func (s *Store) Challenges() *ChallengeStore {
	return &ChallengeStore{db: s.db}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

type UserStore struct {
	db *gorm.DB
}

func (s *UserStore) Create(user *User) error {
	return translate(s.db.Create(user).Error)
}

func (s *UserStore) Get(id string) (*User, error) {
	var user User
	if err := s.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) GetByUsername(username string) (*User, error) {
	var user User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) GetByFingerprint(fingerprint string) (*User, error) {
	var user User
	if err := s.db.Where("aadhaar_fingerprint = ?", fingerprint).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) GetByWallet(address string) (*User, error) {
	var user User
	if err := s.db.Where("wallet_address = ?", address).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) CountByRole(role Role) (int64, error) {
	var n int64
	err := s.db.Model(&User{}).Where("role = ?", role).Count(&n).Error
	return n, err
}

func (s *UserStore) CountVerified() (int64, error) {
	var n int64
	err := s.db.Model(&User{}).Where("aadhaar_verified = ?", true).Count(&n).Error
	return n, err
}

func (s *UserStore) CountWallets() (int64, error) {
	var n int64
	err := s.db.Model(&User{}).Where("wallet_address IS NOT NULL").Count(&n).Error
	return n, err
}

// conditionalUpdate writes columns to the user matched by cond. It reports
// ErrNotFound when no row matched, so a stale guard cannot be overwritten.
func (s *UserStore) conditionalUpdate(id string, cond map[string]any, columns map[string]any) error {
	res := s.db.Model(&User{}).Where("id = ?", id).Where(cond).Updates(columns)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVerified stores the sealed Aadhaar details on a user who is not yet
// verified.
func (s *UserStore) MarkVerified(id, sealed, fingerprint, last4 string, at time.Time) error {
	return s.conditionalUpdate(id, map[string]any{"aadhaar_verified": false}, map[string]any{
		"aadhaar_verified":    true,
		"aadhaar_sealed":      sealed,
		"aadhaar_fingerprint": fingerprint,
		"aadhaar_last4":       last4,
		"verified_at":         at,
	})
}

// SetWallet links address to a user who has not voted.
func (s *UserStore) SetWallet(id, address string, at time.Time) error {
	return s.conditionalUpdate(id, map[string]any{"has_voted": false}, map[string]any{
		"wallet_address":   address,
		"wallet_linked_at": at,
	})
}

// MarkVoted sets the vote-cast flag once.
func (s *UserStore) MarkVoted(id string) error {
	return s.conditionalUpdate(id, map[string]any{"has_voted": false}, map[string]any{
		"has_voted": true,
	})
}

func (s *UserStore) ListVerified() ([]User, error) {
	var users []User
	err := s.db.Where("aadhaar_verified = ?", true).Order("created_at asc").Find(&users).Error
	return users, err
}

// ClearVoted resets the vote-cast flag of every user.
func (s *UserStore) ClearVoted() error {
	return s.db.Model(&User{}).Where("has_voted = ?", true).Update("has_voted", false).Error
}

type CandidateStore struct {
	db *gorm.DB
}

func (s *CandidateStore) Create(candidate *Candidate) error {
	return translate(s.db.Create(candidate).Error)
}

func (s *CandidateStore) Get(id uint) (*Candidate, error) {
	var candidate Candidate
	if err := s.db.Where("id = ?", id).First(&candidate).Error; err != nil {
		return nil, translate(err)
	}
	return &candidate, nil
}

func (s *CandidateStore) List() ([]Candidate, error) {
	var candidates []Candidate
	err := s.db.Order("id asc").Find(&candidates).Error
	return candidates, err
}

func (s *CandidateStore) Count() (int64, error) {
	var n int64
	err := s.db.Model(&Candidate{}).Count(&n).Error
	return n, err
}

// NextID is one past the highest candidate id, so the id of a removed
// last candidate is handed out again.
func (s *CandidateStore) NextID() (uint, error) {
	var max uint
	err := s.db.Model(&Candidate{}).Select("COALESCE(MAX(id), 0)").Scan(&max).Error
	return max + 1, err
}

func (s *CandidateStore) Update(candidate *Candidate) error {
	return translate(s.db.Save(candidate).Error)
}

func (s *CandidateStore) Delete(candidate *Candidate) error {
	return s.db.Delete(candidate).Error
}

func (s *CandidateStore) IncrementVotes(id uint) error {
	res := s.db.Model(&Candidate{}).Where("id = ?", id).UpdateColumn("vote_count", gorm.Expr("vote_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CandidateStore) ResetVotes() error {
	return s.db.Model(&Candidate{}).Where("vote_count <> ?", 0).UpdateColumn("vote_count", 0).Error
}

type ElectionStore struct {
	db *gorm.DB
}

// Get returns the election row, creating it as NotStarted on first use.
func (s *ElectionStore) Get() (*Election, error) {
	election := Election{ID: ElectionID}
	if err := s.db.Where(Election{ID: ElectionID}).FirstOrCreate(&election).Error; err != nil {
		return nil, err
	}
	return &election, nil
}

func (s *ElectionStore) Update(election *Election) error {
	return s.db.Save(election).Error
}

type VoteStore struct {
	db *gorm.DB
}

func (s *VoteStore) Create(vote *Vote) error {
	return translate(s.db.Create(vote).Error)
}

func (s *VoteStore) GetByUser(userID string) (*Vote, error) {
	var vote Vote
	if err := s.db.Where("user_id = ?", userID).First(&vote).Error; err != nil {
		return nil, translate(err)
	}
	return &vote, nil
}

func (s *VoteStore) Count() (int64, error) {
	var n int64
	err := s.db.Model(&Vote{}).Count(&n).Error
	return n, err
}

func (s *VoteStore) DeleteAll() error {
	return s.db.Where("1 = 1").Delete(&Vote{}).Error
}

type ChallengeStore struct {
	db *gorm.DB
}

// Put stores the challenge, replacing any pending one for the same user.
func (s *ChallengeStore) Put(challenge *WalletChallenge) error {
	return s.db.Save(challenge).Error
}

func (s *ChallengeStore) Get(userID string) (*WalletChallenge, error) {
	var challenge WalletChallenge
	if err := s.db.Where("user_id = ?", userID).First(&challenge).Error; err != nil {
		return nil, translate(err)
	}
	return &challenge, nil
}

func (s *ChallengeStore) Delete(userID string) error {
	return s.db.Where("user_id = ?", userID).Delete(&WalletChallenge{}).Error
}
