package data

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleVoter Role = "voter"
	RoleAdmin Role = "admin"
)

type ElectionState int

const (
	NotStarted ElectionState = iota
	InProgress
	Ended
)

func (s ElectionState) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case InProgress:
		return "IN_PROGRESS"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// ElectionID is the primary key of the single election row.
const ElectionID uint = 1

const DefaultCandidateImage = "/placeholder.svg"

type User struct {
	ID                 uuid.UUID `gorm:"type:text;primarykey"`
	Username           string    `gorm:"uniqueIndex;not null"`
	DisplayName        string
	Password           string
	Role               Role `gorm:"index;not null"`
	AadhaarVerified    bool
	AadhaarSealed      string  `gorm:"type:text"`
	AadhaarFingerprint *string `gorm:"uniqueIndex"`
	AadhaarLast4       string  `gorm:"column:aadhaar_last4"`
	VerifiedAt         *time.Time
	WalletAddress      *string `gorm:"uniqueIndex"`
	WalletLinkedAt     *time.Time
	HasVoted           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) Wallet() string {
	if u.WalletAddress == nil {
		return ""
	}
	return *u.WalletAddress
}

type Candidate struct {
	ID        uint   `gorm:"primarykey;autoIncrement"`
	Name      string `gorm:"not null"`
	Party     string `gorm:"not null"`
	ImageURL  string
	VoteCount int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Election struct {
	ID         uint          `gorm:"primarykey"`
	State      ElectionState `gorm:"not null;default:0"`
	TotalVotes int64         `gorm:"not null;default:0"`
	WinnerID   *uint
	StartedAt  *time.Time
	EndedAt    *time.Time
	UpdatedAt  time.Time
}

type Vote struct {
	ID            uuid.UUID `gorm:"type:text;primarykey"`
	UserID        uuid.UUID `gorm:"type:text;uniqueIndex;not null"`
	CandidateID   uint      `gorm:"index;not null"`
	WalletAddress string    `gorm:"not null"`
	Receipt       string    `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time
}

// WalletChallenge is the pending signing challenge for a user; one per user.
type WalletChallenge struct {
	UserID    uuid.UUID `gorm:"type:text;primarykey"`
	Address   string    `gorm:"not null"`
	Nonce     string    `gorm:"not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AllModels lists every table the service migrates.
func AllModels() []any {
	return []any{&User{}, &Candidate{}, &Election{}, &Vote{}, &WalletChallenge{}}
}
