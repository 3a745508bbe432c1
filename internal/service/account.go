package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/dino16m/chainvote-server/internal/data"
)

const (
	minPasswordLength = 4
	maxPasswordLength = 72 // bcrypt input limit
	maxDisplayName    = 64
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type SignupInput struct {
	Username    string
	Password    string
	DisplayName string
}

// AccountService registers voters and checks credentials.
type AccountService struct {
	store  *data.Store
	logger *logrus.Logger
}

func NewAccountService(store *data.Store, logger *logrus.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger,
	}
}

func (a *AccountService) Signup(in SignupInput) (*data.User, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if len(in.Password) < minPasswordLength || len(in.Password) > maxPasswordLength {
		return nil, ErrInvalidPassword
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	if utf8.RuneCountInString(displayName) > maxDisplayName {
		displayName = string([]rune(displayName)[:maxDisplayName])
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &data.User{
		ID:          uuid.New(),
		Username:    username,
		DisplayName: displayName,
		Password:    string(hashed),
		Role:        data.RoleVoter,
	}
	if err := a.store.Users().Create(user); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	a.logger.WithField("user", user.ID).WithField("username", username).Info("voter registered")
	return user, nil
}

// Login checks username and password for an account of the given role. Any
// mismatch, including a role mismatch, is reported as ErrInvalidCredentials.
func (a *AccountService) Login(username, password string, role data.Role) (*data.User, error) {
	user, err := a.store.Users().GetByUsername(strings.TrimSpace(username))
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.Role != role {
		a.logger.WithField("user", user.ID).WithField("role", role).Warn("login with wrong role")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		a.logger.WithField("user", user.ID).Warn("invalid password")
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (a *AccountService) Get(id string) (*data.User, error) {
	user, err := a.store.Users().Get(id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// EnsureAdmin creates the administrator account if it does not exist yet.
// An existing admin keeps its stored password.
func (a *AccountService) EnsureAdmin(username, password string) error {
	existing, err := a.store.Users().GetByUsername(username)
	if err == nil {
		if !existing.IsAdmin() {
			return fmt.Errorf("account %q exists and is not an admin", username)
		}
		return nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return err
	}
	if password == "" {
		return errors.New("admin password is empty")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	admin := &data.User{
		ID:          uuid.New(),
		Username:    username,
		DisplayName: "Administrator",
		Password:    string(hashed),
		Role:        data.RoleAdmin,
	}
	if err := a.store.Users().Create(admin); err != nil {
		return err
	}
	a.logger.WithField("username", username).Info("admin account created")
	return nil
}
