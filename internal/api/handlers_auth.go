package api

import (
	"net/http"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/service"
)

func (c *Ctrl) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	user, err := c.accounts.Signup(service.SignupInput{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	c.writeSession(w, r, http.StatusCreated, user)
}

func (c *Ctrl) Login(w http.ResponseWriter, r *http.Request) {
	c.login(w, r, data.RoleVoter)
}

func (c *Ctrl) AdminLogin(w http.ResponseWriter, r *http.Request) {
	c.login(w, r, data.RoleAdmin)
}

func (c *Ctrl) login(w http.ResponseWriter, r *http.Request, role data.Role) {
	var req LoginRequest
	if err := decodeJson(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	user, err := c.accounts.Login(req.Username, req.Password, role)
	if err != nil {
		c.logger.WithField("username", req.Username).WithField("role", role).Warn("login rejected")
		c.writeServiceError(w, r, err)
		return
	}
	c.writeSession(w, r, http.StatusOK, user)
}

func (c *Ctrl) writeSession(w http.ResponseWriter, r *http.Request, status int, user *data.User) {
	token, session, err := c.sessions.Issue(user)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, status, AuthResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User:      toUserResponse(user),
	})
}

func (c *Ctrl) Logout(w http.ResponseWriter, r *http.Request, session Session) {
	c.sessions.Revoke(session.TokenID)
	w.WriteHeader(http.StatusNoContent)
}

func (c *Ctrl) Me(w http.ResponseWriter, r *http.Request, session Session) {
	user, err := c.accounts.Get(session.UserID)
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}
	WriteJson(w, http.StatusOK, toUserResponse(user))
}
