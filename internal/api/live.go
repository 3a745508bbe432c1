package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/dino16m/chainvote-server/internal/service"
)

const writeTimeout = time.Second

func (c *Ctrl) acceptOptions() *websocket.AcceptOptions {
	if c.corsOrigin == "" || c.corsOrigin == "*" {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	origin, err := url.Parse(c.corsOrigin)
	if err != nil || origin.Host == "" {
		return nil
	}
	return &websocket.AcceptOptions{OriginPatterns: []string{origin.Host}}
}

// Live streams the election to a websocket client: a results snapshot on
// join, then every tally and state change until either side goes away.
func (c *Ctrl) Live(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	session, err := c.authenticate(token)
	if err != nil {
		c.logger.WithField("path", r.URL.Path).Warn("live feed rejected token")
		c.writeServiceError(w, r, err)
		return
	}

	// subscribe before the snapshot so no update falls in between
	sub := c.election.Hub().Subscribe()
	defer sub.Leave()

	results, err := c.election.Results()
	if err != nil {
		c.writeServiceError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, c.acceptOptions())
	if err != nil {
		c.logger.WithError(err).Error("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	log := c.logger.WithField("user", session.UserID).WithField("subscriber", sub.ID())
	log.Info("joined live feed")

	ctx := conn.CloseRead(r.Context())
	if err := c.send(ctx, conn, service.SnapshotMessage(results)); err != nil {
		log.WithError(err).Debug("failed to send snapshot")
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("live feed closed by client")
			return
		case msg, ok := <-sub.Inbox():
			if !ok {
				c.send(ctx, conn, service.ErrorMessage("feed dropped, reconnect to resume"))
				conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				return
			}
			if err := c.send(ctx, conn, msg); err != nil {
				log.WithError(err).Debug("failed to write live message")
				return
			}
		}
	}
}

func (c *Ctrl) send(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
