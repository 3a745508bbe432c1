package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dino16m/chainvote-server/internal/data"
	"github.com/dino16m/chainvote-server/internal/service"
)

// Ctrl serves the JSON API over the account, verification and election
// services.
type Ctrl struct {
	accounts     *service.AccountService
	verification *service.VerificationService
	election     *service.ElectionService
	sessions     *SessionService
	logger       *logrus.Logger
	corsOrigin   string
	maxDocument  int64
}

type Options struct {
	CORSOrigin       string
	MaxDocumentBytes int64
}

func NewCtrl(
	accounts *service.AccountService,
	verification *service.VerificationService,
	election *service.ElectionService,
	sessions *SessionService,
	logger *logrus.Logger,
	opts Options,
) *Ctrl {
	return &Ctrl{
		accounts:     accounts,
		verification: verification,
		election:     election,
		sessions:     sessions,
		logger:       logger,
		corsOrigin:   opts.CORSOrigin,
		maxDocument:  opts.MaxDocumentBytes,
	}
}

func (c *Ctrl) RegisterRoutes(globalMux *http.ServeMux) {
	globalMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		WriteJson(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	authMux := http.NewServeMux()
	authMux.HandleFunc("POST /signup", c.Signup)
	authMux.HandleFunc("POST /login", c.Login)
	authMux.HandleFunc("POST /admin/login", c.AdminLogin)
	authMux.HandleFunc("POST /logout", c.requireAuth("", c.Logout))
	authMux.HandleFunc("GET /me", c.requireAuth("", c.Me))
	globalMux.Handle("/auth/", http.StripPrefix("/auth", authMux))

	globalMux.HandleFunc("POST /identity/aadhaar", c.requireAuth(data.RoleVoter, c.VerifyAadhaar))
	globalMux.HandleFunc("POST /wallet/challenge", c.requireAuth(data.RoleVoter, c.WalletChallenge))
	globalMux.HandleFunc("POST /wallet/link", c.requireAuth(data.RoleVoter, c.LinkWallet))
	globalMux.HandleFunc("GET /wallet/qr", c.requireAuth(data.RoleVoter, c.WalletQR))

	globalMux.HandleFunc("GET /candidates", c.ListCandidates)
	globalMux.HandleFunc("GET /candidates/{id}", c.GetCandidate)
	globalMux.HandleFunc("POST /candidates", c.requireAuth(data.RoleAdmin, c.AddCandidate))
	globalMux.HandleFunc("PUT /candidates/{id}", c.requireAuth(data.RoleAdmin, c.UpdateCandidate))
	globalMux.HandleFunc("DELETE /candidates/{id}", c.requireAuth(data.RoleAdmin, c.RemoveCandidate))

	globalMux.HandleFunc("GET /election", c.GetElection)
	globalMux.HandleFunc("POST /election/start", c.requireAuth(data.RoleAdmin, c.StartElection))
	globalMux.HandleFunc("POST /election/end", c.requireAuth(data.RoleAdmin, c.EndElection))
	globalMux.HandleFunc("POST /election/reset", c.requireAuth(data.RoleAdmin, c.ResetElection))
	globalMux.HandleFunc("GET /election/results", c.Results)
	globalMux.HandleFunc("GET /election/stats", c.requireAuth(data.RoleAdmin, c.Stats))
	globalMux.HandleFunc("GET /election/live", c.Live)

	globalMux.HandleFunc("POST /votes", c.requireAuth(data.RoleVoter, c.CastVote))
	globalMux.HandleFunc("GET /votes/me", c.requireAuth(data.RoleVoter, c.MyVote))
}

// Handler mounts the API under /api/ with request logging and CORS.
func (c *Ctrl) Handler() http.Handler {
	globalMux := http.NewServeMux()
	c.RegisterRoutes(globalMux)

	topMux := http.NewServeMux()
	topMux.Handle("/api/", http.StripPrefix("/api", globalMux))

	return RequestLogger(c.logger, CORS(c.corsOrigin, topMux))
}
