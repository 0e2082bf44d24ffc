package devserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wasock/internal/crypto"
	"wasock/internal/domain"
	"wasock/internal/metrics"
)

var (
	// ErrUnknownRef is returned by Scan when no connection holds the ref.
	ErrUnknownRef = errors.New("devserver: unknown ref")
	// ErrBadQR is returned by Scan for a malformed QR payload.
	ErrBadQR = errors.New("devserver: malformed QR payload")
)

// Config scripts the server behaviour.
type Config struct {
	// RefTTL is announced with every ref.
	RefTTL time.Duration
	// MaxRefs is how many refs one connection gets before reref answers 429.
	MaxRefs int
	// RerefStatuses are returned by successive rerefs before the default
	// behaviour applies. 200 entries issue a new ref.
	RerefStatuses []int
	// LoginStatus forces the login reply status. Zero verifies the tokens.
	LoginStatus int
	// LoginTOS accompanies a forced 403.
	LoginTOS int
	// Challenge makes the server challenge every restored session.
	Challenge bool
	// Wid is the account id reported in Conn pushes.
	Wid string
}

// DefaultConfig returns a Config that refreshes the QR five times, 20s apart.
func DefaultConfig() Config {
	return Config{
		RefTTL:  20 * time.Second,
		MaxRefs: 5,
		Wid:     "15550000000@c.us",
	}
}

// Stats counts completed exchanges.
type Stats struct {
	Scans      int64
	Logins     int64
	Challenges int64
}

type account struct {
	clientID domain.ClientID
	tokens   domain.Tokens
	encKey   []byte
	macKey   []byte
}

// Server is the development endpoint.
type Server struct {
	cfg      Config
	clock    clock.Clock
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	scans      atomic.Int64
	logins     atomic.Int64
	challenges atomic.Int64

	mu       sync.Mutex
	refs     map[string]*conn
	accounts map[domain.ClientID]*account
	conns    map[*conn]struct{}
}

// New returns a Server. A nil clock uses the wall clock.
func New(cfg Config, clk clock.Clock, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.RefTTL <= 0 {
		cfg.RefTTL = def.RefTTL
	}
	if cfg.MaxRefs <= 0 {
		cfg.MaxRefs = def.MaxRefs
	}
	if cfg.Wid == "" {
		cfg.Wid = def.Wid
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Server{
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With().Str("component", "devserver").Logger(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		refs:     make(map[string]*conn),
		accounts: make(map[domain.ClientID]*account),
		conns:    make(map[*conn]struct{}),
	}
}

// Handler returns the HTTP routes of the server wrapped in the access log.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/scan", s.serveScan)
	mux.Handle("/metrics", metrics.Handler())
	return accessLog(s.logger, mux)
}

// Scan plays the phone reading a QR code: it seals fresh keys for the public
// key in qr and pushes Conn to the connection holding the ref.
func (s *Server) Scan(qr string) error {
	parts := strings.Split(strings.TrimSpace(qr), ",")
	if len(parts) != 3 {
		return ErrBadQR
	}
	ref, pubB64, clientID := parts[0], parts[1], domain.ClientID(parts[2])
	var pub domain.X25519Public
	if err := pub.UnmarshalText([]byte(pubB64)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadQR, err)
	}

	s.mu.Lock()
	c, ok := s.refs[ref]
	s.mu.Unlock()
	if !ok || c.id() != clientID {
		return ErrUnknownRef
	}

	acct := &account{clientID: clientID, tokens: newTokens(), encKey: randomKey(), macKey: randomKey()}
	secret, err := crypto.SealEncryptionKeys(pub, acct.encKey, acct.macKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts[clientID] = acct
	delete(s.refs, ref)
	s.mu.Unlock()

	s.scans.Add(1)
	s.logger.Info().Str("ref", ref).Str("client_id", clientID.String()).Msg("QR scanned")
	return c.paired(acct, crypto.B64(secret))
}

// Stats returns the exchange counters.
func (s *Server) Stats() Stats {
	return Stats{Scans: s.scans.Load(), Logins: s.logins.Load(), Challenges: s.challenges.Load()}
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// Kick sends a replaced disconnect to every client of clientID.
func (s *Server) Kick(clientID domain.ClientID) int {
	s.mu.Lock()
	var targets []*conn
	for c := range s.conns {
		if c.id() == clientID {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		_ = c.push("Cmd", map[string]string{"type": "disconnect", "kind": "replaced"})
	}
	return len(targets)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := &conn{srv: s, ws: ws, logger: s.logger.With().Str("remote", r.RemoteAddr).Logger()}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.serve()

	s.mu.Lock()
	delete(s.conns, c)
	for ref, holder := range s.refs {
		if holder == c {
			delete(s.refs, ref)
		}
	}
	s.mu.Unlock()
}

func (s *Server) serveScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch err := s.Scan(string(body)); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrUnknownRef):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrBadQR):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// issueRef records a new ref for c.
func (s *Server) issueRef(c *conn) string {
	ref := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	for old, holder := range s.refs {
		if holder == c {
			delete(s.refs, old)
		}
	}
	s.refs[ref] = c
	return ref
}

func (s *Server) account(clientID domain.ClientID) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[clientID]
	return a, ok
}

func newTokens() domain.Tokens {
	return domain.Tokens{Client: uuid.NewString(), Server: uuid.NewString(), Browser: uuid.NewString()}
}

func randomKey() []byte {
	k := make([]byte, crypto.KeySize)
	if _, err := rand.Read(k); err != nil {
		panic(err)
	}
	return k
}
