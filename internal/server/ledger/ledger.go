// Package ledger keeps the server's account balances and the table of online
// connections. Both tables live in memory and share one mutex. Nothing here
// touches the network: callers get back the Peer to notify and send outside
// the lock.
package ledger

import (
	"crypto/rsa"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/micropay/internal/protocol"
	"github.com/dmitrijs2005/micropay/internal/server/models"
)

// OpeningBalance is credited to every new account.
const OpeningBalance int64 = 10000

// Peer is the handle the server uses to push messages to a connection.
type Peer interface {
	Notify(text string) error
}

type session struct {
	entry models.OnlineEntry
	peer  Peer
}

type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	// online keeps accept order
	online []*session
	now    func() time.Time
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*models.Account),
		now:      time.Now,
	}
}

// Register creates an account with the opening balance.
func (l *Ledger) Register(username string) error {
	if username == "" || strings.ContainsAny(username, protocol.Separator+"\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[username]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, username)
	}
	l.accounts[username] = &models.Account{Username: username, Balance: OpeningBalance, CreatedAt: l.now()}
	return nil
}

// Balance returns the current balance of username.
func (l *Ledger) Balance(username string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[username]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, username)
	}
	return acc.Balance, nil
}

// Connect adds an unauthenticated entry for a freshly accepted connection.
func (l *Ledger) Connect(id uuid.UUID, peer Peer, ip string, port int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.online = append(l.online, &session{
		entry: models.OnlineEntry{ID: id, IP: ip, Port: port, ConnectedAt: l.now()},
		peer:  peer,
	})
}

// Disconnect removes the entry for id and returns it.
func (l *Ledger) Disconnect(id uuid.UUID) (models.OnlineEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return models.OnlineEntry{}, false
	}
	e := l.online[i].entry
	l.online = slices.Delete(l.online, i, i+1)
	return e, true
}

// Login is the input of Ledger.Login. P2PPort is negative when the client
// sent an unusable port, and PublicKey is nil when PublicPEM did not parse.
type Login struct {
	Username  string
	P2PPort   int
	PublicKey *rsa.PublicKey
	PublicPEM string
}

// Login binds the connection to an account and returns the roster the
// client should see. Any other connection logged in under the same name is
// signed out but stays connected. It returns the IDs of evicted connections.
func (l *Ledger) Login(id uuid.UUID, req Login) (protocol.Roster, []uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[req.Username]
	if !ok {
		return protocol.Roster{}, nil, fmt.Errorf("%w: %s", ErrUnknownAccount, req.Username)
	}
	i := l.indexOf(id)
	if i < 0 {
		return protocol.Roster{}, nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	if req.P2PPort < 0 {
		return protocol.Roster{}, nil, ErrInvalidPort
	}
	if req.PublicPEM != "" && req.PublicKey == nil {
		return protocol.Roster{}, nil, ErrInvalidKey
	}

	var evicted []uuid.UUID
	for _, s := range l.online {
		if s.entry.ID != id && s.entry.Username == req.Username {
			s.entry.Username = ""
			s.entry.P2PPort = 0
			s.entry.PublicKey = nil
			s.entry.PublicPEM = ""
			evicted = append(evicted, s.entry.ID)
		}
	}

	e := &l.online[i].entry
	e.Username = req.Username
	e.P2PPort = req.P2PPort
	e.PublicKey = req.PublicKey
	e.PublicPEM = req.PublicPEM

	return l.rosterLocked(acc), evicted, nil
}

// Roster lists authenticated connections for the caller identified by id.
func (l *Ledger) Roster(id uuid.UUID) (protocol.Roster, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexOf(id)
	if i < 0 {
		return protocol.Roster{}, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	name := l.online[i].entry.Username
	if name == "" {
		return protocol.Roster{}, ErrNotAuthenticated
	}
	acc, ok := l.accounts[name]
	if !ok {
		return protocol.Roster{}, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	return l.rosterLocked(acc), nil
}

func (l *Ledger) rosterLocked(acc *models.Account) protocol.Roster {
	r := protocol.Roster{Balance: acc.Balance}
	for _, s := range l.online {
		if s.entry.Authenticated() {
			r.Peers = append(r.Peers, protocol.Peer{Username: s.entry.Username, IP: s.entry.IP, P2PPort: s.entry.P2PPort})
		}
	}
	return r
}

// PublicKey returns the PEM public key registered by username's online
// connection.
func (l *Ledger) PublicKey(username string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s := l.byUsername(username); s != nil && s.entry.PublicPEM != "" {
		return s.entry.PublicPEM, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoKey, username)
}

// ClientKey returns the key the connection sent at login, or nil.
func (l *Ledger) ClientKey(id uuid.UUID) *rsa.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexOf(id); i >= 0 {
		return l.online[i].entry.PublicKey
	}
	return nil
}

// Entry returns a copy of the entry for id.
func (l *Ledger) Entry(id uuid.UUID) (models.OnlineEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexOf(id); i >= 0 {
		return l.online[i].entry, true
	}
	return models.OnlineEntry{}, false
}

// Settlement is an applied claim.
type Settlement struct {
	Payer        string
	Payee        string
	Amount       int64
	PayerBalance int64
	PayeeBalance int64
}

// Settle applies a claim relayed over connection sender. The sender must be
// logged in as the payee. Balances may go negative. Nothing is changed when
// an error is returned.
func (l *Ledger) Settle(sender uuid.UUID, c protocol.Claim) (Settlement, error) {
	amount, err := c.Value()
	if err != nil {
		return Settlement{}, fmt.Errorf("%w: %q", ErrInvalidAmount, c.Amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	payer, ok := l.accounts[c.Payer]
	if !ok {
		return Settlement{}, fmt.Errorf("payer %w: %s", ErrUnknownAccount, c.Payer)
	}
	payee, ok := l.accounts[c.Payee]
	if !ok {
		return Settlement{}, fmt.Errorf("payee %w: %s", ErrUnknownAccount, c.Payee)
	}

	i := l.indexOf(sender)
	if i < 0 {
		return Settlement{}, fmt.Errorf("%w: %s", ErrNoSession, sender)
	}
	if got := l.online[i].entry.Username; got != c.Payee {
		return Settlement{}, fmt.Errorf("%w: sender is %q, payee is %q", ErrSpoofed, got, c.Payee)
	}

	if subOverflows(payer.Balance, amount) || addOverflows(payee.Balance, amount) {
		return Settlement{}, fmt.Errorf("%w: %d overflows a balance", ErrInvalidAmount, amount)
	}

	payer.Balance -= amount
	payee.Balance += amount

	return Settlement{
		Payer:        payer.Username,
		Payee:        payee.Username,
		Amount:       amount,
		PayerBalance: payer.Balance,
		PayeeBalance: payee.Balance,
	}, nil
}

func addOverflows(a, b int64) bool {
	sum := a + b
	return (b > 0 && sum < a) || (b < 0 && sum > a)
}

func subOverflows(a, b int64) bool {
	diff := a - b
	return (b > 0 && diff > a) || (b < 0 && diff < a)
}

// PeerFor returns the connection currently logged in as username.
func (l *Ledger) PeerFor(username string) (Peer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s := l.byUsername(username); s != nil {
		return s.peer, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPayerOffline, username)
}

// Snapshot copies the online table in accept order.
func (l *Ledger) Snapshot() []models.OnlineEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.OnlineEntry, 0, len(l.online))
	for _, s := range l.online {
		out = append(out, s.entry)
	}
	return out
}

// Accounts returns the number of registered accounts.
func (l *Ledger) Accounts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}

func (l *Ledger) indexOf(id uuid.UUID) int {
	return slices.IndexFunc(l.online, func(s *session) bool { return s.entry.ID == id })
}

func (l *Ledger) byUsername(username string) *session {
	if username == "" {
		return nil
	}
	for _, s := range l.online {
		if s.entry.Username == username {
			return s
		}
	}
	return nil
}
