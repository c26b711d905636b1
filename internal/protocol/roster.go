package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// KeyPlaceholder occupies the second roster line.
const KeyPlaceholder = "public key"

var ErrMalformedRoster = errors.New("malformed roster")

// Peer is one authenticated user as advertised in the roster.
type Peer struct {
	Username string
	IP       string
	P2PPort  int
}

// Roster is the reply to List and to a successful login.
type Roster struct {
	Balance int64
	Peers   []Peer
}

// Find returns the peer called username.
func (r *Roster) Find(username string) (Peer, bool) {
	if r == nil {
		return Peer{}, false
	}
	for _, p := range r.Peers {
		if p.Username == username {
			return p, true
		}
	}
	return Peer{}, false
}

// Format renders the roster as
//
//	<balance>\r\n
//	public key\r\n
//	<count>\r\n
//	<name>#<ip>#<port>\r\n   (count times)
func (r Roster) Format() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.Balance, 10) + crlf)
	b.WriteString(KeyPlaceholder + crlf)
	b.WriteString(strconv.Itoa(len(r.Peers)) + crlf)
	for _, p := range r.Peers {
		b.WriteString(p.Username + Separator + p.IP + Separator + strconv.Itoa(p.P2PPort) + crlf)
	}
	return b.String()
}

const crlf = "\r\n"

// ParseRoster reads a Format-ed roster. Lines may end with LF or CRLF.
func ParseRoster(text string) (*Roster, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: %d lines", ErrMalformedRoster, len(lines))
	}

	balance, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: balance %q", ErrMalformedRoster, lines[0])
	}
	count, err := strconv.Atoi(lines[2])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: count %q", ErrMalformedRoster, lines[2])
	}
	if len(lines)-3 < count {
		return nil, fmt.Errorf("%w: expected %d peers, got %d", ErrMalformedRoster, count, len(lines)-3)
	}

	r := &Roster{Balance: balance, Peers: make([]Peer, 0, count)}
	for _, line := range lines[3 : 3+count] {
		parts := strings.Split(line, Separator)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: peer line %q", ErrMalformedRoster, line)
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("%w: peer port %q", ErrMalformedRoster, parts[2])
		}
		r.Peers = append(r.Peers, Peer{Username: parts[0], IP: parts[1], P2PPort: port})
	}
	return r, nil
}
