package models

import (
	"crypto/rsa"
	"time"

	"github.com/google/uuid"
)

// OnlineEntry describes one accepted connection. Username is empty until the
// connection logs in, and is cleared again when another connection logs in
// under the same name.
type OnlineEntry struct {
	ID          uuid.UUID
	Username    string
	IP          string
	Port        int
	P2PPort     int
	PublicKey   *rsa.PublicKey
	PublicPEM   string
	ConnectedAt time.Time
}

func (e OnlineEntry) Authenticated() bool {
	return e.Username != ""
}
