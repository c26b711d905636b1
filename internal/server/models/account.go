package models

import "time"

type Account struct {
	Username  string
	Balance   int64
	CreatedAt time.Time
}
