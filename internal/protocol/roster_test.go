package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterFormat(t *testing.T) {
	r := Roster{
		Balance: 9500,
		Peers: []Peer{
			{Username: "alice", IP: "127.0.0.1", P2PPort: 6001},
			{Username: "bob", IP: "10.0.0.2", P2PPort: 6002},
		},
	}
	want := "9500\r\npublic key\r\n2\r\nalice#127.0.0.1#6001\r\nbob#10.0.0.2#6002\r\n"
	assert.Equal(t, want, r.Format())

	got, err := ParseRoster(want)
	require.NoError(t, err)
	assert.Equal(t, &r, got)
}

func TestParseRoster_Empty(t *testing.T) {
	got, err := ParseRoster("-40\npublic key\n0\n")
	require.NoError(t, err)
	assert.EqualValues(t, -40, got.Balance)
	assert.Empty(t, got.Peers)
}

func TestParseRoster_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"too short":     "100\r\npublic key\r\n",
		"bad balance":   "x\r\npublic key\r\n0\r\n",
		"bad count":     "1\r\npublic key\r\n-1\r\n",
		"missing peers": "1\r\npublic key\r\n2\r\na#1.1.1.1#5\r\n",
		"bad peer":      "1\r\npublic key\r\n1\r\na#1.1.1.1\r\n",
		"bad peer port": "1\r\npublic key\r\n1\r\na#1.1.1.1#x\r\n",
		"reply code":    "220 AUTH_FAIL\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRoster(in)
			assert.ErrorIs(t, err, ErrMalformedRoster)
		})
	}
}

func TestRosterFind(t *testing.T) {
	r := &Roster{Peers: []Peer{{Username: "bob", IP: "1.2.3.4", P2PPort: 7}}}
	p, ok := r.Find("bob")
	assert.True(t, ok)
	assert.Equal(t, 7, p.P2PPort)

	_, ok = r.Find("eve")
	assert.False(t, ok)

	var nilRoster *Roster
	_, ok = nilRoster.Find("bob")
	assert.False(t, ok)
}
