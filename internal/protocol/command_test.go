package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	pem := "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"

	tests := []struct {
		name string
		in   string
		want Command
	}{
		{"hello", "HELLO", Command{Kind: KindHello}},
		{"hello crlf", "HELLO\r\n", Command{Kind: KindHello}},
		{"list", "List", Command{Kind: KindList}},
		{"exit", "Exit\r\n", Command{Kind: KindExit}},
		{"register", "REGISTER#alice", Command{Kind: KindRegister, Username: "alice"}},
		{"register empty name", "REGISTER#", Command{Kind: KindRegister, Username: ""}},
		{"pkey", "PKEY#bob", Command{Kind: KindPublicKey, Username: "bob"}},
		{"tagged login", "LOGIN#alice#6001#" + pem, Command{Kind: KindLogin, Username: "alice", P2PPort: "6001", PublicKey: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----"}},
		{"tagged login no key", "LOGIN#alice#6001", Command{Kind: KindLogin, Username: "alice", P2PPort: "6001"}},
		{"legacy login", "alice#6001", Command{Kind: KindLogin, Username: "alice", P2PPort: "6001", Legacy: true}},
		{"tagged pay", "PAY#alice#500#bob", Command{Kind: KindSettle, Claim: Claim{"alice", "500", "bob"}}},
		{"legacy pay", "alice#500#bob\r\n", Command{Kind: KindSettle, Claim: Claim{"alice", "500", "bob"}, Legacy: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrMalformed},
		{"only crlf", "\r\n", ErrMalformed},
		{"garbage", "hello world", ErrUnknownCommand},
		{"four fields", "a#b#c#d", ErrUnknownCommand},
		{"register extra", "REGISTER#a#b", ErrMalformed},
		{"register missing", "REGISTER", ErrMalformed},
		{"pkey missing", "PKEY", ErrMalformed},
		{"login missing port", "LOGIN#alice", ErrMalformed},
		{"pay short", "PAY#alice#10", ErrMalformed},
		{"list with args", "List#x", ErrMalformed},
		{"hello with args", "HELLO#x", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClaimValue(t *testing.T) {
	v, err := Claim{Amount: "500"}.Value()
	require.NoError(t, err)
	assert.EqualValues(t, 500, v)

	v, err = Claim{Amount: "-20"}.Value()
	require.NoError(t, err)
	assert.EqualValues(t, -20, v)

	for _, bad := range []string{"", "abc", "1.5", "12abc", "99999999999999999999"} {
		_, err := Claim{Amount: bad}.Value()
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestBuilders_RoundTrip(t *testing.T) {
	cmd, err := Parse(Register("carol"))
	require.NoError(t, err)
	assert.Equal(t, KindRegister, cmd.Kind)
	assert.Equal(t, "carol", cmd.Username)

	cmd, err = Parse(PublicKey("carol"))
	require.NoError(t, err)
	assert.Equal(t, KindPublicKey, cmd.Kind)

	cmd, err = Parse(Login("carol", 7000, "PEM"))
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: KindLogin, Username: "carol", P2PPort: "7000", PublicKey: "PEM"}, cmd)

	c := Claim{Payer: "a", Amount: "1", Payee: "b"}
	cmd, err = Parse(Pay(c))
	require.NoError(t, err)
	assert.Equal(t, c, cmd.Claim)
	assert.False(t, cmd.Legacy)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "settle", KindSettle.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestReplyHelpers(t *testing.T) {
	assert.Equal(t, "100 OK\r\n", Line(ReplyOK))
	assert.Equal(t, "Transfer OK!", Trim("Transfer OK!\r\n"))
	assert.Equal(t, "Bye", Trim("Bye\n"))
}
