package channel

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/netx"
)

var testKeys = sync.OnceValues(func() ([]*cryptox.KeyPair, error) {
	var out []*cryptox.KeyPair
	for range 2 {
		kp, err := cryptox.GenerateKeyPair(1024)
		if err != nil {
			return nil, err
		}
		out = append(out, kp)
	}
	return out, nil
})

func keys(t *testing.T) (*cryptox.KeyPair, *cryptox.KeyPair) {
	t.Helper()
	ks, err := testKeys()
	require.NoError(t, err)
	return ks[0], ks[1]
}

// pair returns two connected channels over loopback.
func pair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	ln, err := netx.Bind(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client, err := Dial(context.Background(), "127.0.0.1", strconv.Itoa(ln.LocalPort()), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for range 50 {
		s, _, _, err := ln.ListenAccept(100 * time.Millisecond)
		if errors.Is(err, netx.ErrListenTimeout) {
			continue
		}
		require.NoError(t, err)
		server := New(s)
		t.Cleanup(func() { _ = server.Close() })
		return client, server
	}
	t.Fatal("accept timed out")
	return nil, nil
}

func TestEncodeFrame_Layout(t *testing.T) {
	got := string(EncodeFrame([]string{"AAAA", "BBBB"}))
	want := StartMarker + "\r\nAAAA\r\nBBBB\r\n" + EndMarker + "\r\n"
	assert.Equal(t, want, got)
	assert.True(t, IsFrame([]byte(got)))
	assert.False(t, IsFrame([]byte("100 OK\r\n")))
}

func TestFrameChunks_Malformed(t *testing.T) {
	_, err := frameChunks([]byte(StartMarker + "\r\n" + EndMarker + "\r\n"))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = frameChunks([]byte("junk\r\n" + StartMarker + "\r\nAAAA\r\n" + EndMarker))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	chunks, err := frameChunks([]byte(StartMarker + "\nAAAA\n\nBBBB\n" + EndMarker + "\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA", "BBBB"}, chunks)
}

func TestSendReceiveEncrypted_RoundTrip(t *testing.T) {
	serverKey, _ := keys(t)
	client, server := pair(t)
	size := cryptox.ChunkSize(serverKey.Public)

	msgs := []string{
		"",
		"List",
		"REGISTER#alice",
		"alice#500#bob",
		strings.Repeat("m", size),
		strings.Repeat("0123456789", 3*size/10+3),
		"LOGIN#alice#5051#" + strings.Repeat("-----KEY-----\n", 40),
	}
	for _, m := range msgs {
		require.NoError(t, client.SendEncrypted(serverKey.Public, m))
		got, err := server.ReceiveEncrypted(serverKey.Private, time.Second)
		require.NoError(t, err)
		assert.True(t, got.Encrypted)
		assert.Equal(t, m, got.Text)
	}
}

func TestReceiveEncrypted_Plaintext(t *testing.T) {
	serverKey, _ := keys(t)
	client, server := pair(t)

	require.NoError(t, server.SendPlain("Bye\r\n"))
	got, err := client.ReceiveEncrypted(serverKey.Private, time.Second)
	require.NoError(t, err)
	assert.False(t, got.Encrypted)
	assert.Equal(t, "Bye\r\n", got.Text)
}

func TestReceiveEncrypted_WrongKeyKeepsRaw(t *testing.T) {
	serverKey, otherKey := keys(t)
	client, server := pair(t)

	require.NoError(t, client.SendEncrypted(otherKey.Public, "alice#1#bob"))
	got, err := server.ReceiveEncrypted(serverKey.Private, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.True(t, IsDecodeError(err))
	assert.True(t, IsFrame(got.Raw))
	assert.Empty(t, got.Text)
}

func TestReceiveEncrypted_SplitAcrossWrites(t *testing.T) {
	serverKey, _ := keys(t)
	client, server := pair(t)

	chunks, err := cryptox.EncryptChunks(serverKey.Public, []byte("split frame"))
	require.NoError(t, err)
	frame := EncodeFrame(chunks)
	half := len(frame) / 2

	go func() {
		_ = client.Socket().Send(frame[:half])
		time.Sleep(50 * time.Millisecond)
		_ = client.Socket().Send(frame[half:])
	}()

	got, err := server.ReceiveEncrypted(serverKey.Private, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "split frame", got.Text)
}

func TestReceiveEncrypted_TwoFramesInOneRead(t *testing.T) {
	serverKey, _ := keys(t)
	client, server := pair(t)

	var both []byte
	for _, m := range []string{"first", "second"} {
		chunks, err := cryptox.EncryptChunks(serverKey.Public, []byte(m))
		require.NoError(t, err)
		both = append(both, EncodeFrame(chunks)...)
	}
	require.NoError(t, client.Socket().Send(both))

	first, err := server.ReceiveEncrypted(serverKey.Private, time.Second)
	require.NoError(t, err)
	second, err := server.ReceiveEncrypted(serverKey.Private, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Text)
	assert.Equal(t, "second", second.Text)
}

func TestReceiveEncrypted_MissingEndMarker(t *testing.T) {
	serverKey, _ := keys(t)
	client, server := pair(t)

	require.NoError(t, client.Socket().Send([]byte(StartMarker+"\r\nAAAA\r\n")))
	got, err := server.ReceiveEncrypted(serverKey.Private, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.NotEmpty(t, got.Raw)
}

func TestReceiveEncrypted_Timeout(t *testing.T) {
	serverKey, _ := keys(t)
	_, server := pair(t)

	_, err := server.ReceiveEncrypted(serverKey.Private, 50*time.Millisecond)
	assert.ErrorIs(t, err, netx.ErrReceiveTimeout)
}

func TestClientHandshake(t *testing.T) {
	serverKey, _ := keys(t)
	client, server := pair(t)

	go func() {
		msg, err := server.ReceiveEncrypted(serverKey.Private, time.Second)
		if err != nil || msg.Text != HelloToken {
			return
		}
		pem, _ := serverKey.PublicKeyPEM()
		_ = server.SendPlain(string(pem))
	}()

	pub, err := client.ClientHandshake(time.Second)
	require.NoError(t, err)
	assert.True(t, serverKey.Public.Equal(pub))
}

func TestExchange(t *testing.T) {
	serverKey, clientKey := keys(t)
	client, server := pair(t)

	go func() {
		msg, err := server.ReceiveEncrypted(serverKey.Private, time.Second)
		if err != nil {
			return
		}
		_ = server.SendEncrypted(clientKey.Public, "echo:"+msg.Text)
	}()

	reply, err := client.Exchange(serverKey.Public, clientKey.Private, "List", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:List", reply.Text)
}
