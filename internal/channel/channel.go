// Package channel turns logical text messages into wire frames and back.
//
// Encrypted messages are cut into RSA-sized chunks, each chunk encrypted on
// its own with the recipient's public key and base64 encoded on its own line
// between StartMarker and EndMarker. Anything that does not start with the
// start marker is treated as a plaintext message.
//
// The protocol alternates strictly between request and response on a
// connection. Exchange, Post and Await run under one per-channel lock so that
// a foreground request and a background relay never interleave.
package channel

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/micropay/internal/cryptox"
	"github.com/dmitrijs2005/micropay/internal/netx"
)

// HelloToken opens every client connection.
const HelloToken = "HELLO"

// Message is one received logical message.
type Message struct {
	// Text is the decoded message. For plaintext payloads it is the payload
	// as received.
	Text string
	// Encrypted is true when Text came out of an encrypted frame.
	Encrypted bool
	// Raw holds the bytes the message was decoded from. It is also filled in
	// when decoding fails.
	Raw []byte
}

// Channel frames messages over one netx.Socket.
type Channel struct {
	sock *netx.Socket

	exchangeMu sync.Mutex
	sendMu     sync.Mutex
	recvMu     sync.Mutex
	pending    []byte
}

func New(sock *netx.Socket) *Channel {
	return &Channel{sock: sock}
}

// Dial connects to host:port and wraps the socket.
func Dial(ctx context.Context, host, port string, timeout time.Duration) (*Channel, error) {
	sock, err := netx.Dial(ctx, host, port, timeout)
	if err != nil {
		return nil, err
	}
	return New(sock), nil
}

func (c *Channel) Socket() *netx.Socket { return c.sock }

func (c *Channel) Close() error { return c.sock.Close() }

// SendPlain sends text without framing.
func (c *Channel) SendPlain(text string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sock.Send([]byte(text))
}

// SendEncrypted encrypts text for pub and sends it as a single frame.
func (c *Channel) SendEncrypted(pub *rsa.PublicKey, text string) error {
	chunks, err := cryptox.EncryptChunks(pub, []byte(text))
	if err != nil {
		return err
	}
	frame := EncodeFrame(chunks)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sock.Send(frame)
}

// ReceiveEncrypted reads one message. Plaintext payloads come back verbatim
// with Encrypted unset. Frames are decrypted with priv; if that fails the
// error wraps ErrDecrypt or ErrMalformedFrame and Message.Raw still carries
// the frame.
func (c *Channel) ReceiveEncrypted(priv *rsa.PrivateKey, timeout time.Duration) (Message, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	deadline := time.Now().Add(timeout)

	buf := c.pending
	c.pending = nil
	if len(buf) == 0 {
		b, err := c.sock.Receive(timeout)
		if err != nil {
			return Message{}, err
		}
		buf = b
	}

	if !IsFrame(buf) {
		return Message{Text: string(buf), Raw: buf}, nil
	}

	for {
		frame, rest, complete := splitFrame(buf)
		if complete {
			if len(rest) > 0 {
				c.pending = append([]byte(nil), rest...)
			}
			return decodeFrame(priv, frame)
		}
		if len(buf) > MaxFrameSize {
			return Message{Raw: buf, Encrypted: true}, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedFrame, MaxFrameSize)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Message{Raw: buf, Encrypted: true}, fmt.Errorf("%w: missing end marker", ErrMalformedFrame)
		}
		more, err := c.sock.Receive(remaining)
		if err != nil {
			return Message{Raw: buf, Encrypted: true}, fmt.Errorf("%w: incomplete frame: %w", ErrMalformedFrame, err)
		}
		buf = append(buf, more...)
	}
}

func decodeFrame(priv *rsa.PrivateKey, frame []byte) (Message, error) {
	msg := Message{Raw: frame, Encrypted: true}

	chunks, err := frameChunks(frame)
	if err != nil {
		return msg, err
	}

	var sb strings.Builder
	for i, chunk := range chunks {
		pt, err := cryptox.DecryptChunk(priv, chunk)
		if err != nil {
			return msg, fmt.Errorf("%w: chunk %d: %w", ErrDecrypt, i, err)
		}
		sb.Write(pt)
	}
	msg.Text = sb.String()
	return msg, nil
}

// Exchange sends text encrypted for pub and waits for the matching reply.
// Both halves run under the exchange lock.
func (c *Channel) Exchange(pub *rsa.PublicKey, priv *rsa.PrivateKey, text string, timeout time.Duration) (Message, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.SendEncrypted(pub, text); err != nil {
		return Message{}, err
	}
	return c.ReceiveEncrypted(priv, timeout)
}

// Post sends one encrypted message that expects no reply, under the
// exchange lock.
func (c *Channel) Post(pub *rsa.PublicKey, text string) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.SendEncrypted(pub, text)
}

// Await waits for one unsolicited message under the exchange lock.
func (c *Channel) Await(priv *rsa.PrivateKey, timeout time.Duration) (Message, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.ReceiveEncrypted(priv, timeout)
}

// ClientHandshake sends HELLO and parses the server's plaintext PEM reply.
func (c *Channel) ClientHandshake(timeout time.Duration) (*rsa.PublicKey, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.SendPlain(HelloToken); err != nil {
		return nil, err
	}
	msg, err := c.ReceiveEncrypted(nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if msg.Encrypted {
		return nil, fmt.Errorf("handshake: %w: expected plaintext key", ErrMalformedFrame)
	}
	pub, err := cryptox.ParsePublicKeyPEM(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return pub, nil
}

// IsDecodeError reports whether err came from a frame that arrived but could
// not be turned back into text.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDecrypt) || errors.Is(err, ErrMalformedFrame)
}
