package protocol

import "strings"

// Status replies sent by the server.
const (
	ReplyOK           = "100 OK"
	ReplyFail         = "210 FAIL"
	ReplyAuthFail     = "220 AUTH_FAIL"
	ReplyServerError  = "230 SERVER_ERROR"
	ReplyNoKey        = "240 NO_KEY"
	ReplyMessageError = "250 MESSAGE_ERROR"
	ReplyBye          = "Bye"
	ReplyLoginFirst   = "Please log in first"
	ReplyTransferOK   = "Transfer OK!"
)

// Line terminates a single-line reply with CRLF.
func Line(s string) string {
	return s + "\r\n"
}

// Trim strips the line terminator(s) from a reply.
func Trim(s string) string {
	return strings.TrimRight(s, "\r\n")
}
