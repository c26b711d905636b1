// Package cli provides the interactive micropay command-line client.
//
// It wires configuration, the client key pair and a session.Session into a
// small REPL. Typical flow: connect to the directory server, register or log
// in, list who is online, then pay another user and wait for the server's
// confirmation.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits or
// stdin is closed. See runREPL for the command set.
package cli
