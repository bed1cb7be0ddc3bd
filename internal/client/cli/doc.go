// Package cli provides the interactive group chat command-line client.
//
// App wires configuration, the Postgres record services and change feed, the
// S3 blob store and a conversation.Synchronizer behind a line-oriented REPL.
// Typical flow: log in with an access token, open a group, read history
// page by page while new messages print as they arrive, and send, reply,
// edit or delete messages.
//
// Terminal statuses (success, error) are printed once after the command that
// caused them and then acknowledged. Each backend call is bounded by the
// configured request timeout.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
