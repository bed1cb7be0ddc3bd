// Package client describes the external collaborators the conversation
// synchronizer depends on.
//
// # Overview
//
// The synchronizer never talks to Postgres, S3 or the token issuer directly.
// It is given implementations of the interfaces below:
//
//   - MessageRepository, AttachmentRepository: the record query service
//     (equality filter, newest-first ordering, offset/limit windows, insert,
//     update and delete by filter).
//   - ChangeFeed / Subscription: a push channel of insert events for a table.
//   - BlobStore: upload of attachment bytes and the pure path-to-URL projection.
//   - Identity: the current user, stamped on outgoing messages and used by the
//     backend to authorize edits and deletes.
//
// Concrete implementations live under internal/backend.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable, ErrUnauthorized, ErrSubscriptionClosed.
//
// # Concurrency & Contexts
//
// Implementations must be safe for concurrent use. All blocking operations
// accept context.Context and must honor cancellation.
package client
