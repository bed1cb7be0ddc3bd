package common

const (
	// MessagesSchema and MessagesTable name the table whose inserts are
	// published on the change-event channel.
	MessagesSchema = "public"
	MessagesTable  = "messages"

	// DefaultPageSize is the fixed window used by history pagination.
	DefaultPageSize = 50
)
