package kvstore

// MessageRecord links a user's message to the two bot replies it produced.
// The primary key is the user's message id, never the bot's. Exactly one
// record exists per tracked message, created when the replies are first
// sent and removed when the original message is deleted or edited to carry
// no links.
type MessageRecord struct {
	UserMessageID    string `json:"userMessageId"`
	PreviewMessageID string `json:"previewMessageId"`
	InvalidMessageID string `json:"invalidMessageId"`
	ChannelID        string `json:"channelId"`
}

// RecordStore persists MessageRecords with insertion order preserved, so the
// oldest record can be evicted when the table reaches its capacity bound.
type RecordStore interface {
	// Get returns the record for a user message id, or nil when untracked.
	Get(userMessageID string) (*MessageRecord, error)

	// Insert stores a new record and appends it to the insertion-order index.
	Insert(record *MessageRecord) error

	// Delete removes a record and its index entry. Deleting an untracked id
	// is a no-op.
	Delete(userMessageID string) error

	// IDs returns all tracked user message ids in insertion order.
	IDs() ([]string, error)
}
