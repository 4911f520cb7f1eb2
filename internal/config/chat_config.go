package config

import "time"

const (
	// Assistant chat
	RecentMessagesLimit = 20
	ContextWindowSize   = 6
	DefaultMaxTokens    = 512
	DefaultChunkSize    = 24
	DefaultChunkDelay   = 40 * time.Millisecond
	GenerationTimeout   = 60 * time.Second

	// Peer chat
	PersistTimeout = 5 * time.Second

	// Sockets
	SendBufferSize = 256
)

// DefaultSystemPrompt frames every assistant turn.
const DefaultSystemPrompt = "You are the shopping assistant of an online electronics store. " +
	"Answer briefly, recommend products from the catalog when asked, " +
	"and hand the customer over to a human agent for orders, refunds and payment issues."
