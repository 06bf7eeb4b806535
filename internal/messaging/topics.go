package messaging

// DefaultTopic receives every worker event unless KAFKA_TOPIC overrides it
const DefaultTopic = "gomint.events"

// Event kinds, carried in the "kind" field of every event
const (
	KindFee        = "fee"        // ledger → publisher
	KindSubmission = "submission" // queue drain → publisher
	KindAbort      = "abort"      // worker exit → publisher
)
