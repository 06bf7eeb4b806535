package messaging

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Event is a message the worker publishes about itself
type Event interface {
	Kind() string
	Struct() (*structpb.Struct, error)
}

// FeeEvent mirrors one fee ledger record
type FeeEvent struct {
	Wallet     string    `json:"wallet"`
	FeeKind    string    `json:"fee_kind"`
	Balance    uint64    `json:"balance"`
	Fee        uint64    `json:"fee"`
	Income     uint64    `json:"income"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Kind implements Event
func (e FeeEvent) Kind() string { return KindFee }

// Struct implements Event
func (e FeeEvent) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"kind":        KindFee,
		"wallet":      e.Wallet,
		"fee_kind":    e.FeeKind,
		"balance":     float64(e.Balance),
		"fee":         float64(e.Fee),
		"income":      float64(e.Income),
		"recorded_at": e.RecordedAt.UTC().Format(time.RFC3339Nano),
	})
}

// SubmissionEvent reports the outcome of one proof submission attempt
type SubmissionEvent struct {
	Wallet      string    `json:"wallet"`
	Seed        string    `json:"seed"`
	Difficulty  uint      `json:"difficulty"`
	Fails       int       `json:"fails"`
	Status      string    `json:"status"` // "sent", "retrying", "dropped"
	TxHash      string    `json:"tx_hash,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Kind implements Event
func (e SubmissionEvent) Kind() string { return KindSubmission }

// Struct implements Event
func (e SubmissionEvent) Struct() (*structpb.Struct, error) {
	fields := map[string]any{
		"kind":         KindSubmission,
		"wallet":       e.Wallet,
		"seed":         e.Seed,
		"difficulty":   float64(e.Difficulty),
		"fails":        float64(e.Fails),
		"status":       e.Status,
		"submitted_at": e.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.TxHash != "" {
		fields["tx_hash"] = e.TxHash
	}
	return structpb.NewStruct(fields)
}

// AbortEvent is published once when the worker exits with a distinguished status
type AbortEvent struct {
	Wallet    string    `json:"wallet"`
	Status    int       `json:"status"`
	Reason    string    `json:"reason"`
	AbortedAt time.Time `json:"aborted_at"`
}

// Kind implements Event
func (e AbortEvent) Kind() string { return KindAbort }

// Struct implements Event
func (e AbortEvent) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"kind":       KindAbort,
		"wallet":     e.Wallet,
		"status":     float64(e.Status),
		"reason":     e.Reason,
		"aborted_at": e.AbortedAt.UTC().Format(time.RFC3339Nano),
	})
}
