// Package queue is the crash-safe FIFO of proofs awaiting submission. The
// persisted table is the source of truth; the in-memory order is rebuilt
// from it when the queue is opened.
package queue

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/database"
	"github.com/bardlex/gomint/internal/validation"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

const (
	// TableName is the table holding queued proofs.
	TableName = "try_send_proofs"

	// MaxFails is the number of failed submissions a record survives.
	MaxFails = 3

	// DefaultPacing is the pause after every submission attempt.
	DefaultPacing = time.Second
)

// Submitter builds and broadcasts the mint transaction of a record.
type Submitter interface {
	SubmitMint(ctx context.Context, rec *Record) (chainhash.Hash, error)
}

// Waiter blocks until a transaction is confirmed.
type Waiter interface {
	Wait(ctx context.Context, hash chainhash.Hash) (chain.Height, error)
}

// Validator rejects records that must never be submitted.
// *validation.ProofValidator satisfies it.
type Validator interface {
	Validate(c *validation.Candidate) error
}

// Observer is told about every submission attempt. Observers must not block.
type Observer interface {
	RecordSubmission(seed string, difficulty uint, fails int, outcome string, txHash string)
}

// Outcome of one submission attempt.
type Outcome int

const (
	Sent Outcome = iota + 1
	Retrying
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Retrying:
		return "retrying"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Queue is the submission FIFO. It is used by one goroutine at a time.
type Queue struct {
	table     database.Table
	pending   []*Record
	waits     []*Record
	pacing    time.Duration
	observers []Observer
	validator Validator
	now       func() time.Time
	logger    *log.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithPacing sets the pause after each attempt; zero disables pacing.
func WithPacing(d time.Duration) Option {
	return func(q *Queue) {
		q.pacing = d
	}
}

// WithObservers adds submission observers.
func WithObservers(obs ...Observer) Option {
	return func(q *Queue) {
		q.observers = append(q.observers, obs...)
	}
}

// WithValidator checks records on Enqueue and unsent records on Open.
func WithValidator(v Validator) Option {
	return func(q *Queue) {
		q.validator = v
	}
}

// Open rebuilds the queue from table. Sent records resume waiting for their
// confirmation; records given up on or unreadable are deleted.
func Open(ctx context.Context, table database.Table, logger *log.Logger, opts ...Option) (*Queue, error) {
	q := &Queue{
		table:  table,
		pacing: DefaultPacing,
		now:    time.Now,
		logger: logger.WithComponent("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}

	keys, err := table.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open_queue", "failed to list queued proofs")
	}
	for _, key := range keys {
		value, found, err := table.Get(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open_queue", "failed to read queued proof")
		}
		if !found {
			continue
		}
		rec := new(Record)
		if err := rec.UnmarshalBinary(value); err != nil {
			q.logger.WithError(err).Error("dropping unreadable queued proof", "key", hex.EncodeToString(key))
			if err := table.Delete(ctx, key); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open_queue", "failed to delete queued proof")
			}
			continue
		}
		switch {
		case rec.Failed, rec.Sent && rec.TxHash == (chainhash.Hash{}):
			if err := table.Delete(ctx, key); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open_queue", "failed to delete settled proof")
			}
		case rec.Sent:
			q.waits = append(q.waits, rec)
		default:
			if err := q.validate(rec); err != nil {
				q.logger.WithError(err).Error("dropping invalid queued proof", "seed", rec.Seed.ID.String())
				if err := table.Delete(ctx, key); err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeStorage, "open_queue", "failed to delete invalid proof")
				}
				continue
			}
			q.pending = append(q.pending, rec)
		}
	}

	byCreation := func(a, b *Record) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return bytes.Compare(a.Key(), b.Key())
	}
	slices.SortStableFunc(q.pending, byCreation)
	slices.SortStableFunc(q.waits, byCreation)
	if len(q.pending)+len(q.waits) > 0 {
		q.logger.Info("recovered proofs from a previous run",
			"unsent", len(q.pending),
			"unconfirmed", len(q.waits),
		)
	}
	return q, nil
}

// Len returns the number of records not yet sent.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Pending returns the records not yet sent in submission order.
func (q *Queue) Pending() []*Record {
	return slices.Clone(q.pending)
}

// Enqueue persists rec and appends it. A record the validator rejects is
// not stored and the error has type validation.
func (q *Queue) Enqueue(ctx context.Context, rec *Record) error {
	if err := q.validate(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "enqueue_proof", "proof rejected").
			WithContext("seed", rec.Seed.ID.String())
	}
	if err := q.persist(ctx, rec); err != nil {
		return err
	}
	q.pending = append(q.pending, rec)
	return nil
}

// Flush forces buffered table writes to storage.
func (q *Queue) Flush(ctx context.Context) error {
	if err := q.table.Flush(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "flush_queue", "failed to flush proofs")
	}
	return nil
}

func (q *Queue) validate(rec *Record) error {
	if q.validator == nil {
		return nil
	}
	return q.validator.Validate(rec.Candidate())
}

func (q *Queue) persist(ctx context.Context, rec *Record) error {
	value, err := rec.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "persist_proof", "failed to encode proof")
	}
	if err := q.table.Set(ctx, rec.Key(), value); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "persist_proof", "failed to store proof").
			WithContext("seed", rec.Seed.ID.String())
	}
	return q.Flush(ctx)
}

func (q *Queue) observe(rec *Record, outcome Outcome) {
	var hash string
	if rec.Sent {
		hash = chain.HashHex(rec.TxHash)
	}
	q.logger.LogSubmission(rec.Seed.ID.String(), rec.Difficulty, rec.Fails, outcome.String())
	for _, o := range q.observers {
		o.RecordSubmission(rec.Seed.ID.String(), rec.Difficulty, rec.Fails, outcome.String(), hash)
	}
}

// DrainOnce pops the front record, submits it and then pauses for the pacing
// interval. A sent record joins the confirmation set; a failed one goes to
// the back until it has failed more than MaxFails times, then it is dropped.
// It returns false when the queue was empty. Only storage failures, exit
// requests and cancellation are returned as errors.
func (q *Queue) DrainOnce(ctx context.Context, sub Submitter) (Outcome, bool, error) {
	if len(q.pending) == 0 {
		return 0, false, nil
	}
	outcome, err := q.attempt(ctx, sub)
	if err != nil {
		return outcome, true, err
	}
	return outcome, true, q.pause(ctx)
}

// pause holds the queue for the pacing interval.
func (q *Queue) pause(ctx context.Context) error {
	if q.pacing <= 0 {
		return nil
	}
	timer := time.NewTimer(q.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *Queue) attempt(ctx context.Context, sub Submitter) (Outcome, error) {
	rec := q.pending[0]
	q.pending = q.pending[1:]
	logger := q.logger.WithFields("seed", rec.Seed.ID.String())

	hash, err := sub.SubmitMint(ctx, rec)
	if err != nil {
		if errors.AsExit(err) != nil || ctx.Err() != nil {
			q.pending = append([]*Record{rec}, q.pending...)
			return 0, err
		}

		rec.Fails++
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", q.now().UTC().Format(time.RFC3339), err))
		if rec.Fails <= MaxFails {
			if err := q.persist(ctx, rec); err != nil {
				return 0, err
			}
			q.pending = append(q.pending, rec)
			logger.WithError(err).Warn("proof submission failed, will retry", "fails", rec.Fails)
			q.observe(rec, Retrying)
			return Retrying, nil
		}

		rec.Failed = true
		if err := q.table.Delete(ctx, rec.Key()); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeStorage, "drop_proof", "failed to delete proof")
		}
		logger.Error("dropping proof after repeated submission failures",
			"fails", rec.Fails,
			"errors", rec.Errors,
		)
		q.observe(rec, Dropped)
		return Dropped, nil
	}

	rec.Sent = true
	rec.TxHash = hash
	if err := q.persist(ctx, rec); err != nil {
		return 0, err
	}
	q.waits = append(q.waits, rec)
	q.observe(rec, Sent)
	return Sent, nil
}

// Drain submits until the queue is empty and returns how many records were
// sent.
func (q *Queue) Drain(ctx context.Context, sub Submitter) (int, error) {
	sent := 0
	for {
		outcome, more, err := q.DrainOnce(ctx, sub)
		if outcome == Sent {
			sent++
		}
		if err != nil {
			return sent, err
		}
		if !more {
			return sent, nil
		}
	}
}

// Awaiting returns the hashes of sent transactions not yet confirmed.
func (q *Queue) Awaiting() []chainhash.Hash {
	hashes := make([]chainhash.Hash, len(q.waits))
	for i, rec := range q.waits {
		hashes[i] = rec.TxHash
	}
	return hashes
}

// Settle waits for every sent transaction to confirm and deletes its record.
// Records confirmed before an error are not waited for again.
func (q *Queue) Settle(ctx context.Context, w Waiter) error {
	for len(q.waits) > 0 {
		rec := q.waits[0]
		height, err := w.Wait(ctx, rec.TxHash)
		if err != nil {
			return err
		}
		if err := q.table.Delete(ctx, rec.Key()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "settle_proof", "failed to delete confirmed proof").
				WithContext("seed", rec.Seed.ID.String())
		}
		q.logger.Debug("mint transaction confirmed",
			"seed", rec.Seed.ID.String(),
			"tx", chain.HashHex(rec.TxHash),
			"height", uint64(height),
		)
		q.waits = q.waits[1:]
	}
	return nil
}
