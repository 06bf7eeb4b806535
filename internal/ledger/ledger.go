// Package ledger keeps the append-only fee history of the mint wallet and
// derives the profit/loss signal that drives the balance fail-safe.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

// Kind is the kind of transaction a fee was paid for.
type Kind uint8

const (
	SeedIssue Kind = iota + 1
	Mint
	Convert
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case SeedIssue:
		return "seed_issue"
	case Mint:
		return "mint"
	case Convert:
		return "convert"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is one fee-paying transaction. Income is the MEL value credited by
// the transaction (zero for seed issuance).
type Record struct {
	Kind    Kind
	Time    time.Time
	Balance chain.CoinValue
	Fee     chain.CoinValue
	Income  chain.CoinValue
}

// Sink receives every record after it is appended. Sinks must not block.
type Sink interface {
	RecordFee(rec Record)
}

// Ledger is the fee history of one run.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	now     func() time.Time
	logger  *log.Logger
	sinks   []Sink
}

// New creates an empty ledger.
func New(logger *log.Logger, sinks ...Sink) *Ledger {
	return newWithClock(logger, time.Now, sinks...)
}

func newWithClock(logger *log.Logger, now func() time.Time, sinks ...Sink) *Ledger {
	return &Ledger{
		now:    now,
		logger: logger.WithComponent("ledger"),
		sinks:  sinks,
	}
}

// Record appends a fee record stamped with the current time. Timestamps must
// strictly increase; a clock that goes backwards is a programming error.
func (l *Ledger) Record(kind Kind, balance, fee, income chain.CoinValue) Record {
	if kind < SeedIssue || kind > Convert {
		panic(fmt.Sprintf("ledger: invalid fee kind %d", kind))
	}

	l.mu.Lock()
	rec := Record{Kind: kind, Time: l.now(), Balance: balance, Fee: fee, Income: income}
	if n := len(l.records); n > 0 && !rec.Time.After(l.records[n-1].Time) {
		l.mu.Unlock()
		panic(fmt.Sprintf("ledger: fee record at %s is not after %s", rec.Time, l.records[n-1].Time))
	}
	l.records = append(l.records, rec)
	l.mu.Unlock()

	l.logger.LogFee(kind.String(), uint64(fee), uint64(income), uint64(balance))
	for _, s := range l.sinks {
		s.RecordFee(rec)
	}
	return rec
}

// Records returns a copy of the history.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// Report is the outcome of a Check.
type Report struct {
	Lost         chain.CoinValue
	MaxLoss      chain.CoinValue
	Elapsed      time.Duration
	FirstBalance chain.CoinValue
	LastBalance  chain.CoinValue
	Breached     bool
}

// Loss walks the history and returns the unmitigated loss: every net loss
// adds to it, every net profit pays it down, and it never drops below zero.
// Seed issuance carries no income signal and is skipped.
func Loss(records []Record) chain.CoinValue {
	var lost chain.CoinValue
	for _, r := range records {
		if r.Kind == SeedIssue {
			continue
		}
		switch {
		case r.Fee > r.Income:
			lost += r.Fee - r.Income
		case r.Income > r.Fee:
			profit := r.Income - r.Fee
			if profit >= lost {
				lost = 0
			} else {
				lost -= profit
			}
		}
	}
	return lost
}

// Check evaluates the fail-safe. A loss of at least maxLoss is a breach; with
// abortOnBreach set the breach is returned as an exit error, otherwise it is
// only logged. Fewer than two records never warn or breach.
func (l *Ledger) Check(maxLoss chain.CoinValue, abortOnBreach bool) (Report, error) {
	records := l.Records()
	rep := Report{Lost: Loss(records), MaxLoss: maxLoss}
	if len(records) < 2 {
		return rep, nil
	}

	first, last := records[0], records[len(records)-1]
	rep.Elapsed = last.Time.Sub(first.Time)
	rep.FirstBalance = first.Balance
	rep.LastBalance = last.Balance

	if rep.Lost == 0 {
		return rep, nil
	}
	l.logger.Warn("mint wallet is losing coins, profit may be negative",
		"elapsed", rep.Elapsed.String(),
		"first_balance", rep.FirstBalance.String(),
		"last_balance", rep.LastBalance.String(),
		"lost", rep.Lost.String(),
	)

	if rep.Lost < maxLoss {
		return rep, nil
	}
	rep.Breached = true
	if !abortOnBreach {
		l.logger.Warn("balance fail-safe threshold reached, continuing because the fail-safe is disabled",
			"lost", rep.Lost.String(),
			"max_loss", maxLoss.String(),
		)
		return rep, nil
	}

	l.logger.Error("balance fail-safe triggered, stopping to protect the balance",
		"lost", rep.Lost.String(),
		"max_loss", maxLoss.String(),
		"first_balance", rep.FirstBalance.String(),
		"last_balance", rep.LastBalance.String(),
	)
	return rep, errors.Exit(errors.ExitProfitFailsafe,
		fmt.Sprintf("lost %s MEL, limit %s MEL", rep.Lost, maxLoss), nil)
}
