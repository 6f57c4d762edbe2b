// Package txn holds the per-transaction participant state shared by the
// state machine, the journal, and the dispatcher: the durable
// ParticipantContext, the in-memory Registry keyed by transaction id, and
// the single-shot Latch that cancels coordinator-silence timers.
package txn

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pkt.systems/rentald/internal/wire"
)

// ErrSelfNotListed reports a CoordinatorContext that does not name this
// participant; such a PREPARE is malformed for us.
var ErrSelfNotListed = errors.New("txn: self peer not listed in coordinator context")

// Vote is a participant's prepare-phase decision.
type Vote string

// Votes. A peer starts UNDECIDED and moves exactly once to YES or NO.
const (
	VoteUndecided Vote = "UNDECIDED"
	VoteYes       Vote = "YES"
	VoteNo        Vote = "NO"
)

// State is the coarse 2PC phase of a transaction at this participant.
type State string

// States. COMMIT and ABORT are irreversible; the only mutation allowed
// afterwards is marking the self peer done.
const (
	StatePrepare State = "PREPARE"
	StateCommit  State = "COMMIT"
	StateAbort   State = "ABORT"
)

// Peer is one participant inside a ParticipantContext, augmented with the
// mutable 2PC bookkeeping for that peer.
type Peer struct {
	Name           string              `json:"name"`
	Host           string              `json:"host"`
	Port           int                 `json:"port"`
	Vote           Vote                `json:"vote"`
	BookingContext wire.BookingContext `json:"bookingContext"`
	BookingID      *uuid.UUID          `json:"bookingId,omitempty"`
	Done           bool                `json:"done"`
}

// Endpoint returns the peer's wire identity.
func (p Peer) Endpoint() wire.Peer {
	return wire.Peer{Name: p.Name, Host: p.Host, Port: p.Port}
}

// ParticipantContext is the durable per-transaction record. The context
// owns an ordered peer list; Self indexes into it instead of back-pointing.
type ParticipantContext struct {
	TransactionID uuid.UUID `json:"transactionId"`
	Coordinator   wire.Peer `json:"coordinator"`
	Participants  []Peer    `json:"participants"`
	Self          int       `json:"self"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewContext builds a fresh PREPARE-state context from a coordinator
// context. selfName must appear among the participants.
func NewContext(cc wire.CoordinatorContext, selfName string, now time.Time) (*ParticipantContext, error) {
	ctx := &ParticipantContext{
		TransactionID: cc.TransactionID,
		Coordinator:   cc.Coordinator,
		Participants:  make([]Peer, 0, len(cc.Participants)),
		Self:          -1,
		State:         StatePrepare,
		CreatedAt:     now,
	}
	for i, p := range cc.Participants {
		ctx.Participants = append(ctx.Participants, Peer{
			Name:           p.Name,
			Host:           p.Host,
			Port:           p.Port,
			Vote:           VoteUndecided,
			BookingContext: p.BookingContext,
		})
		if p.Name == selfName {
			ctx.Self = i
		}
	}
	if ctx.Self < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSelfNotListed, selfName)
	}
	return ctx, nil
}

// SelfPeer returns the mutable self entry of the peer arena.
func (c *ParticipantContext) SelfPeer() *Peer {
	return &c.Participants[c.Self]
}

// IsFellowParticipant reports whether name is another participant recorded
// in this context (not self, not the coordinator).
func (c *ParticipantContext) IsFellowParticipant(name string) bool {
	for i, p := range c.Participants {
		if i == c.Self {
			continue
		}
		if p.Name == name {
			return true
		}
	}
	return false
}

// OtherParticipants returns every participant except self.
func (c *ParticipantContext) OtherParticipants() []Peer {
	others := make([]Peer, 0, len(c.Participants)-1)
	for i, p := range c.Participants {
		if i == c.Self {
			continue
		}
		others = append(others, p)
	}
	return others
}

// Terminal reports whether the transaction reached COMMIT or ABORT here.
func (c *ParticipantContext) Terminal() bool {
	return c.State == StateCommit || c.State == StateAbort
}
