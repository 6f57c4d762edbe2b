// Package participant drives a transaction through the 2PC participant
// states: INIT -> PREPARED -> {COMMITTED, ABORTED} -> DONE. Every
// state-changing event is journaled before its reply reaches the wire, and
// in-doubt transactions escalate to the other participants when the
// coordinator goes silent.
package participant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/clock"
	"pkt.systems/rentald/internal/journal"
	"pkt.systems/rentald/internal/store"
	"pkt.systems/rentald/internal/txn"
	"pkt.systems/rentald/internal/wire"
)

// DefaultDecisionTimeout is how long an in-doubt transaction waits for the
// coordinator before asking the other participants for the decision.
const DefaultDecisionTimeout = 10 * time.Second

// DefaultGCDelay is how long a finished transaction lingers before its
// registry entry and journal record are collected.
const DefaultGCDelay = 60 * time.Second

// Sender posts one message to one peer address. Implementations must be
// safe for concurrent use; the dispatcher, recovery, and timers share it.
type Sender interface {
	Send(m wire.Message, addr *net.UDPAddr) error
}

// Config wires a Participant.
type Config struct {
	// SelfName is this participant's short peer name (e.g. "CarProvider").
	SelfName string
	// Registry maps transaction ids to live contexts.
	Registry *txn.Registry
	// Journal persists contexts; a failed journal write is fatal.
	Journal *journal.Journal
	// Store executes the reservation side-effects.
	Store store.ReservationStore
	// Sender posts replies and escalation messages.
	Sender Sender
	// Clock drives timeouts; defaults to the real clock.
	Clock clock.Clock
	// Logger defaults to a noop logger.
	Logger pslog.Logger
	// DecisionTimeout overrides DefaultDecisionTimeout.
	DecisionTimeout time.Duration
	// GCDelay overrides DefaultGCDelay.
	GCDelay time.Duration
}

// Participant is the per-process 2PC state machine host. One instance
// serves every transaction; per-transaction serialization comes from the
// registry entry locks.
type Participant struct {
	selfName        string
	registry        *txn.Registry
	journal         *journal.Journal
	store           store.ReservationStore
	sender          Sender
	clock           clock.Clock
	logger          pslog.Logger
	metrics         *participantMetrics
	decisionTimeout time.Duration
	gcDelay         time.Duration
}

// New validates cfg and builds a Participant.
func New(cfg Config) (*Participant, error) {
	if cfg.SelfName == "" {
		return nil, errors.New("participant: self name required")
	}
	if cfg.Registry == nil || cfg.Journal == nil || cfg.Store == nil || cfg.Sender == nil {
		return nil, errors.New("participant: registry, journal, store and sender required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = DefaultDecisionTimeout
	}
	if cfg.GCDelay <= 0 {
		cfg.GCDelay = DefaultGCDelay
	}
	return &Participant{
		selfName:        cfg.SelfName,
		registry:        cfg.Registry,
		journal:         cfg.Journal,
		store:           cfg.Store,
		sender:          cfg.Sender,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		metrics:         newParticipantMetrics(cfg.Logger),
		decisionTimeout: cfg.DecisionTimeout,
		gcDelay:         cfg.GCDelay,
	}, nil
}

// SelfName returns the participant's peer name.
func (p *Participant) SelfName() string {
	return p.selfName
}

// HandlePrepare processes a PREPARE envelope. The returned error is fatal
// (journal failure); every other failure mode is resolved locally.
func (p *Participant) HandlePrepare(ctx context.Context, m wire.Message, src *net.UDPAddr) error {
	id, _ := m.TxnID()
	cc, err := wire.DecodeCoordinatorContext(m.Data)
	if err != nil {
		p.logger.Error("participant.prepare.malformed_context", "txn", id, "sender", m.Sender, "error", err)
		return nil
	}
	if cc.TransactionID != id {
		// The registry keys on the payload id; a mismatched envelope would
		// dodge the idempotence check and double-reserve on retransmission.
		p.logger.Error("participant.prepare.txn_mismatch", "txn", id, "payload_txn", cc.TransactionID, "sender", m.Sender)
		return nil
	}

	if entry, ok := p.registry.Get(id); ok {
		entry.Lock()
		success := prepareReplySuccess(entry.Context)
		entry.Unlock()
		p.logger.Info("participant.prepare.duplicate", "txn", id, "success", success)
		p.reply(wire.New(wire.OpPrepare, id, p.selfName, wire.ResultPayload(success)), src)
		return nil
	}

	pctx, err := txn.NewContext(cc, p.selfName, p.clock.Now())
	if err != nil {
		p.logger.Error("participant.prepare.self_missing", "txn", id, "error", err)
		return nil
	}
	entry := p.registry.Install(pctx)
	entry.Lock()
	defer entry.Unlock()
	if entry.Context != pctx {
		// Lost the install race to a concurrent duplicate; the surviving
		// context already carries the vote, so never touch the store again.
		success := prepareReplySuccess(entry.Context)
		p.logger.Info("participant.prepare.duplicate", "txn", id, "success", success)
		p.reply(wire.New(wire.OpPrepare, id, p.selfName, wire.ResultPayload(success)), src)
		return nil
	}

	self := pctx.SelfPeer()
	bookingID, err := p.store.TentativeReserve(ctx, wire.ReservationRequest{
		ResourceID:      self.BookingContext.ResourceID,
		StartDate:       self.BookingContext.StartDate,
		EndDate:         self.BookingContext.EndDate,
		NumberOfPersons: self.BookingContext.NumberOfPersons,
	})
	if err != nil {
		self.Vote = txn.VoteNo
		p.logger.Info("participant.prepare.vote_no", "txn", id, "car", self.BookingContext.ResourceID, "reason", err)
	} else {
		self.Vote = txn.VoteYes
		self.BookingID = &bookingID
		p.logger.Info("participant.prepare.vote_yes", "txn", id, "car", self.BookingContext.ResourceID, "booking", bookingID)
	}
	p.metrics.recordVote(ctx, self.Vote)

	if err := p.journal.Write(pctx); err != nil {
		return fmt.Errorf("participant: journal prepare for %s: %w", id, err)
	}
	p.reply(wire.New(wire.OpPrepare, id, p.selfName, wire.ResultPayload(self.Vote == txn.VoteYes)), src)

	if self.Vote == txn.VoteYes {
		p.armEscalationLocked(entry)
	}
	return nil
}

// prepareReplySuccess derives the reply to a replayed PREPARE from the
// transaction's current state.
func prepareReplySuccess(pctx *txn.ParticipantContext) bool {
	switch pctx.State {
	case txn.StatePrepare:
		return pctx.SelfPeer().Vote == txn.VoteYes
	case txn.StateCommit:
		return true
	}
	return false
}

// HandleDecision processes a COMMIT or ABORT envelope. The returned error
// is fatal (journal failure).
func (p *Participant) HandleDecision(ctx context.Context, m wire.Message, src *net.UDPAddr) error {
	decision := txn.StateCommit
	if m.Operation == wire.OpAbort {
		decision = txn.StateAbort
	}
	id, _ := m.TxnID()

	entry, ok := p.registry.Get(id)
	if !ok {
		// Unknown id means the transaction was implicitly aborted (or long
		// since collected); success lets the coordinator finish.
		p.logger.Info("participant.decision.unknown_txn", "txn", id, "op", m.Operation)
		p.reply(wire.New(m.Operation, id, p.selfName, wire.ResultPayload(true)), src)
		return nil
	}

	entry.Lock()
	defer entry.Unlock()
	pctx := entry.Context
	dest := p.decisionReplyAddr(pctx, m.Sender, src)

	switch pctx.State {
	case txn.StateCommit, txn.StateAbort:
		if pctx.State != decision {
			p.logger.Error("participant.decision.conflict", "txn", id, "state", pctx.State, "op", m.Operation)
			return nil
		}
		if !pctx.SelfPeer().Done {
			// The earlier side-effect attempt failed; retry before acking.
			if err := p.applySideEffect(ctx, pctx, decision); err != nil {
				p.logger.Warn("participant.decision.retry_failed", "txn", id, "op", m.Operation, "error", err)
				return nil
			}
			pctx.SelfPeer().Done = true
			if err := p.journal.Write(pctx); err != nil {
				return fmt.Errorf("participant: journal %s for %s: %w", decision, id, err)
			}
			p.scheduleGC(id)
		}
		p.logger.Info("participant.decision.duplicate", "txn", id, "op", m.Operation)
		p.reply(wire.New(m.Operation, id, p.selfName, wire.ResultPayload(true)), dest)
		return nil
	case txn.StatePrepare:
		if decision == txn.StateCommit && pctx.SelfPeer().Vote != txn.VoteYes {
			p.logger.Error("participant.decision.commit_without_yes", "txn", id, "vote", pctx.SelfPeer().Vote)
			return nil
		}
		if err := p.applySideEffect(ctx, pctx, decision); err != nil {
			// Retryable: no state advance, no journal write, no reply; the
			// coordinator resend retriggers the transition.
			p.logger.Warn("participant.decision.store_error", "txn", id, "op", m.Operation, "error", err)
			return nil
		}
		pctx.State = decision
		pctx.SelfPeer().Done = true
		if entry.Waiter != nil {
			entry.Waiter.Complete()
		}
		if err := p.journal.Write(pctx); err != nil {
			return fmt.Errorf("participant: journal %s for %s: %w", decision, id, err)
		}
		p.metrics.recordDecision(ctx, decision)
		p.scheduleGC(id)
		p.logger.Info("participant.decision.applied", "txn", id, "state", decision)
		p.reply(wire.New(m.Operation, id, p.selfName, wire.ResultPayload(true)), dest)
		return nil
	}
	return nil
}

// HandleResult answers a peer's decision query. An in-doubt participant
// stays silent; the requester times out and retries elsewhere.
func (p *Participant) HandleResult(m wire.Message, src *net.UDPAddr) {
	id, _ := m.TxnID()
	entry, ok := p.registry.Get(id)
	if !ok {
		p.logger.Debug("participant.result.unknown_txn", "txn", id, "sender", m.Sender)
		return
	}
	entry.Lock()
	state := entry.Context.State
	entry.Unlock()
	switch state {
	case txn.StateCommit:
		p.reply(wire.New(wire.OpCommit, id, p.selfName, ""), src)
	case txn.StateAbort:
		p.reply(wire.New(wire.OpAbort, id, p.selfName, ""), src)
	case txn.StatePrepare:
		p.logger.Debug("participant.result.in_doubt", "txn", id, "sender", m.Sender)
	}
}

// applySideEffect runs the store operation for a decision. Aborting a
// transaction that never held a booking is a no-op.
func (p *Participant) applySideEffect(ctx context.Context, pctx *txn.ParticipantContext, decision txn.State) error {
	bookingID := pctx.SelfPeer().BookingID
	if decision == txn.StateCommit {
		if bookingID == nil {
			return errors.New("participant: commit without booking id")
		}
		return p.store.Confirm(ctx, *bookingID)
	}
	if bookingID == nil {
		return nil
	}
	return p.store.Release(ctx, *bookingID)
}

// decisionReplyAddr applies the cooperative-reply rule: a decision relayed
// by a fellow participant is acknowledged to the coordinator recorded in
// the context, not to the relay.
func (p *Participant) decisionReplyAddr(pctx *txn.ParticipantContext, sender string, src *net.UDPAddr) *net.UDPAddr {
	if !pctx.IsFellowParticipant(sender) {
		return src
	}
	addr, err := net.ResolveUDPAddr("udp", pctx.Coordinator.Addr())
	if err != nil {
		p.logger.Error("participant.reply.coordinator_unresolvable", "txn", pctx.TransactionID, "coordinator", pctx.Coordinator.Addr(), "error", err)
		return src
	}
	p.logger.Info("participant.reply.cooperative_redirect", "txn", pctx.TransactionID, "relay", sender, "coordinator", pctx.Coordinator.Name)
	return addr
}

// armEscalationLocked arms the coordinator-silence timer for an in-doubt
// transaction. The caller holds the entry lock; at most one escalation
// loop runs per transaction.
func (p *Participant) armEscalationLocked(entry *txn.Entry) {
	if entry.Escalating {
		return
	}
	entry.Escalating = true
	if entry.Waiter == nil {
		entry.Waiter = txn.NewLatch()
	}
	go p.escalationLoop(entry, entry.Waiter)
}

// escalationLoop broadcasts RESULT to every non-self participant each time
// the decision timeout elapses, until the waiter completes.
func (p *Participant) escalationLoop(entry *txn.Entry, waiter *txn.Latch) {
	for {
		if waiter.Wait(p.clock, p.decisionTimeout) {
			return
		}
		entry.Lock()
		if entry.Context.Terminal() {
			entry.Unlock()
			return
		}
		id := entry.Context.TransactionID
		others := entry.Context.OtherParticipants()
		entry.Unlock()

		p.logger.Info("participant.escalation.broadcast", "txn", id, "peers", len(others))
		p.metrics.recordEscalation(context.Background())
		msg := wire.New(wire.OpResult, id, p.selfName, "")
		for _, peer := range others {
			p.sendToPeer(peer.Endpoint(), msg)
		}
	}
}

// scheduleGC removes the registry entry and the journal record after the
// grace period. Deleting twice is harmless, so there is no cancellation.
func (p *Participant) scheduleGC(id uuid.UUID) {
	go func() {
		<-p.clock.After(p.gcDelay)
		p.registry.Delete(id)
		if err := p.journal.Delete(id); err != nil {
			p.logger.Error("participant.gc.journal_delete_error", "txn", id, "error", err)
			return
		}
		p.logger.Debug("participant.gc.collected", "txn", id)
	}()
}

// reply posts a message and logs instead of failing; UDP gives no delivery
// guarantee anyway and the peer retries.
func (p *Participant) reply(m wire.Message, addr *net.UDPAddr) {
	if err := p.sender.Send(m, addr); err != nil {
		id, _ := m.TxnID()
		p.logger.Error("participant.send_error", "txn", id, "op", m.Operation, "addr", addr.String(), "error", err)
	}
}

// sendToPeer resolves a peer endpoint and posts a message to it.
func (p *Participant) sendToPeer(peer wire.Peer, m wire.Message) {
	addr, err := net.ResolveUDPAddr("udp", peer.Addr())
	if err != nil {
		id, _ := m.TxnID()
		p.logger.Error("participant.peer_unresolvable", "txn", id, "peer", peer.Name, "endpoint", peer.Addr(), "error", err)
		return
	}
	p.reply(m, addr)
}
