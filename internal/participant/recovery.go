package participant

import (
	"context"
	"fmt"

	"pkt.systems/rentald/internal/txn"
	"pkt.systems/rentald/internal/wire"
)

// Recover replays every journal record into the registry and resolves each
// transaction to where a crash left it: in-doubt records query the
// coordinator and arm the silence timer, decided records replay their
// side-effect and re-ack. Must run before the dispatcher accepts traffic.
func (p *Participant) Recover(ctx context.Context) error {
	records, err := p.journal.ReadAll()
	if err != nil {
		return fmt.Errorf("participant: recover journal: %w", err)
	}

	for _, rec := range records {
		entry := p.registry.Install(rec)
		entry.Lock()
		p.metrics.recordRecovered(ctx, rec.State)

		switch rec.State {
		case txn.StatePrepare:
			if rec.SelfPeer().Vote == txn.VoteYes {
				// In doubt: the decision may exist only at the coordinator.
				p.logger.Info("participant.recovery.in_doubt", "txn", rec.TransactionID)
				p.sendToPeer(rec.Coordinator, wire.New(wire.OpResult, rec.TransactionID, p.selfName, ""))
				p.armEscalationLocked(entry)
			} else {
				// Nothing was promised without a journaled YES; finalize the
				// abort locally and resend the NO so the coordinator can move.
				rec.State = txn.StateAbort
				rec.SelfPeer().Done = true
				if err := p.journal.Write(rec); err != nil {
					entry.Unlock()
					return fmt.Errorf("participant: journal recovered abort for %s: %w", rec.TransactionID, err)
				}
				p.scheduleGC(rec.TransactionID)
				p.logger.Info("participant.recovery.aborted_undecided", "txn", rec.TransactionID, "vote", rec.SelfPeer().Vote)
				p.sendToPeer(rec.Coordinator, wire.New(wire.OpAbort, rec.TransactionID, p.selfName, wire.ResultPayload(true)))
			}
		case txn.StateCommit, txn.StateAbort:
			if !rec.SelfPeer().Done {
				if err := p.applySideEffect(ctx, rec, rec.State); err != nil {
					// Stay decided-but-undone; the coordinator resend retries.
					p.logger.Warn("participant.recovery.store_error", "txn", rec.TransactionID, "state", rec.State, "error", err)
					entry.Unlock()
					continue
				}
				rec.SelfPeer().Done = true
				if err := p.journal.Write(rec); err != nil {
					entry.Unlock()
					return fmt.Errorf("participant: journal recovered %s for %s: %w", rec.State, rec.TransactionID, err)
				}
			}
			p.scheduleGC(rec.TransactionID)
			// The crash may have eaten the ack; resend it.
			op := wire.OpCommit
			if rec.State == txn.StateAbort {
				op = wire.OpAbort
			}
			p.logger.Info("participant.recovery.reacked", "txn", rec.TransactionID, "state", rec.State)
			p.sendToPeer(rec.Coordinator, wire.New(op, rec.TransactionID, p.selfName, wire.ResultPayload(true)))
		}
		entry.Unlock()
	}

	p.logger.Info("participant.recovery.complete", "transactions", len(records))
	return nil
}
