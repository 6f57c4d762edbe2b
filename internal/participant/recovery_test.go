package participant_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"pkt.systems/rentald/internal/txn"
	"pkt.systems/rentald/internal/wire"
)

// writeRecord journals a context as a crashed process would have left it.
func (f *fixture) writeRecord(id uuid.UUID, mutate func(*txn.ParticipantContext)) *txn.ParticipantContext {
	f.t.Helper()
	pctx, err := txn.NewContext(f.coordinatorContext(id), selfName, f.clk.Now())
	if err != nil {
		f.t.Fatalf("build context: %v", err)
	}
	if mutate != nil {
		mutate(pctx)
	}
	if err := f.jnl.Write(pctx); err != nil {
		f.t.Fatalf("write record: %v", err)
	}
	return pctx
}

func (f *fixture) recover() {
	f.t.Helper()
	if err := f.p.Recover(context.Background()); err != nil {
		f.t.Fatalf("recover: %v", err)
	}
}

func (f *fixture) holdBooking() uuid.UUID {
	f.t.Helper()
	bookingID, err := f.store.TentativeReserve(context.Background(), wire.ReservationRequest{
		ResourceID: f.carID, StartDate: "2024-06-10", EndDate: "2024-06-12", NumberOfPersons: 2,
	})
	if err != nil {
		f.t.Fatalf("hold booking: %v", err)
	}
	return bookingID
}

func TestRecoverInDoubtQueriesCoordinatorAndArmsTimer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	bookingID := f.holdBooking()
	f.writeRecord(id, func(pctx *txn.ParticipantContext) {
		pctx.SelfPeer().Vote = txn.VoteYes
		pctx.SelfPeer().BookingID = &bookingID
	})

	f.recover()

	queries := f.byOp(t, wire.OpResult)
	if len(queries) != 1 || queries[0].addr != coordAddr.String() {
		t.Fatalf("expected one RESULT query to the coordinator, got %+v", queries)
	}
	if _, ok := f.reg.Get(id); !ok {
		t.Fatal("record not reinstalled into the registry")
	}
	waitUntil(t, func() bool { return f.clk.Pending() == 1 }, "silence timer never armed after recovery")

	// The decision, once learned, resolves normally.
	f.decide(wire.OpCommit, id, coordName, coordAddr)
	rental, ok := f.store.Rental(bookingID)
	if !ok || !rental.Confirmed {
		t.Fatal("recovered transaction did not commit")
	}
}

func TestRecoverWithoutYesVoteFinalizesAbort(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	f.writeRecord(id, nil) // crashed before voting

	f.recover()

	entry, ok := f.reg.Get(id)
	if !ok {
		t.Fatal("record not reinstalled")
	}
	entry.Lock()
	state := entry.Context.State
	done := entry.Context.SelfPeer().Done
	entry.Unlock()
	if state != txn.StateAbort || !done {
		t.Fatalf("expected finalized abort, got state=%s done=%v", state, done)
	}

	replies := f.byOp(t, wire.OpAbort)
	if len(replies) != 1 || !f.mustResult(replies[0]) || replies[0].addr != coordAddr.String() {
		t.Fatalf("expected an ABORT result sent to the coordinator, got %+v", replies)
	}
	records, err := f.jnl.ReadAll()
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if records[0].State != txn.StateAbort {
		t.Fatalf("abort not journaled: %+v", records)
	}
}

func TestRecoverCommittedReplaysConfirmAndReacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	bookingID := f.holdBooking()
	f.writeRecord(id, func(pctx *txn.ParticipantContext) {
		pctx.SelfPeer().Vote = txn.VoteYes
		pctx.SelfPeer().BookingID = &bookingID
		pctx.State = txn.StateCommit
	})

	f.recover()

	rental, ok := f.store.Rental(bookingID)
	if !ok || !rental.Confirmed {
		t.Fatal("recovered COMMIT did not confirm the rental")
	}
	acks := f.byOp(t, wire.OpCommit)
	if len(acks) != 1 || !f.mustResult(acks[0]) || acks[0].addr != coordAddr.String() {
		t.Fatalf("expected a COMMIT re-ack to the coordinator, got %+v", acks)
	}
	records, err := f.jnl.ReadAll()
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !records[0].SelfPeer().Done {
		t.Fatal("done flag not persisted after replay")
	}
}

func TestRecoverAbortedReleasesHold(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	bookingID := f.holdBooking()
	f.writeRecord(id, func(pctx *txn.ParticipantContext) {
		pctx.SelfPeer().Vote = txn.VoteYes
		pctx.SelfPeer().BookingID = &bookingID
		pctx.State = txn.StateAbort
	})

	f.recover()

	if _, ok := f.store.Rental(bookingID); ok {
		t.Fatal("recovered ABORT did not release the hold")
	}
	acks := f.byOp(t, wire.OpAbort)
	if len(acks) != 1 || !f.mustResult(acks[0]) {
		t.Fatalf("expected an ABORT re-ack, got %+v", acks)
	}
}

func TestRecoverCommittedStoreErrorWaitsForResend(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	bookingID := f.holdBooking()
	f.writeRecord(id, func(pctx *txn.ParticipantContext) {
		pctx.SelfPeer().Vote = txn.VoteYes
		pctx.SelfPeer().BookingID = &bookingID
		pctx.State = txn.StateCommit
	})

	f.store.FailOps(true)
	f.recover()

	if got := f.sender.count(wire.OpCommit); got != 0 {
		t.Fatalf("unconfirmed COMMIT must not be acked, got %d", got)
	}

	// The coordinator resend retries the side-effect.
	f.store.FailOps(false)
	f.decide(wire.OpCommit, id, coordName, coordAddr)
	rental, ok := f.store.Rental(bookingID)
	if !ok || !rental.Confirmed {
		t.Fatal("resent COMMIT did not confirm after recovery")
	}
	if got := f.store.ConfirmCalls(); got != 1 {
		t.Fatalf("confirm reached the store %d times", got)
	}
}

func TestRecoverDoneRecordOnlySchedulesCollection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	bookingID := uuid.New() // already confirmed and acked before the crash
	f.writeRecord(id, func(pctx *txn.ParticipantContext) {
		pctx.SelfPeer().Vote = txn.VoteYes
		pctx.SelfPeer().BookingID = &bookingID
		pctx.State = txn.StateCommit
		pctx.SelfPeer().Done = true
	})

	f.recover()

	if got := f.store.ConfirmCalls(); got != 0 {
		t.Fatalf("done record replayed the side-effect %d times", got)
	}
	waitUntil(t, func() bool { return f.clk.Pending() == 1 }, "GC timer never armed")
	f.clk.Advance(60 * time.Second)
	waitUntil(t, func() bool { return f.reg.Len() == 0 }, "done record never collected")
}
