// Package dispatch owns the UDP socket. A single goroutine receives
// datagrams, decodes the envelope, and routes each operation to the 2PC
// state machine or the read-only query path; replies leave through a
// serialized sender shared with the participant's timers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/participant"
	"pkt.systems/rentald/internal/store"
	"pkt.systems/rentald/internal/wire"
)

// Config wires a Dispatcher.
type Config struct {
	// Conn is the bound UDP socket; Run fails without one, but handler-only
	// use (tests) may leave it nil.
	Conn *net.UDPConn
	// Participant handles PREPARE, COMMIT, ABORT and RESULT.
	Participant *participant.Participant
	// Store answers the read-only queries.
	Store store.ReservationStore
	// Sender posts query replies.
	Sender participant.Sender
	// Logger defaults to a noop logger.
	Logger pslog.Logger
}

// Dispatcher is the receive loop plus routing table.
type Dispatcher struct {
	conn        *net.UDPConn
	participant *participant.Participant
	store       store.ReservationStore
	sender      participant.Sender
	logger      pslog.Logger
	metrics     *dispatchMetrics
}

// New validates cfg and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Participant == nil || cfg.Store == nil || cfg.Sender == nil {
		return nil, errors.New("dispatch: participant, store and sender required")
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	return &Dispatcher{
		conn:        cfg.Conn,
		participant: cfg.Participant,
		store:       cfg.Store,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		metrics:     newDispatchMetrics(cfg.Logger),
	}, nil
}

// Run receives datagrams until the socket closes. The returned error is
// fatal (journal failure or a broken socket); a closed socket returns nil
// so shutdown reads as clean.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.conn == nil {
		return errors.New("dispatch: no socket to serve")
	}
	// One extra byte so an oversized datagram is detected instead of
	// silently truncated at the cap.
	buf := make([]byte, wire.MaxDatagramBytes+1)
	for {
		n, src, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("dispatch: read datagram: %w", err)
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		if err := d.HandleDatagram(ctx, payload, src); err != nil {
			return err
		}
	}
}

// HandleDatagram decodes and routes one datagram. Malformed input is
// logged and dropped; only a journal failure propagates.
func (d *Dispatcher) HandleDatagram(ctx context.Context, payload []byte, src *net.UDPAddr) error {
	corr := xid.New().String()
	m, err := wire.Decode(payload)
	if err != nil {
		d.metrics.recordMalformed(ctx)
		d.logger.Error("dispatch.recv.malformed", "corr", corr, "from", src.String(), "bytes", len(payload), "error", err)
		return nil
	}

	fields := []any{"corr", corr, "op", m.Operation, "sender", m.Sender, "from", src.String()}
	if id, ok := m.TxnID(); ok {
		fields = append(fields, "txn", id)
	}
	d.logger.Info("dispatch.recv", fields...)
	d.metrics.recordDatagram(ctx, m.Operation)

	switch m.Operation {
	case wire.OpPrepare:
		return d.participant.HandlePrepare(ctx, m, src)
	case wire.OpCommit, wire.OpAbort:
		return d.participant.HandleDecision(ctx, m, src)
	case wire.OpResult:
		d.participant.HandleResult(m, src)
	case wire.OpGetBookings:
		d.handleGetBookings(ctx, m, src)
	case wire.OpGetAvailability:
		d.handleGetAvailability(ctx, m, src)
	}
	return nil
}

func (d *Dispatcher) handleGetBookings(ctx context.Context, m wire.Message, src *net.UDPAddr) {
	rentals, err := d.store.ListRentals(ctx)
	if err != nil {
		d.logger.Error("dispatch.bookings.store_error", "from", src.String(), "error", err)
		return
	}
	data, err := wire.EncodeJSON(rentals)
	if err != nil {
		d.logger.Error("dispatch.bookings.encode_error", "error", err)
		return
	}
	d.replyQuery(wire.OpGetBookings, m, data, src)
}

func (d *Dispatcher) handleGetAvailability(ctx context.Context, m wire.Message, src *net.UDPAddr) {
	req, err := wire.DecodeAvailabilityRequest(m.Data)
	if err != nil {
		d.metrics.recordMalformed(ctx)
		d.logger.Error("dispatch.availability.malformed", "from", src.String(), "error", err)
		return
	}
	cars, err := d.store.ListAvailable(ctx, req)
	if err != nil {
		d.logger.Error("dispatch.availability.store_error", "from", src.String(), "error", err)
		return
	}
	data, err := wire.EncodeJSON(cars)
	if err != nil {
		d.logger.Error("dispatch.availability.encode_error", "error", err)
		return
	}
	d.replyQuery(wire.OpGetAvailability, m, data, src)
}

// replyQuery echoes the query operation back to the source with the result
// payload. Query envelopes carry no transaction id and none is invented.
func (d *Dispatcher) replyQuery(op wire.Operation, m wire.Message, data string, src *net.UDPAddr) {
	reply := wire.Message{
		Operation:     op,
		TransactionID: m.TransactionID,
		Sender:        d.participant.SelfName(),
		Data:          data,
	}
	if err := d.sender.Send(reply, src); err != nil {
		d.logger.Error("dispatch.reply.send_error", "op", op, "to", src.String(), "error", err)
	}
}
