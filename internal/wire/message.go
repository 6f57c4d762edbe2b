// Package wire implements the datagram envelope and payload schemas spoken
// between 2PC peers. One UDP datagram carries exactly one JSON-encoded
// Message; payloads ride inside Message.Data as opaque strings whose schema
// is dictated by the operation, so they are decoded lazily by whoever routes
// the message.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxDatagramBytes bounds the encoded envelope. Anything larger is a fatal
// decode error, never a truncation.
const MaxDatagramBytes = 16 * 1024

// ErrMalformedMessage reports an unrecognized operation or a structural
// decode failure. The dispatcher drops the datagram and keeps serving.
var ErrMalformedMessage = errors.New("wire: malformed message")

// Operation identifies what a Message asks the receiver to do.
type Operation string

// Wire operations. PREPARE, COMMIT, ABORT and RESULT drive the 2PC state
// machine; GET_BOOKINGS and GET_AVAILABILITY are read-only queries.
const (
	OpPrepare         Operation = "PREPARE"
	OpCommit          Operation = "COMMIT"
	OpAbort           Operation = "ABORT"
	OpResult          Operation = "RESULT"
	OpGetBookings     Operation = "GET_BOOKINGS"
	OpGetAvailability Operation = "GET_AVAILABILITY"
)

// Valid reports whether op is one of the known wire operations.
func (op Operation) Valid() bool {
	switch op {
	case OpPrepare, OpCommit, OpAbort, OpResult, OpGetBookings, OpGetAvailability:
		return true
	}
	return false
}

// Transactional reports whether op requires a transaction id on the envelope.
func (op Operation) Transactional() bool {
	switch op {
	case OpPrepare, OpCommit, OpAbort, OpResult:
		return true
	}
	return false
}

// Message is the envelope carried by every datagram.
type Message struct {
	// Operation selects the handler and the schema of Data.
	Operation Operation `json:"operation"`
	// TransactionID is assigned by the coordinator; null for read-only ops.
	TransactionID *uuid.UUID `json:"transactionId"`
	// Sender is the short peer name of the originator (e.g. "CarProvider").
	Sender string `json:"sender"`
	// Data is an opaque payload; see the payload schemas in payloads.go.
	Data string `json:"data"`
}

// TxnID returns the transaction id and whether one is present.
func (m Message) TxnID() (uuid.UUID, bool) {
	if m.TransactionID == nil {
		return uuid.Nil, false
	}
	return *m.TransactionID, true
}

// New builds a Message for a transactional operation.
func New(op Operation, txnID uuid.UUID, sender, data string) Message {
	id := txnID
	return Message{Operation: op, TransactionID: &id, Sender: sender, Data: data}
}

// Encode serializes the envelope and enforces the datagram size cap.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Operation, err)
	}
	if len(b) > MaxDatagramBytes {
		return nil, fmt.Errorf("wire: encode %s: %d bytes exceeds %d byte cap", m.Operation, len(b), MaxDatagramBytes)
	}
	return b, nil
}

// Decode parses a datagram into a Message, rejecting oversized payloads,
// unknown operations, and transactional envelopes without a transaction id.
func Decode(b []byte) (Message, error) {
	if len(b) > MaxDatagramBytes {
		return Message{}, fmt.Errorf("%w: %d bytes exceeds %d byte cap", ErrMalformedMessage, len(b), MaxDatagramBytes)
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !m.Operation.Valid() {
		return Message{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedMessage, m.Operation)
	}
	if m.Operation.Transactional() {
		if id, ok := m.TxnID(); !ok || id == uuid.Nil {
			return Message{}, fmt.Errorf("%w: %s without transaction id", ErrMalformedMessage, m.Operation)
		}
	}
	return m, nil
}
