package wire_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"pkt.systems/rentald/internal/wire"
)

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	txnID := uuid.New()
	msg := wire.New(wire.OpPrepare, txnID, "TravelBroker", `{"transactionId":"x"}`)
	b, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := wire.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Operation != wire.OpPrepare || got.Sender != "TravelBroker" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if id, ok := got.TxnID(); !ok || id != txnID {
		t.Fatalf("transaction id mismatch: %v %v", id, ok)
	}
}

func TestDecodeNullTransactionID(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"operation":"GET_BOOKINGS","transactionId":null,"sender":"TravelBroker","data":""}`)
	msg, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.TxnID(); ok {
		t.Fatal("expected no transaction id")
	}
}

func TestDecodeRejectsUnknownOperation(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"operation":"STEAL_CAR","transactionId":null,"sender":"x","data":""}`)
	if _, err := wire.Decode(raw); !errors.Is(err, wire.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodeRejectsTransactionalWithoutID(t *testing.T) {
	t.Parallel()

	for _, op := range []wire.Operation{wire.OpPrepare, wire.OpCommit, wire.OpAbort, wire.OpResult} {
		raw := []byte(`{"operation":"` + string(op) + `","transactionId":null,"sender":"x","data":""}`)
		if _, err := wire.Decode(raw); !errors.Is(err, wire.ErrMalformedMessage) {
			t.Fatalf("%s: expected ErrMalformedMessage, got %v", op, err)
		}
	}
}

func TestDecodeRejectsOversizedDatagram(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte("a"), wire.MaxDatagramBytes+1)
	if _, err := wire.Decode(raw); !errors.Is(err, wire.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodeCoordinatorContext(t *testing.T) {
	t.Parallel()

	txnID := uuid.New()
	resource := uuid.New()
	cc := wire.CoordinatorContext{
		TransactionID: txnID,
		Coordinator:   wire.Peer{Name: "TravelBroker", Host: "10.0.0.1", Port: 5000},
		Participants: []wire.CoordinatorParticipant{
			{
				Name: "CarProvider", Host: "10.0.0.2", Port: 5001,
				BookingContext: wire.BookingContext{
					ResourceID:      resource,
					StartDate:       "2024-06-01",
					EndDate:         "2024-06-03",
					NumberOfPersons: 2,
				},
			},
			{
				Name: "HotelProvider", Host: "10.0.0.3", Port: 5002,
				BookingContext: wire.BookingContext{
					ResourceID:      uuid.New(),
					StartDate:       "2024-06-01",
					EndDate:         "2024-06-03",
					NumberOfPersons: 2,
				},
			},
		},
	}
	data, err := wire.EncodeJSON(cc)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	got, err := wire.DecodeCoordinatorContext(data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.TransactionID != txnID {
		t.Fatalf("transaction id mismatch: %v", got.TransactionID)
	}
	if len(got.Participants) != 2 || got.Participants[0].BookingContext.ResourceID != resource {
		t.Fatalf("unexpected participants: %+v", got.Participants)
	}
}

func TestDecodeCoordinatorContextRejectsBadDates(t *testing.T) {
	t.Parallel()

	data := `{"transactionId":"` + uuid.NewString() + `","coordinator":{"name":"TravelBroker","host":"h","port":5000},` +
		`"participants":[{"name":"CarProvider","host":"h","port":5001,` +
		`"bookingContext":{"resourceId":"` + uuid.NewString() + `","startDate":"June 1st","endDate":"2024-06-03","numberOfPersons":2}}]}`
	if _, err := wire.DecodeCoordinatorContext(data); !errors.Is(err, wire.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestResultPayload(t *testing.T) {
	t.Parallel()

	if got := wire.ResultPayload(true); !strings.Contains(got, `"success":true`) {
		t.Fatalf("unexpected payload: %s", got)
	}
	tr, err := wire.DecodeTransactionResult(wire.ResultPayload(false))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if tr.Success {
		t.Fatal("expected success=false")
	}
}
