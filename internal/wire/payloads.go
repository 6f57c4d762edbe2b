package wire

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the ISO-8601 day format used for all booking windows.
const DateLayout = "2006-01-02"

// ParseDate parses an ISO-8601 day string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrMalformedMessage, s)
	}
	return t, nil
}

// Peer identifies a participant or the coordinator by name and endpoint.
type Peer struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the peer's host:port form.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// BookingContext is the immutable request snapshot a coordinator hands each
// participant during PREPARE.
type BookingContext struct {
	ResourceID      uuid.UUID `json:"resourceId"`
	StartDate       string    `json:"startDate"`
	EndDate         string    `json:"endDate"`
	NumberOfPersons int       `json:"numberOfPersons"`
}

// CoordinatorParticipant describes one participant inside a
// CoordinatorContext.
type CoordinatorParticipant struct {
	Name           string         `json:"name"`
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	BookingContext BookingContext `json:"bookingContext"`
}

// Peer returns the participant's endpoint identity.
func (p CoordinatorParticipant) Peer() Peer {
	return Peer{Name: p.Name, Host: p.Host, Port: p.Port}
}

// CoordinatorContext is the PREPARE payload: the coordinator identity plus
// every participant with its booking snapshot.
type CoordinatorContext struct {
	TransactionID uuid.UUID                `json:"transactionId"`
	Coordinator   Peer                     `json:"coordinator"`
	Participants  []CoordinatorParticipant `json:"participants"`
}

// TransactionResult acknowledges a 2PC operation.
type TransactionResult struct {
	Success bool `json:"success"`
}

// AvailabilityRequest is the GET_AVAILABILITY payload.
type AvailabilityRequest struct {
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	NumberOfPersons int    `json:"numberOfPersons"`
}

// ReservationRequest mirrors BookingContext for the store boundary.
type ReservationRequest struct {
	ResourceID      uuid.UUID `json:"resourceId"`
	StartDate       string    `json:"startDate"`
	EndDate         string    `json:"endDate"`
	NumberOfPersons int       `json:"numberOfPersons"`
}

// DecodeCoordinatorContext parses a PREPARE payload and validates the parts
// the state machine depends on.
func DecodeCoordinatorContext(data string) (CoordinatorContext, error) {
	var cc CoordinatorContext
	if err := json.Unmarshal([]byte(data), &cc); err != nil {
		return CoordinatorContext{}, fmt.Errorf("%w: coordinator context: %v", ErrMalformedMessage, err)
	}
	if cc.TransactionID == uuid.Nil {
		return CoordinatorContext{}, fmt.Errorf("%w: coordinator context without transaction id", ErrMalformedMessage)
	}
	if len(cc.Participants) == 0 {
		return CoordinatorContext{}, fmt.Errorf("%w: coordinator context without participants", ErrMalformedMessage)
	}
	for _, p := range cc.Participants {
		if _, err := ParseDate(p.BookingContext.StartDate); err != nil {
			return CoordinatorContext{}, err
		}
		if _, err := ParseDate(p.BookingContext.EndDate); err != nil {
			return CoordinatorContext{}, err
		}
	}
	return cc, nil
}

// DecodeAvailabilityRequest parses a GET_AVAILABILITY payload.
func DecodeAvailabilityRequest(data string) (AvailabilityRequest, error) {
	var ar AvailabilityRequest
	if err := json.Unmarshal([]byte(data), &ar); err != nil {
		return AvailabilityRequest{}, fmt.Errorf("%w: availability request: %v", ErrMalformedMessage, err)
	}
	if _, err := ParseDate(ar.StartDate); err != nil {
		return AvailabilityRequest{}, err
	}
	if _, err := ParseDate(ar.EndDate); err != nil {
		return AvailabilityRequest{}, err
	}
	return ar, nil
}

// DecodeTransactionResult parses a TransactionResult payload.
func DecodeTransactionResult(data string) (TransactionResult, error) {
	var tr TransactionResult
	if err := json.Unmarshal([]byte(data), &tr); err != nil {
		return TransactionResult{}, fmt.Errorf("%w: transaction result: %v", ErrMalformedMessage, err)
	}
	return tr, nil
}

// EncodeJSON marshals a payload for Message.Data.
func EncodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("wire: encode payload: %w", err)
	}
	return string(b), nil
}

// ResultPayload renders a TransactionResult payload string.
func ResultPayload(success bool) string {
	s, _ := EncodeJSON(TransactionResult{Success: success})
	return s
}
