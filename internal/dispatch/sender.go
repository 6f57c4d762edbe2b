package dispatch

import (
	"fmt"
	"net"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/wire"
)

// UDPSender posts messages over a shared socket. A mutex serializes the
// writes because the dispatcher, recovery, and the escalation timers all
// send through the same connection.
type UDPSender struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	logger pslog.Logger
}

// NewUDPSender wraps conn.
func NewUDPSender(conn *net.UDPConn, logger pslog.Logger) *UDPSender {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &UDPSender{conn: conn, logger: logger}
}

// Send encodes and posts one message to addr.
func (s *UDPSender) Send(m wire.Message, addr *net.UDPAddr) error {
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("dispatch: send %s to %s: %w", m.Operation, addr, err)
	}
	s.logger.Debug("dispatch.send", "op", m.Operation, "to", addr.String(), "bytes", len(b))
	return nil
}
