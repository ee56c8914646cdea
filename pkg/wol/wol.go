// Package wol sends Wake-on-LAN magic packets and verifies that the
// target machine came online afterwards.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// retryDelay is the pause between magic packet attempts.
	retryDelay = time.Second

	// verifyInterval is the liveness poll period after a wake.
	verifyInterval = 2 * time.Second

	// dialTimeout bounds one liveness probe.
	dialTimeout = 3 * time.Second
)

// sendFunc transmits one packet to addr. Injectable for tests.
type sendFunc func(packet []byte, addr string) error

// Waker sends magic packets for a single configured machine.
type Waker struct {
	log       logrus.FieldLogger
	mac       net.HardwareAddr
	broadcast string
	send      sendFunc
}

// NewWaker creates a Waker. mac must be a valid hardware address;
// broadcast is the subnet broadcast IP and port the UDP port to
// target (conventionally 9).
func NewWaker(
	log logrus.FieldLogger,
	mac, broadcast string,
	port int,
) (*Waker, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("parsing mac address: %w", err)
	}

	if len(hw) != 6 {
		return nil, fmt.Errorf("mac address must be 6 bytes, got %d", len(hw))
	}

	return &Waker{
		log:       log.WithField("component", "wol"),
		mac:       hw,
		broadcast: net.JoinHostPort(broadcast, strconv.Itoa(port)),
		send:      sendUDP,
	}, nil
}

// MagicPacket builds the wake frame: 6 bytes of 0xFF followed by the
// target MAC repeated 16 times.
func MagicPacket(mac net.HardwareAddr) []byte {
	packet := make([]byte, 0, 6+16*len(mac))

	for range 6 {
		packet = append(packet, 0xFF)
	}

	for range 16 {
		packet = append(packet, mac...)
	}

	return packet
}

// Send transmits a single magic packet.
func (w *Waker) Send() error {
	if err := w.send(MagicPacket(w.mac), w.broadcast); err != nil {
		return fmt.Errorf("sending magic packet: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"mac":       w.mac.String(),
		"broadcast": w.broadcast,
	}).Info("Magic packet sent")

	return nil
}

// Wake sends the magic packet with up to retries attempts, pausing
// between failures. It returns true as soon as one send succeeds.
func (w *Waker) Wake(ctx context.Context, retries int) bool {
	for attempt := 1; attempt <= retries; attempt++ {
		if err := w.Send(); err == nil {
			if attempt > 1 {
				w.log.WithField("attempt", attempt).Info("Wake succeeded after retry")
			}

			return true
		} else {
			w.log.WithError(err).
				WithField("attempt", attempt).
				Warn("Magic packet send failed")
		}

		if attempt < retries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return false
			}
		}
	}

	w.log.WithField("retries", retries).Error("Wake failed on all attempts")

	return false
}

// VerifyOnline polls the target TCP port until it accepts a
// connection or the timeout elapses. A false return means the machine
// did not come up within the window, not that the wake failed.
func VerifyOnline(
	ctx context.Context,
	log logrus.FieldLogger,
	host string,
	port int,
	timeout time.Duration,
) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if portOpen(addr) {
			log.WithField("addr", addr).Info("Machine is online")

			return true
		}

		select {
		case <-time.After(verifyInterval):
		case <-ctx.Done():
			return false
		}
	}

	log.WithFields(logrus.Fields{
		"addr":    addr,
		"timeout": timeout.String(),
	}).Warn("Machine did not come online in time")

	return false
}

func portOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

func sendUDP(packet []byte, addr string) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}

	return nil
}
