package wol

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestMagicPacket(t *testing.T) {
	mac, err := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	packet := MagicPacket(mac)
	require.Len(t, packet, 102)

	// 6 bytes of 0xFF.
	for i := range 6 {
		assert.Equal(t, byte(0xFF), packet[i])
	}

	// 16 repetitions of the MAC.
	for rep := range 16 {
		offset := 6 + rep*6
		assert.Equal(t, []byte(mac), packet[offset:offset+6])
	}
}

func TestNewWaker_InvalidMAC(t *testing.T) {
	_, err := NewWaker(testLogger(), "not-a-mac", "192.168.1.255", 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing mac address")
}

func TestWake_RetriesUntilSuccess(t *testing.T) {
	w, err := NewWaker(testLogger(), "AA:BB:CC:DD:EE:FF", "192.168.1.255", 9)
	require.NoError(t, err)

	attempts := 0
	w.send = func(packet []byte, addr string) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("send failed")
		}

		return nil
	}

	ok := w.Wake(context.Background(), 3)

	assert.True(t, ok, "third attempt succeeds")
	assert.Equal(t, 3, attempts)
}

func TestWake_AllAttemptsFail(t *testing.T) {
	w, err := NewWaker(testLogger(), "AA:BB:CC:DD:EE:FF", "192.168.1.255", 9)
	require.NoError(t, err)

	attempts := 0
	w.send = func(packet []byte, addr string) error {
		attempts++

		return fmt.Errorf("send failed")
	}

	ok := w.Wake(context.Background(), 3)

	assert.False(t, ok)
	assert.Equal(t, 3, attempts)
}

func TestWake_FirstAttemptSucceeds(t *testing.T) {
	w, err := NewWaker(testLogger(), "AA:BB:CC:DD:EE:FF", "192.168.1.255", 9)
	require.NoError(t, err)

	attempts := 0
	w.send = func(packet []byte, addr string) error {
		attempts++

		return nil
	}

	assert.True(t, w.Wake(context.Background(), 3))
	assert.Equal(t, 1, attempts)
}

func TestWake_ContextCancelledDuringRetry(t *testing.T) {
	w, err := NewWaker(testLogger(), "AA:BB:CC:DD:EE:FF", "192.168.1.255", 9)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	w.send = func(packet []byte, addr string) error {
		cancel()

		return fmt.Errorf("send failed")
	}

	assert.False(t, w.Wake(ctx, 5))
}

func TestVerifyOnline_PortOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)

	ok := VerifyOnline(
		context.Background(), testLogger(),
		"127.0.0.1", addr.Port, verifyInterval,
	)
	assert.True(t, ok)
}
