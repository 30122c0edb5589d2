package executor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/leadflowhq/outreach/internal/config"
)

func TestNewSMTPSenderAppliesConfig(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{DialTimeoutSecs: 5, RatePerSec: 2})
	assert.Equal(t, 5*time.Second, s.dialTimeout)
	assert.Equal(t, rate.Limit(2), s.perHostRate)
}

func TestNewSMTPSenderZeroConfigFallsBack(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{})
	assert.Equal(t, 30*time.Second, s.dialTimeout)
	assert.Greater(t, float64(s.perHostRate), 0.0)
}

func TestSendBoundedTimesOutOnSilentServer(t *testing.T) {
	// A listener that accepts and never speaks SMTP; without the bound the
	// dial would block on the greeting read forever.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	s := NewSMTPSender(config.SMTPConfig{})
	s.dialTimeout = 100 * time.Millisecond

	addr := ln.Addr().(*net.TCPAddr)
	d := gomail.NewDialer("127.0.0.1", addr.Port, "", "")

	m := gomail.NewMessage()
	m.SetHeader("From", "a@example.com")
	m.SetHeader("To", "b@example.com")
	m.SetBody("text/plain", "hi")

	start := time.Now()
	err = s.sendBounded(d, m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, isTransientSMTP(err))
	assert.Less(t, time.Since(start), time.Second)
}
