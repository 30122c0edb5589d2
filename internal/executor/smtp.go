package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/leadflowhq/outreach/internal/config"
	"github.com/leadflowhq/outreach/internal/domain"
)

// SMTPSender delivers mail through each account's own SMTP endpoint.
// A small per-host pacer keeps bursts from tripping provider greylisting;
// the hourly and daily caps are enforced upstream by the rate limiter.
type SMTPSender struct {
	mu     sync.Mutex
	pacers map[string]*rate.Limiter

	perHostRate rate.Limit
	dialTimeout time.Duration
	maxElapsed  time.Duration
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	perHost := rate.Limit(cfg.RatePerSec)
	if perHost <= 0 {
		perHost = rate.Every(500 * time.Millisecond)
	}
	dial := cfg.DialTimeout()
	if dial <= 0 {
		dial = 30 * time.Second
	}
	return &SMTPSender{
		pacers:      make(map[string]*rate.Limiter),
		perHostRate: perHost,
		dialTimeout: dial,
		maxElapsed:  30 * time.Second,
	}
}

func (s *SMTPSender) pacer(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pacers[host]
	if !ok {
		p = rate.NewLimiter(s.perHostRate, 1)
		s.pacers[host] = p
	}
	return p
}

// Send transmits one message. Transport-level failures are retried briefly
// with exponential backoff before being reported to the queue's own retry
// policy.
func (s *SMTPSender) Send(ctx context.Context, account *domain.SendingAccount, msg *domain.OutboundMessage) domain.DispatchResult {
	if err := s.pacer(account.SMTPHost).Wait(ctx); err != nil {
		return domain.DispatchResult{Error: err.Error(), Transient: true}
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", account.FromEmail, account.FromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	m.SetBody("text/plain", msg.ContentText)
	m.AddAlternative("text/html", msg.ContentHTML)

	d := gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUser, account.SMTPPass)

	operation := func() error {
		return s.sendBounded(d, m)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = s.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return domain.DispatchResult{
			Error:     err.Error(),
			Transient: isTransientSMTP(err),
		}
	}
	return domain.DispatchResult{OK: true, SentAt: time.Now()}
}

// sendBounded runs one DialAndSend attempt under the configured timeout.
// gomail dials without a deadline, so a silently dropped connection would
// otherwise pin a worker slot indefinitely.
func (s *SMTPSender) sendBounded(d *gomail.Dialer, m *gomail.Message) error {
	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.dialTimeout):
		return fmt.Errorf("smtp %s:%d: timeout after %s", d.Host, d.Port, s.dialTimeout)
	}
}

// isTransientSMTP classifies an SMTP error as retryable. 4xx responses and
// connection trouble are transient; 5xx rejections are not.
func isTransientSMTP(err error) bool {
	msg := err.Error()
	for _, code := range []string{"421", "450", "451", "452"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EOF") {
		return true
	}
	return false
}
