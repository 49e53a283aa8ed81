/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package smtpsender submits outbound mail to the organization's SMTP relay.
package smtpsender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/atomic"

	"github.com/almazyadn/email/internal/config"
	"github.com/almazyadn/email/internal/utils"
)

const (
	BACKOFF_MULTIPLIER = 2.0 // Exponential growth factor
	dialTimeout        = 30 * time.Second
)

var ErrNoRecipients = errors.New("no recipients")

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Sender delivers one message per call, retrying transient failures.
type Sender struct {
	cfg   config.SMTPConfig
	retry config.RetryConfig
	log   Logger
	tls   *tls.Config
	sleep func(ctx context.Context, d time.Duration) error

	sent   atomic.Int64
	failed atomic.Int64
}

func New(cfg config.SMTPConfig, retry config.RetryConfig, log Logger) *Sender {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	host, _, _ := net.SplitHostPort(cfg.Addr)
	return &Sender{
		cfg:   cfg,
		retry: retry,
		log:   log,
		tls:   &tls.Config{ServerName: host},
		sleep: sleepContext,
	}
}

// Send composes a plain-text message and submits it to every recipient.
func (s *Sender) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	rcpts, err := utils.ParseAddressList(to)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	data, err := Compose(s.cfg.From, rcpts, subject, body, time.Now())
	if err != nil {
		return fmt.Errorf("Compose: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = s.deliver(ctx, rcpts, data)
		if err == nil {
			s.sent.Inc()
			s.log.Debugf("Submitted '%s' to %v", subject, rcpts)
			return nil
		}
		if isPermanentError(err) {
			s.failed.Inc()
			return fmt.Errorf("permanent failure: %w", err)
		}
		if attempt >= s.retry.Attempts {
			s.failed.Inc()
			return fmt.Errorf("giving up after %d attempt(s): %w", attempt, err)
		}
		wait := calculateBackoff(attempt, s.retry.MinBackoff, s.retry.MaxBackoff)
		s.log.Warnf("Failed to send '%s' (attempt %d of %d), retrying in %v: %v",
			subject, attempt, s.retry.Attempts, wait.Round(time.Millisecond), err)
		if err := s.sleep(ctx, wait); err != nil {
			s.failed.Inc()
			return err
		}
	}
}

// Stats returns how many messages were submitted and how many failed.
func (s *Sender) Stats() (sent, failed int64) {
	return s.sent.Load(), s.failed.Load()
}

func (s *Sender) deliver(ctx context.Context, rcpts []string, data []byte) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close() // nolint:errcheck

	if err := client.Hello(localName()); err != nil {
		return fmt.Errorf("client.Hello: %w", err)
	}
	if s.cfg.Security == config.SecurityStartTLS {
		if err := client.StartTLS(s.tls); err != nil {
			return fmt.Errorf("client.StartTLS: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
				return fmt.Errorf("client.Auth: %w", err)
			}
		}
	}
	if err := client.Mail(s.cfg.From, nil); err != nil {
		return fmt.Errorf("client.Mail: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("client.Rcpt(%s): %w", rcpt, err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("client.Data: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writer.Write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("writer.Close: %w", err)
	}
	return client.Quit()
}

func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("Dial: %w", err)
	}
	if s.cfg.Security == config.SecurityTLS {
		conn = tls.Client(conn, s.tls)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	host, _, _ := net.SplitHostPort(s.cfg.Addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp.NewClient: %w", err)
	}
	return client, nil
}

func localName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "localhost"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff calculates exponential backoff with jitter
func calculateBackoff(retryCount int, min, max time.Duration) time.Duration {
	backoff := float64(min) * math.Pow(BACKOFF_MULTIPLIER, float64(retryCount-1))

	// Cap at maximum
	if backoff > float64(max) {
		backoff = float64(max)
	}

	// Add jitter (±20%) to prevent thundering herd
	jitter := rand.Float64()*0.4 - 0.2
	backoff = backoff * (1.0 + jitter)

	return time.Duration(backoff)
}

// isNetworkError checks if error is network-related (temporary)
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "i/o timeout")
}

// isPermanentError checks if error is permanent (don't retry). SMTP 5xx
// replies are permanent, 4xx replies and network errors are not.
func isPermanentError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 500
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500
	}
	if isNetworkError(err) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid address") ||
		strings.Contains(errStr, "mailbox not found") ||
		strings.Contains(errStr, "recipient rejected")
}
