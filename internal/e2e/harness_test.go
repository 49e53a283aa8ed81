/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package e2e

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"

	"github.com/almazyadn/email/internal/classify"
	"github.com/almazyadn/email/internal/config"
	"github.com/almazyadn/email/internal/imapclient"
	"github.com/almazyadn/email/internal/imaptest"
	"github.com/almazyadn/email/internal/journal"
	"github.com/almazyadn/email/internal/logging"
	"github.com/almazyadn/email/internal/mailbox"
	"github.com/almazyadn/email/internal/schedule"
	"github.com/almazyadn/email/internal/smtpsender"
	"github.com/almazyadn/email/internal/triage"
)

const rosterYAML = `
staff:
  - email: duty.d@example.com
    department: D
    sun_tue: Yes
    wed_thu: No
    fri_sat: No
    shift: 7am-3pm
    score: 2
  - email: night.md@example.com
    department: MD
    sun_tue: Yes
    wed_thu: Yes
    fri_sat: Yes
    shift: 11pm-7am
    score: 1
`

// Tuesday 14:00 in Riyadh.
var received = time.Date(2024, time.March, 5, 11, 0, 0, 0, time.UTC)

// Delivered is one message accepted by the capture relay.
type Delivered struct {
	From string
	Rcpt []string
	Data []byte
}

// relayBackend accepts mail into memory, or answers every DATA with a
// 451 while failing is set.
type relayBackend struct {
	mu        sync.Mutex
	delivered []Delivered
	failing   bool
}

func (b *relayBackend) Login(state *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	return &relaySession{backend: b}, nil
}

func (b *relayBackend) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	return &relaySession{backend: b}, nil
}

func (b *relayBackend) setFailing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = v
}

func (b *relayBackend) Delivered() []Delivered {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delivered(nil), b.delivered...)
}

type relaySession struct {
	backend *relayBackend
	from    string
	rcpt    []string
}

func (s *relaySession) Mail(from string, opts smtp.MailOptions) error {
	s.from = from
	s.rcpt = nil
	return nil
}

func (s *relaySession) Rcpt(to string) error {
	s.rcpt = append(s.rcpt, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("failed to read message data: %w", err)
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if s.backend.failing {
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "relay busy"}
	}
	s.backend.delivered = append(s.backend.delivered, Delivered{From: s.from, Rcpt: s.rcpt, Data: buf.Bytes()})
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.rcpt = nil
}

func (s *relaySession) Logout() error {
	return nil
}

// TestDesk is a complete triage deployment against in-process servers.
type TestDesk struct {
	Name     string
	TempDir  string
	IMAPAddr string
	Relay    *relayBackend
	Journal  *journal.Journal
	Store    *imapclient.Client
	Account  *mailbox.Account
	Loop     *triage.Loop
	t        *testing.T
}

type deskOption func(*config.Config)

func setupTestDesk(t *testing.T, name string, opts ...deskOption) *TestDesk {
	t.Helper()
	tempDir := t.TempDir()

	imapAddr := imaptest.Start(t)

	relay := &relayBackend{}
	smtpSrv := smtp.NewServer(relay)
	smtpSrv.Domain = "localhost"
	smtpSrv.AllowInsecureAuth = true
	smtpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go smtpSrv.Serve(smtpLn) // nolint:errcheck
	t.Cleanup(func() { _ = smtpSrv.Close() })

	rosterPath := filepath.Join(tempDir, "roster.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(rosterYAML), 0o600))

	cfg := config.Default()
	cfg.IMAP = config.IMAPConfig{
		Addr:     imapAddr,
		Security: config.SecurityNone,
		Username: imaptest.Username,
		Password: imaptest.Password,
		Mailbox:  "INBOX",
	}
	cfg.SMTP = config.SMTPConfig{
		Addr:     smtpLn.Addr().String(),
		Security: config.SecurityNone,
		From:     "triage@example.com",
	}
	cfg.Schedule = rosterPath
	cfg.Journal = config.JournalConfig{Enabled: true, Path: filepath.Join(tempDir, "journal.db")}
	cfg.Retry = config.RetryConfig{Attempts: 2, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	cfg.Classifier = config.ClassifierConfig{
		Default: "Need Review",
		Rules: []config.Rule{
			{Label: "REPLAY", Keywords: []string{"thank"}, Fields: []string{"subject"}},
			{Label: "REQUEST", Keywords: []string{"states:"}, Fields: []string{"body"}},
			{Label: "D", Keywords: []string{"outage"}, Fields: []string{"subject"}},
			{Label: "MD", Keywords: []string{"invoice dispute"}, Fields: []string{"subject"}},
			{Label: "Spam Review", Keywords: []string{"prize"}},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	require.NoError(t, cfg.Validate())

	log := logging.New(io.Discard, name, true)
	loc, err := cfg.Location()
	require.NoError(t, err)
	roster, err := schedule.Load(cfg.Schedule)
	require.NoError(t, err)

	j, err := journal.Open(cfg.Journal.Path, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	store, err := imapclient.Dial(cfg.IMAP, log)
	require.NoError(t, err)
	account := mailbox.NewAccount(store, smtpsender.New(cfg.SMTP, cfg.Retry, log))
	t.Cleanup(func() { _ = account.Close() })

	dispatcher := &triage.Dispatcher{
		Mailbox:    account,
		Classifier: classify.New(cfg.Classifier),
		Resolver:   roster,
		Labels:     triage.NewLabels(cfg.ForwardCategories),
		Composer:   triage.Composer{SentFolder: cfg.SentFolder, FallbackFolder: cfg.FallbackFolder},
		Location:   loc,
		Journal:    j,
		Log:        log,
	}

	return &TestDesk{
		Name:     name,
		TempDir:  tempDir,
		IMAPAddr: imapAddr,
		Relay:    relay,
		Journal:  j,
		Store:    store,
		Account:  account,
		Loop: &triage.Loop{
			Mailbox:    account,
			Dispatcher: dispatcher,
			Tracker:    triage.Trackers{logging.NewRunTracker(log), j},
			Log:        log,
		},
		t: t,
	}
}

func (d *TestDesk) client() *client.Client {
	d.t.Helper()
	c, err := client.Dial(d.IMAPAddr)
	require.NoError(d.t, err)
	require.NoError(d.t, c.Login(imaptest.Username, imaptest.Password))
	d.t.Cleanup(func() { _ = c.Logout() })
	return c
}

// Deliver appends an unread message to the INBOX.
func (d *TestDesk) Deliver(messageID, from, subject, body string) {
	d.t.Helper()
	raw := "From: " + from + "\r\n" +
		"To: triage@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + messageID + ">\r\n" +
		"Date: Tue, 05 Mar 2024 11:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
	require.NoError(d.t, d.client().Append("INBOX", nil, received, bytes.NewBufferString(raw)))
}

// Folder reports how many messages folder holds and how many are unread.
// A missing folder reports ok=false.
func (d *TestDesk) Folder(name string) (total, unread int, ok bool) {
	d.t.Helper()
	c := d.client()
	status, err := c.Select(name, true)
	if err != nil {
		return 0, 0, false
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	require.NoError(d.t, err)
	return int(status.Messages), len(uids), true
}
