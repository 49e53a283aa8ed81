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
	"context"
	"io"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almazyadn/email/internal/journal"
	"github.com/almazyadn/email/internal/mailbox"
	"github.com/almazyadn/email/internal/triage"
)

func deliverMorningMail(desk *TestDesk) {
	desk.Deliver("thanks-1@example.com", "Alice <alice@example.com>", "Thank you", "Got it, thanks.")
	desk.Deliver("status-1@example.com", "relay@system.example.com", "Request 4411",
		"sender: carol@example.com$states: false$missing: invoice number$")
	desk.Deliver("outage-1@example.com", "Bob <bob@example.com>", "Server outage", "The server is down.")
	desk.Deliver("billing-1@example.com", "Dan <dan@example.com>", "Invoice dispute", "Please call me.")
	desk.Deliver("prize-1@example.com", "promo@example.net", "You won a prize", "Click here.")
}

func bodyOf(t *testing.T, data []byte) (subject, body string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(data))
	require.NoError(t, err)
	subject, err = mr.Header.Subject()
	require.NoError(t, err)
	part, err := mr.NextPart()
	require.NoError(t, err)
	b, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(data, []byte("\r\n")))
	b = bytes.TrimSuffix(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")), []byte("\n"))
	return subject, string(b)
}

func lastRun(t *testing.T, desk *TestDesk, runID string) *journal.Run {
	t.Helper()
	runs, err := desk.Journal.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].ID)
	return runs[0]
}

// TestTriageEndToEnd runs one pass over a mixed inbox and checks what the
// relay received and where every message ended up.
func TestTriageEndToEnd(t *testing.T) {
	desk := setupTestDesk(t, "e2e")
	deliverMorningMail(desk)
	ctx := context.Background()

	report, err := desk.Loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Seen)
	assert.Equal(t, 4, report.Handled)
	assert.Equal(t, 1, report.Skipped, "nobody from MD is on duty at 14:00")
	assert.Zero(t, report.Failed)

	delivered := desk.Relay.Delivered()
	require.Len(t, delivered, 3)

	assert.Equal(t, []string{"alice@example.com"}, delivered[0].Rcpt)
	subject, body := bodyOf(t, delivered[0].Data)
	assert.Equal(t, "Re: Thank you", subject)
	assert.Equal(t, triage.FixedReplyBody, body)

	assert.Equal(t, []string{"carol@example.com"}, delivered[1].Rcpt)
	subject, body = bodyOf(t, delivered[1].Data)
	assert.Equal(t, "Re: Request 4411", subject)
	assert.Equal(t, triage.StatusMissingIntro+"invoice number", body)

	assert.Equal(t, []string{"duty.d@example.com"}, delivered[2].Rcpt)
	subject, body = bodyOf(t, delivered[2].Data)
	assert.Equal(t, "Server outage", subject)
	assert.Contains(t, body, "Original sender: bob@example.com\n\nThe server is down.")

	// The seeded INBOX message plus the replied ones and the MD message.
	total, unread, ok := desk.Folder("INBOX")
	require.True(t, ok)
	assert.Equal(t, 4, total)
	assert.Equal(t, 1, unread)

	total, unread, ok = desk.Folder("Sent Items")
	require.True(t, ok)
	assert.Equal(t, 1, total)
	assert.Zero(t, unread)

	total, unread, ok = desk.Folder("Spam Review")
	require.True(t, ok)
	assert.Equal(t, 1, total)
	assert.Zero(t, unread)

	run := lastRun(t, desk, report.RunID)
	assert.True(t, run.Success)
	assert.Equal(t, 4, run.Handled)
	assert.Equal(t, 5, run.Total)

	entries, err := desk.Journal.Entries(ctx, "outage-1@example.com")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, triage.StageDispatched, entries[0].Stage)
	assert.Equal(t, triage.StageMarked, entries[1].Stage)
	assert.Equal(t, "D", entries[0].Classification)

	// A second pass only sees the message nobody could take.
	again, err := desk.Loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Seen)
	assert.Equal(t, 1, again.Skipped)
	assert.Len(t, desk.Relay.Delivered(), 3)
}

// TestTriageRecoversFromRelayOutage checks that a message whose reply could
// not be sent stays unread and goes out on the next pass.
func TestTriageRecoversFromRelayOutage(t *testing.T) {
	desk := setupTestDesk(t, "outage")
	desk.Deliver("thanks-2@example.com", "alice@example.com", "Thank you", "ok")
	ctx := context.Background()

	desk.Relay.setFailing(true)
	report, err := desk.Loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	_, unread, _ := desk.Folder("INBOX")
	assert.Equal(t, 1, unread)

	run := lastRun(t, desk, report.RunID)
	assert.False(t, run.Success)
	assert.Equal(t, "1 message(s) failed", run.Error)

	desk.Relay.setFailing(false)
	report, err = desk.Loop.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Handled)
	assert.Len(t, desk.Relay.Delivered(), 1)
	_, unread, _ = desk.Folder("INBOX")
	assert.Zero(t, unread)
}

// TestTriageDryRun checks that a dry run leaves the server untouched.
func TestTriageDryRun(t *testing.T) {
	desk := setupTestDesk(t, "dry-run")
	deliverMorningMail(desk)

	dry := mailbox.NewDryRun(desk.Account, &lineLogger{t: t})
	desk.Loop.Mailbox = dry
	desk.Loop.Dispatcher.Mailbox = dry
	desk.Loop.Dispatcher.Journal = nil

	report, err := desk.Loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Handled)

	assert.Empty(t, desk.Relay.Delivered())
	_, unread, _ := desk.Folder("INBOX")
	assert.Equal(t, 5, unread)
	_, _, ok := desk.Folder("Spam Review")
	assert.False(t, ok)

	sends, moves, flags := dry.Suppressed()
	assert.Equal(t, int64(3), sends)
	assert.Equal(t, int64(2), moves)
	assert.Equal(t, int64(4), flags)
}

type lineLogger struct {
	t *testing.T
}

func (l *lineLogger) Infof(format string, args ...interface{}) {
	l.t.Logf(format, args...)
}
