/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapclient

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almazyadn/email/internal/config"
	"github.com/almazyadn/email/internal/imaptest"
	"github.com/almazyadn/email/internal/triage"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Debugf(string, ...interface{}) {}

const rawMessage = "From: Bob <bob@example.com>\r\n" +
	"To: triage@example.com\r\n" +
	"Subject: Server outage\r\n" +
	"Message-ID: <outage-1@example.com>\r\n" +
	"Date: Tue, 05 Mar 2024 11:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"The server is down.\r\n"

func startServer(t *testing.T, opts ...imaptest.Option) string {
	t.Helper()
	return imaptest.Start(t, opts...)
}

func rawClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, c.Login(imaptest.Username, imaptest.Password))
	t.Cleanup(func() { _ = c.Logout() })
	return c
}

func appendMessage(t *testing.T, addr, folder, raw string, flags []string) {
	t.Helper()
	c := rawClient(t, addr)
	date := time.Date(2024, time.March, 5, 11, 0, 0, 0, time.UTC)
	require.NoError(t, c.Append(folder, flags, date, bytes.NewBufferString(raw)))
}

func unseen(t *testing.T, addr, folder string) []uint32 {
	t.Helper()
	c := rawClient(t, addr)
	_, err := c.Select(folder, true)
	require.NoError(t, err)
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	require.NoError(t, err)
	return uids
}

func dialTest(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(config.IMAPConfig{
		Addr:     addr,
		Security: config.SecurityNone,
		Username: imaptest.Username,
		Password: imaptest.Password,
	}, testLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestListUnread(t *testing.T) {
	addr := startServer(t)
	appendMessage(t, addr, "INBOX", rawMessage, nil)
	c := dialTest(t, addr)

	msgs, err := c.ListUnread(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the seeded message is already seen")

	msg := msgs[0]
	assert.NotZero(t, msg.UID)
	assert.Equal(t, "INBOX", msg.Folder)
	assert.Equal(t, "bob@example.com", msg.Sender)
	assert.Equal(t, "Server outage", msg.Subject)
	assert.Equal(t, "outage-1@example.com", msg.MessageID)
	assert.Equal(t, "The server is down.\r\n", msg.Body)
	assert.True(t, msg.Received.Equal(time.Date(2024, time.March, 5, 11, 0, 0, 0, time.UTC)))
	assert.False(t, msg.Read)

	// Listing must not mark anything read.
	again, err := c.ListUnread(context.Background())
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestListUnreadEmpty(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)

	msgs, err := c.ListUnread(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEnsureFolder(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)
	ctx := context.Background()

	f, err := c.EnsureFolder(ctx, "Spam Review")
	require.NoError(t, err)
	assert.Equal(t, "Spam Review", f.Name)

	f, err = c.EnsureFolder(ctx, "Spam Review")
	require.NoError(t, err, "an existing folder is reused")
	assert.Equal(t, "Spam Review", f.Name)

	_, err = c.EnsureFolder(ctx, "")
	assert.ErrorIs(t, err, ErrFolderName)
	_, err = c.EnsureFolder(ctx, "Need*")
	assert.ErrorIs(t, err, ErrFolderName)
}

func TestMoveThenSetRead(t *testing.T) {
	addr := startServer(t)
	appendMessage(t, addr, "INBOX", rawMessage, nil)
	c := dialTest(t, addr)
	ctx := context.Background()

	msgs, err := c.ListUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	hasMove, err := c.c.Support("MOVE")
	require.NoError(t, err)
	require.True(t, hasMove)

	folder, err := c.EnsureFolder(ctx, "Sent Items")
	require.NoError(t, err)
	require.NoError(t, c.Move(ctx, msg, folder))
	assert.Equal(t, "Sent Items", msg.Folder)
	assert.Zero(t, msg.UID)

	assert.Len(t, unseen(t, addr, "Sent Items"), 1)
	require.NoError(t, c.SetRead(ctx, msg, true))
	assert.Empty(t, unseen(t, addr, "Sent Items"))

	left, err := c.ListUnread(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestMoveWithoutServerMove(t *testing.T) {
	addr := startServer(t, imaptest.WithoutMove())
	appendMessage(t, addr, "INBOX", rawMessage, nil)
	c := dialTest(t, addr)
	ctx := context.Background()
	hasMove, err := c.c.Support("MOVE")
	require.NoError(t, err)
	require.False(t, hasMove)

	msgs, err := c.ListUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	folder, err := c.EnsureFolder(ctx, "Archive")
	require.NoError(t, err)
	require.NoError(t, c.Move(ctx, msgs[0], folder))
	assert.Equal(t, "Archive", msgs[0].Folder)

	assert.Len(t, unseen(t, addr, "Archive"), 1)
	assert.Empty(t, unseen(t, addr, "INBOX"), "the original is expunged")
	left, err := c.ListUnread(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSetReadInPlace(t *testing.T) {
	addr := startServer(t)
	appendMessage(t, addr, "INBOX", rawMessage, nil)
	c := dialTest(t, addr)
	ctx := context.Background()

	msgs, err := c.ListUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, c.SetRead(ctx, msgs[0], true))
	assert.Empty(t, unseen(t, addr, "INBOX"))

	require.NoError(t, c.SetRead(ctx, msgs[0], false))
	assert.Len(t, unseen(t, addr, "INBOX"), 1)
}

func TestSetReadMovedWithoutMessageID(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)
	_, err := c.EnsureFolder(context.Background(), "Archive")
	require.NoError(t, err)

	msg := &triage.Message{Folder: "Archive", Subject: "gone"}
	assert.NoError(t, c.SetRead(context.Background(), msg, true))
}

func TestWaitForMailTimeout(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)

	start := time.Now()
	got, err := c.WaitForMail(context.Background(), 100*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// The session is still usable afterwards.
	_, err = c.ListUnread(context.Background())
	require.NoError(t, err)
}

func inboxUpdate() *client.MailboxUpdate {
	return &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Name: "INBOX"}}
}

func TestWaitForMailWakesOnUpdate(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)
	_, err := c.ListUnread(context.Background())
	require.NoError(t, err)

	raw := rawClient(t, addr)
	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, raw.Append("INBOX", nil, time.Now(), bytes.NewBufferString(rawMessage)))
		c.updates <- inboxUpdate()
	}()
	start := time.Now()
	got, err := c.WaitForMail(context.Background(), 5*time.Second, time.Second)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitForMailIgnoresUpdateWithoutMail(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)
	_, err := c.ListUnread(context.Background())
	require.NoError(t, err)

	// Selecting the mailbox makes the server report EXISTS and RECENT.
	c.updates <- inboxUpdate()
	got, err := c.WaitForMail(context.Background(), 200*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestWaitForMailIgnoresListedMail(t *testing.T) {
	addr := startServer(t)
	appendMessage(t, addr, "INBOX", rawMessage, nil)
	c := dialTest(t, addr)
	msgs, err := c.ListUnread(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// The listed message is still unread but is not new.
	got, err := c.WaitForMail(context.Background(), 200*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestWaitForMailSeesMailFromBetweenPasses(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)
	_, err := c.ListUnread(context.Background())
	require.NoError(t, err)
	appendMessage(t, addr, "INBOX", rawMessage, nil)

	start := time.Now()
	got, err := c.WaitForMail(context.Background(), 5*time.Second, time.Second)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForMailCancelled(t *testing.T) {
	addr := startServer(t)
	c := dialTest(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := c.WaitForMail(ctx, 5*time.Second, time.Second)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestDialBadCredentials(t *testing.T) {
	addr := startServer(t)
	_, err := Dial(config.IMAPConfig{
		Addr:     addr,
		Security: config.SecurityNone,
		Username: "username",
		Password: "wrong",
	}, testLogger{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "conn.Login"))
}
