/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/almazyadn/email/internal/triage"
)

// ListUnread returns a snapshot of the unseen messages in the configured
// mailbox. Bodies are fetched with PEEK so listing never marks mail read.
func (c *Client) ListUnread(ctx context.Context) ([]*triage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return nil, err
	}
	if err := c.selectFolder(c.cfg.Mailbox); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("c.UidSearch: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	for _, uid := range uids {
		if uid > c.lastUID {
			c.lastUID = uid
		}
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.c.UidFetch(seqset, items, ch)
	}()

	var messages []*triage.Message
	for fetched := range ch {
		msg, err := c.parse(fetched, section)
		if err != nil {
			c.log.Warnf("Skipping unreadable message UID %d: %v", fetched.Uid, err)
			continue
		}
		messages = append(messages, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("c.UidFetch: %w", err)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].UID < messages[j].UID })
	return messages, nil
}

func (c *Client) parse(fetched *imap.Message, section *imap.BodySectionName) (*triage.Message, error) {
	msg := &triage.Message{
		UID:      fetched.Uid,
		Folder:   c.cfg.Mailbox,
		Received: fetched.InternalDate,
	}
	for _, f := range fetched.Flags {
		if f == imap.SeenFlag {
			msg.Read = true
		}
	}

	literal := fetched.GetBody(section)
	if literal == nil {
		return nil, errors.New("server returned no body")
	}
	if err := readMessage(literal, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// readMessage fills the header fields and the plain-text body of msg from
// a raw RFC 5322 message.
func readMessage(r io.Reader, msg *triage.Message) error {
	mr, err := mail.CreateReader(r)
	if mr == nil || (err != nil && !message.IsUnknownCharset(err)) {
		return fmt.Errorf("mail.CreateReader: %w", err)
	}
	defer mr.Close() // nolint:errcheck

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}
	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	}
	if msg.Received.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			msg.Received = date
		}
	}

	body, err := plainText(mr)
	if err != nil {
		return err
	}
	msg.Body = body
	return nil
}

// plainText returns the first inline text/plain part, falling back to the
// first inline text part of any kind.
func plainText(mr *mail.Reader) (string, error) {
	var fallback string
	haveFallback := false
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if p == nil || (err != nil && !message.IsUnknownCharset(err)) {
			return "", fmt.Errorf("mr.NextPart: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct == "" {
			ct = "text/plain"
		}
		if !strings.HasPrefix(ct, "text/") {
			continue
		}
		data, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("io.ReadAll: %w", err)
		}
		if ct == "text/plain" {
			return string(data), nil
		}
		if !haveFallback {
			fallback, haveFallback = string(data), true
		}
	}
	return fallback, nil
}
