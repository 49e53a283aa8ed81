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
	"net/textproto"
	"strings"

	"github.com/emersion/go-imap"
	move "github.com/emersion/go-imap-move"

	"github.com/almazyadn/email/internal/triage"
)

// EnsureFolder returns the folder called name, creating it when missing.
func (c *Client) EnsureFolder(ctx context.Context, name string) (triage.Folder, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "*%") {
		return triage.Folder{}, fmt.Errorf("%w: %q", ErrFolderName, name)
	}
	if err := ctx.Err(); err != nil {
		return triage.Folder{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return triage.Folder{}, err
	}

	exists, err := c.folderExists(name)
	if err != nil {
		return triage.Folder{}, err
	}
	if !exists {
		if err := c.c.Create(name); err != nil {
			// Another client may have created it in the meantime.
			if again, lerr := c.folderExists(name); lerr != nil || !again {
				return triage.Folder{}, fmt.Errorf("c.Create(%s): %w", name, err)
			}
		} else {
			c.log.Infof("Created folder '%s'", name)
		}
	}
	return triage.Folder{Name: name}, nil
}

func (c *Client) folderExists(name string) (bool, error) {
	ch := make(chan *imap.MailboxInfo, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.c.List("", name, ch)
	}()
	found := false
	for info := range ch {
		if info.Name == name {
			found = true
		}
	}
	if err := <-done; err != nil {
		return false, fmt.Errorf("c.List: %w", err)
	}
	return found, nil
}

// Move files msg into folder. The message keeps no UID afterwards; its
// Folder is updated so a later SetRead finds it by Message-ID.
func (c *Client) Move(ctx context.Context, msg *triage.Message, folder triage.Folder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return err
	}
	if msg.Folder == folder.Name {
		return nil
	}
	if err := c.selectFolder(c.source(msg)); err != nil {
		return err
	}
	if err := move.NewClient(c.c).UidMoveWithFallback(uidSet(msg.UID), folder.Name); err != nil {
		return fmt.Errorf("UidMoveWithFallback(%s): %w", folder.Name, err)
	}
	msg.Folder = folder.Name
	msg.UID = 0
	return nil
}

// SetRead sets or clears \Seen on msg wherever it currently lives.
func (c *Client) SetRead(ctx context.Context, msg *triage.Message, read bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return err
	}
	if err := c.selectFolder(c.source(msg)); err != nil {
		return err
	}

	uid := msg.UID
	if uid == 0 {
		var err error
		uid, err = c.lookup(msg.MessageID)
		if errors.Is(err, ErrNoSuchMessage) {
			// The message already left the mailbox being triaged.
			c.log.Warnf("Could not find '%s' in '%s' to flag it: %v", msg.Subject, msg.Folder, err)
			return nil
		}
		if err != nil {
			return err
		}
	}

	var op imap.FlagsOp = imap.RemoveFlags
	if read {
		op = imap.AddFlags
	}
	item := imap.FormatFlagsOp(op, true)
	if err := c.c.UidStore(uidSet(uid), item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("c.UidStore: %w", err)
	}
	return nil
}

func (c *Client) source(msg *triage.Message) string {
	if msg.Folder == "" {
		return c.cfg.Mailbox
	}
	return msg.Folder
}

// lookup finds a message in the selected folder by its Message-ID header.
func (c *Client) lookup(messageID string) (uint32, error) {
	if messageID == "" {
		return 0, fmt.Errorf("%w: message has no Message-ID", ErrNoSuchMessage)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header = textproto.MIMEHeader{"Message-Id": {messageID}}
	uids, err := c.c.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("c.UidSearch: %w", err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchMessage, messageID)
	}
	return uids[len(uids)-1], nil
}
