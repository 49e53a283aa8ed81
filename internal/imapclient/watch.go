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
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
)

// WaitForMail blocks in IDLE, or polls when the server lacks IDLE, until
// unseen mail newer than the last ListUnread shows up, timeout passes or
// ctx is cancelled. It reports whether such mail arrived. Updates caused by
// the client's own commands wake it but are not reported as new mail.
func (c *Client) WaitForMail(ctx context.Context, timeout, pollInterval time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensure(); err != nil {
		return false, err
	}
	if err := c.selectFolder(c.cfg.Mailbox); err != nil {
		return false, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-c.wake:
		default:
		}
		fresh, err := c.arrived()
		if err != nil || fresh {
			return fresh, err
		}

		woken, err := c.idle(ctx, deadline.C, pollInterval)
		if err != nil {
			return false, err
		}
		if !woken {
			return false, nil
		}
	}
}

// idle runs one IDLE command until a mailbox update, the deadline or ctx.
// It reports whether an update ended it.
func (c *Client) idle(ctx context.Context, deadline <-chan time.Time, pollInterval time.Duration) (bool, error) {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c.c).IdleWithFallback(stop, pollInterval)
	}()

	woken := false
	select {
	case <-c.wake:
		woken = true
	case <-deadline:
	case <-ctx.Done():
	case err := <-done:
		// IDLE ended on its own, usually because the connection dropped.
		if err != nil {
			return false, fmt.Errorf("IdleWithFallback: %w", err)
		}
		return ctx.Err() == nil, nil
	}
	close(stop)
	if err := <-done; err != nil {
		return false, fmt.Errorf("IdleWithFallback: %w", err)
	}
	return woken && ctx.Err() == nil, nil
}

// arrived reports whether the watched mailbox holds unseen mail above the
// last UID ListUnread returned.
func (c *Client) arrived() (bool, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(c.lastUID+1, 0)
	uids, err := c.c.UidSearch(criteria)
	if err != nil {
		return false, fmt.Errorf("c.UidSearch: %w", err)
	}
	for _, uid := range uids {
		if uid > c.lastUID {
			return true, nil
		}
	}
	return false, nil
}
