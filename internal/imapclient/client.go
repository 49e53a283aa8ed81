/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package imapclient reads and files mail on an IMAP server.
package imapclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/atomic"

	"github.com/almazyadn/email/internal/config"
)

var (
	ErrFolderName    = errors.New("invalid folder name")
	ErrNoSuchMessage = errors.New("no such message")
)

const dialTimeout = 30 * time.Second

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Client is a single IMAP session. Commands are serialised; the session is
// re-established transparently when the server drops it.
type Client struct {
	cfg config.IMAPConfig
	log Logger

	mu       sync.Mutex
	c        *client.Client
	selected string

	// lastUID is the highest unseen UID handed out by ListUnread. Only
	// unseen mail above it counts as new.
	lastUID uint32

	// Unsolicited responses from every session land here. They only wake
	// WaitForMail; whether mail actually arrived is checked afterwards.
	updates chan client.Update
	wake    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
}

// Dial connects, authenticates and selects the configured mailbox.
func Dial(cfg config.IMAPConfig, log Logger) (*Client, error) {
	if cfg.Mailbox == "" {
		cfg.Mailbox = config.DefaultMailbox
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		updates: make(chan client.Update, 64),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.forwardUpdates()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		close(c.done)
		return nil, err
	}
	return c, nil
}

func (c *Client) forwardUpdates() {
	for {
		select {
		case <-c.done:
			return
		case u := <-c.updates:
			if mu, ok := u.(*client.MailboxUpdate); ok && mu.Mailbox != nil && mu.Mailbox.Name == c.cfg.Mailbox {
				select {
				case c.wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (c *Client) connect() error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	var (
		conn *client.Client
		err  error
	)
	switch c.cfg.Security {
	case config.SecurityTLS:
		conn, err = client.DialWithDialerTLS(dialer, c.cfg.Addr, nil)
	default:
		conn, err = client.DialWithDialer(dialer, c.cfg.Addr)
	}
	if err != nil {
		return fmt.Errorf("client.Dial: %w", err)
	}
	if c.cfg.Security == config.SecurityStartTLS {
		host, _, _ := net.SplitHostPort(c.cfg.Addr)
		if err := conn.StartTLS(&tls.Config{ServerName: host}); err != nil {
			_ = conn.Logout()
			return fmt.Errorf("conn.StartTLS: %w", err)
		}
	}
	conn.Updates = c.updates
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = conn.Logout()
		return fmt.Errorf("conn.Login: %w", err)
	}
	c.c = conn
	c.selected = ""
	if err := c.selectFolder(c.cfg.Mailbox); err != nil {
		return err
	}
	c.log.Debugf("Connected to IMAP server %s as %s", c.cfg.Addr, c.cfg.Username)
	return nil
}

// ensure reconnects when the previous session was closed by the server.
func (c *Client) ensure() error {
	if c.closed.Load() {
		return errors.New("imapclient: client closed")
	}
	if c.c != nil && c.c.State() != imap.LogoutState {
		return nil
	}
	if c.c != nil {
		c.log.Warnf("IMAP session to %s was closed, reconnecting", c.cfg.Addr)
	}
	return c.connect()
}

func (c *Client) selectFolder(name string) error {
	if c.selected == name {
		return nil
	}
	if _, err := c.c.Select(name, false); err != nil {
		c.selected = ""
		return fmt.Errorf("c.Select(%s): %w", name, err)
	}
	c.selected = name
	return nil
}

// Close logs out and stops the update forwarder.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c == nil {
		return nil
	}
	if err := c.c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("c.Logout: %w", err)
	}
	return nil
}

func uidSet(uid uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(uid)
	return set
}
