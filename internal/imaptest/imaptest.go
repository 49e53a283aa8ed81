/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package imaptest runs an in-memory IMAP server for tests. The server
// holds one account, "username" with password "password", whose INBOX
// starts with a single message that is already seen.
package imaptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/require"
)

const (
	Username = "username"
	Password = "password"
)

type options struct {
	hideMove bool
}

type Option func(*options)

// WithoutMove hides the MOVE capability from clients so they fall back to
// COPY, STORE and EXPUNGE.
func WithoutMove() Option {
	return func(o *options) { o.hideMove = true }
}

// Start serves a fresh in-memory backend on a loopback port and returns
// the address to dial. Everything is torn down when the test ends.
func Start(t testing.TB, opts ...Option) string {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := server.New(NewBackend())
	s.AllowInsecureAuth = true
	s.Enable(idle.NewExtension())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln) // nolint:errcheck
	t.Cleanup(func() { _ = s.Close() })

	if o.hideMove {
		return hideMove(t, ln.Addr().String())
	}
	return ln.Addr().String()
}

// NewBackend returns the go-imap memory backend with MOVE support added.
func NewBackend() backend.Backend {
	return &moveBackend{Backend: memory.New()}
}

type moveBackend struct {
	backend.Backend
}

func (b *moveBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	user, err := b.Backend.Login(connInfo, username, password)
	if err != nil {
		return nil, err
	}
	return &moveUser{User: user}, nil
}

type moveUser struct {
	backend.User
}

func (u *moveUser) GetMailbox(name string) (backend.Mailbox, error) {
	mbox, err := u.User.GetMailbox(name)
	if err != nil {
		return nil, err
	}
	return &moveMailbox{Mailbox: mbox}, nil
}

type moveMailbox struct {
	backend.Mailbox
}

var _ backend.MoveMailbox = (*moveMailbox)(nil)

func (m *moveMailbox) MoveMessages(uid bool, seqset *imap.SeqSet, dest string) error {
	if err := m.CopyMessages(uid, seqset, dest); err != nil {
		return fmt.Errorf("m.CopyMessages: %w", err)
	}
	if err := m.UpdateMessagesFlags(uid, seqset, imap.AddFlags, []string{imap.DeletedFlag}); err != nil {
		return fmt.Errorf("m.UpdateMessagesFlags: %w", err)
	}
	if err := m.Expunge(); err != nil {
		return fmt.Errorf("m.Expunge: %w", err)
	}
	return nil
}

// hideMove proxies target, dropping MOVE from every capability line the
// server sends.
func hideMove(t testing.TB, target string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go relay(conn, target)
		}
	}()
	return ln.Addr().String()
}

func relay(downstream net.Conn, target string) {
	defer downstream.Close() // nolint:errcheck
	upstream, err := net.Dial("tcp", target)
	if err != nil {
		return
	}
	defer upstream.Close() // nolint:errcheck
	go func() {
		_, _ = io.Copy(upstream, downstream)
		_ = upstream.Close()
	}()

	r := bufio.NewReader(upstream)
	for {
		line, err := r.ReadString('\n')
		if strings.Contains(line, "CAPABILITY") {
			line = strings.ReplaceAll(line, " MOVE", "")
		}
		if _, werr := io.WriteString(downstream, line); werr != nil {
			return
		}
		if err != nil {
			return
		}
	}
}
