/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package mailbox joins the IMAP and SMTP adapters into the single
// mailbox the triage engine acts through.
package mailbox

import (
	"context"
	"fmt"

	"github.com/almazyadn/email/internal/triage"
)

// Store is the IMAP half of a mailbox.
type Store interface {
	ListUnread(ctx context.Context) ([]*triage.Message, error)
	EnsureFolder(ctx context.Context, name string) (triage.Folder, error)
	Move(ctx context.Context, msg *triage.Message, folder triage.Folder) error
	SetRead(ctx context.Context, msg *triage.Message, read bool) error
	Close() error
}

// Submitter is the SMTP half of a mailbox.
type Submitter interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Account is a real mailbox: reads and files over IMAP, sends over SMTP.
type Account struct {
	store  Store
	sender Submitter
}

var _ triage.Mailbox = (*Account)(nil)

func NewAccount(store Store, sender Submitter) *Account {
	return &Account{store: store, sender: sender}
}

func (a *Account) ListUnread(ctx context.Context) ([]*triage.Message, error) {
	messages, err := a.store.ListUnread(ctx)
	if err != nil {
		return nil, fmt.Errorf("a.store.ListUnread: %w", err)
	}
	return messages, nil
}

func (a *Account) Send(ctx context.Context, to []string, subject, body string) error {
	if err := a.sender.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("a.sender.Send: %w", err)
	}
	return nil
}

func (a *Account) EnsureFolder(ctx context.Context, name string) (triage.Folder, error) {
	folder, err := a.store.EnsureFolder(ctx, name)
	if err != nil {
		return triage.Folder{}, fmt.Errorf("a.store.EnsureFolder: %w", err)
	}
	return folder, nil
}

func (a *Account) Move(ctx context.Context, msg *triage.Message, folder triage.Folder) error {
	if err := a.store.Move(ctx, msg, folder); err != nil {
		return fmt.Errorf("a.store.Move: %w", err)
	}
	return nil
}

func (a *Account) SetRead(ctx context.Context, msg *triage.Message, read bool) error {
	if err := a.store.SetRead(ctx, msg, read); err != nil {
		return fmt.Errorf("a.store.SetRead: %w", err)
	}
	return nil
}

// Close logs out of the IMAP session. The sender holds no connection
// between messages.
func (a *Account) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
