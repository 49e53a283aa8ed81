/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package mailbox

import (
	"context"
	"strings"

	"go.uber.org/atomic"

	"github.com/almazyadn/email/internal/triage"
)

type Logger interface {
	Infof(format string, args ...interface{})
}

// DryRun lists mail from the wrapped mailbox but only logs what it would
// have sent, moved or flagged.
type DryRun struct {
	inner triage.Mailbox
	log   Logger

	sends atomic.Int64
	moves atomic.Int64
	flags atomic.Int64
}

var _ triage.Mailbox = (*DryRun)(nil)

func NewDryRun(inner triage.Mailbox, log Logger) *DryRun {
	return &DryRun{inner: inner, log: log}
}

func (d *DryRun) ListUnread(ctx context.Context) ([]*triage.Message, error) {
	return d.inner.ListUnread(ctx)
}

func (d *DryRun) Send(ctx context.Context, to []string, subject, body string) error {
	d.sends.Inc()
	d.log.Infof("[dry-run] Would send '%s' to %s (%d bytes)", subject, strings.Join(to, ", "), len(body))
	return nil
}

// EnsureFolder never creates anything; the name is handed back as is.
func (d *DryRun) EnsureFolder(ctx context.Context, name string) (triage.Folder, error) {
	d.log.Infof("[dry-run] Would ensure folder '%s'", name)
	return triage.Folder{Name: name}, nil
}

func (d *DryRun) Move(ctx context.Context, msg *triage.Message, folder triage.Folder) error {
	d.moves.Inc()
	d.log.Infof("[dry-run] Would move '%s' to '%s'", msg.Subject, folder.Name)
	return nil
}

func (d *DryRun) SetRead(ctx context.Context, msg *triage.Message, read bool) error {
	d.flags.Inc()
	d.log.Infof("[dry-run] Would mark '%s' read=%t", msg.Subject, read)
	return nil
}

// Suppressed reports how many side effects were skipped so far.
func (d *DryRun) Suppressed() (sends, moves, flags int64) {
	return d.sends.Load(), d.moves.Load(), d.flags.Load()
}
