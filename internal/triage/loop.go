/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package triage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Tracker follows a batch from start to finish.
type Tracker interface {
	StartOperation(opID string, total int, stage string)
	LogProgress(opID string, done int, message string)
	EndOperation(opID string, success bool, errorMsg string)
}

// Trackers fans every call out to each tracker in order.
type Trackers []Tracker

func (ts Trackers) StartOperation(opID string, total int, stage string) {
	for _, t := range ts {
		t.StartOperation(opID, total, stage)
	}
}

func (ts Trackers) LogProgress(opID string, done int, message string) {
	for _, t := range ts {
		t.LogProgress(opID, done, message)
	}
}

func (ts Trackers) EndOperation(opID string, success bool, errorMsg string) {
	for _, t := range ts {
		t.EndOperation(opID, success, errorMsg)
	}
}

// Report summarises one pass over the unread messages.
type Report struct {
	RunID   string
	Seen    int
	Handled int
	Skipped int
	Failed  int
}

func (r Report) String() string {
	return fmt.Sprintf("seen=%d handled=%d skipped=%d failed=%d", r.Seen, r.Handled, r.Skipped, r.Failed)
}

// Loop feeds a snapshot of unread messages through the Dispatcher.
type Loop struct {
	Mailbox    Mailbox
	Dispatcher *Dispatcher
	Tracker    Tracker
	Log        Logger
}

func (l *Loop) log() Logger {
	if l.Log == nil {
		return nopLogger{}
	}
	return l.Log
}

// RunOnce lists the unread messages and runs them. Only a failure to list
// is returned; per-message failures end up in the report.
func (l *Loop) RunOnce(ctx context.Context) (Report, error) {
	messages, err := l.Mailbox.ListUnread(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("l.Mailbox.ListUnread: %w", err)
	}
	return l.Run(ctx, messages), nil
}

// Run processes every message in the slice once. Messages that arrive
// while it runs are not observed, and one message failing never stops the
// rest. Cancelling ctx stops the batch between messages.
func (l *Loop) Run(ctx context.Context, messages []*Message) Report {
	report := Report{RunID: uuid.NewString()}
	if l.Tracker != nil {
		l.Tracker.StartOperation(report.RunID, len(messages), "TRIAGE")
	}

	for i, msg := range messages {
		if ctx.Err() != nil {
			l.log().Warnf("Batch %s cancelled after %d of %d messages", report.RunID, i, len(messages))
			break
		}
		if msg.Read {
			continue
		}
		report.Seen++

		outcome, err := l.dispatch(ctx, msg)
		switch {
		case err != nil:
			report.Failed++
			l.log().Errorf("Error processing email '%s': %v", msg.Subject, err)
		case outcome.Handled():
			report.Handled++
		default:
			report.Skipped++
			l.log().Infof("Left '%s' unread: %s", msg.Subject, outcome.Skip)
		}
		if l.Tracker != nil {
			l.Tracker.LogProgress(report.RunID, i+1, msg.Subject)
		}
	}

	if l.Tracker != nil {
		errorMsg := ""
		if report.Failed > 0 {
			errorMsg = fmt.Sprintf("%d message(s) failed", report.Failed)
		}
		l.Tracker.EndOperation(report.RunID, report.Failed == 0, errorMsg)
	}
	return report
}

// dispatch isolates a single message, including panics raised by adapters.
func (l *Loop) dispatch(ctx context.Context, msg *Message) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.Dispatcher.Dispatch(ctx, msg)
}
