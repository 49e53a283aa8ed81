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
	"time"
)

// State is how far a message got through Dispatch.
type State int

const (
	StateUnclassified State = iota
	StateClassified
	StateResolved
	StateDispatched
	StateMarked
)

func (s State) String() string {
	switch s {
	case StateClassified:
		return "classified"
	case StateResolved:
		return "resolved"
	case StateDispatched:
		return "dispatched"
	case StateMarked:
		return "marked"
	default:
		return "unclassified"
	}
}

// SkipReason says why a message was deliberately left unread.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipAlreadyRead
	SkipUnresolvedInput
	SkipNoDutyContact
)

func (r SkipReason) String() string {
	switch r {
	case SkipAlreadyRead:
		return "already read"
	case SkipUnresolvedInput:
		return "could not determine original sender"
	case SkipNoDutyContact:
		return "no duty contact"
	default:
		return ""
	}
}

// Outcome is the per-message result handed back to the loop.
type Outcome struct {
	State          State
	Classification Classification
	Action         Action
	Skip           SkipReason
}

func (o Outcome) Handled() bool {
	return o.State == StateMarked
}

// Stage names a journal record.
type Stage string

const (
	StageDispatched Stage = "dispatched"
	StageMarked     Stage = "marked"
	StageSkipped    Stage = "skipped"
)

// Record is one journal line for a message.
type Record struct {
	Key            string
	Subject        string
	Sender         string
	Classification string
	Action         string
	Stage          Stage
	Detail         string
}

// Journal remembers actions across runs. Pending reports a message whose
// action went out but whose read flag was never persisted.
type Journal interface {
	Pending(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, rec Record) error
}

// Dispatcher runs one message from classification to the read flag.
type Dispatcher struct {
	Mailbox    Mailbox
	Classifier Classifier
	Resolver   ScheduleResolver
	Labels     *Labels
	Composer   Composer
	// Location is the organizational timezone used for duty lookups.
	Location *time.Location
	Journal  Journal
	Log      Logger
}

func (d *Dispatcher) log() Logger {
	if d.Log == nil {
		return nopLogger{}
	}
	return d.Log
}

func (d *Dispatcher) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// Dispatch takes exactly one action for msg and marks it read. A skipped
// message returns a nil error and leaves the mailbox untouched. On error
// the returned Outcome tells how far processing got.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (Outcome, error) {
	if msg.Read {
		return Outcome{Skip: SkipAlreadyRead}, nil
	}

	labels := d.Labels
	if labels == nil {
		labels = NewLabels(nil)
	}
	class := labels.Parse(d.Classifier.Classify(msg.Subject, msg.Body, msg.Sender))
	out := Outcome{State: StateClassified, Classification: class}
	d.log().Infof("Email from %s classified as %s", senderOrUnknown(msg.Sender), class.Label)

	action, skip := d.resolve(msg, class)
	if skip != SkipNone {
		out.Skip = skip
		d.record(ctx, msg, out, StageSkipped, skip.String())
		return out, nil
	}
	out.State = StateResolved
	out.Action = action

	key := msg.Key()
	pending := false
	if d.Journal != nil {
		var err error
		if pending, err = d.Journal.Pending(ctx, key); err != nil {
			d.log().Warnf("Journal lookup for '%s' failed: %v", msg.Subject, err)
			pending = false
		}
	}
	if pending {
		d.log().Infof("Action for '%s' already went out on an earlier pass, only marking read", msg.Subject)
	} else {
		if err := d.execute(ctx, msg, action); err != nil {
			return out, err
		}
		d.record(ctx, msg, out, StageDispatched, "")
	}
	out.State = StateDispatched

	if err := d.Mailbox.SetRead(ctx, msg, true); err != nil {
		return out, fmt.Errorf("d.Mailbox.SetRead: %w", err)
	}
	msg.Read = true
	out.State = StateMarked
	d.record(ctx, msg, out, StageMarked, "")
	return out, nil
}

func (d *Dispatcher) resolve(msg *Message, class Classification) (Action, SkipReason) {
	switch class.Kind {
	case KindReplay:
		return d.Composer.FixedReply(msg), SkipNone

	case KindRequest:
		action, ok := d.Composer.StatusReply(msg)
		if !ok {
			d.log().Warnf("Could not determine original sender for REQUEST email '%s'", msg.Subject)
			return Action{}, SkipUnresolvedInput
		}
		return action, SkipNone

	case KindForward:
		local := msg.Received.In(d.location())
		weekday, hour := local.Weekday().String(), local.Hour()
		var contact string
		var ok bool
		if d.Resolver != nil {
			contact, ok = d.Resolver.Resolve(class.Label, weekday, hour)
		}
		if !ok || contact == "" {
			d.log().Warnf("No available employee for %s at %s %d:00", class.Label, weekday, hour)
			return Action{}, SkipNoDutyContact
		}
		return d.Composer.Forward(msg, contact), SkipNone

	default:
		return d.Composer.File(class.Label), SkipNone
	}
}

func (d *Dispatcher) execute(ctx context.Context, msg *Message, action Action) error {
	if action.Sends() {
		if len(action.To) == 0 {
			d.log().Warnf("No recipient for %s to '%s', nothing sent", action.Kind, msg.Subject)
		} else {
			if err := d.Mailbox.Send(ctx, action.To, action.Subject, action.Body); err != nil {
				return fmt.Errorf("d.Mailbox.Send: %w", err)
			}
			d.log().Infof("Sent %s for '%s' to %v", action.Kind, msg.Subject, action.To)
		}
	}
	if action.File {
		folder, err := d.Mailbox.EnsureFolder(ctx, action.Folder)
		if err != nil {
			return fmt.Errorf("d.Mailbox.EnsureFolder: %w", err)
		}
		if err := d.Mailbox.Move(ctx, msg, folder); err != nil {
			return fmt.Errorf("d.Mailbox.Move: %w", err)
		}
		d.log().Infof("Moved email '%s' to folder '%s'", msg.Subject, folder.Name)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, msg *Message, out Outcome, stage Stage, detail string) {
	if d.Journal == nil {
		return
	}
	rec := Record{
		Key:            msg.Key(),
		Subject:        msg.Subject,
		Sender:         msg.Sender,
		Classification: out.Classification.Label,
		Stage:          stage,
		Detail:         detail,
	}
	if out.State >= StateResolved {
		rec.Action = out.Action.String()
	}
	if err := d.Journal.Record(ctx, rec); err != nil {
		d.log().Warnf("Journal write for '%s' failed: %v", msg.Subject, err)
	}
}

func senderOrUnknown(sender string) string {
	if sender == "" {
		return unknownSender
	}
	return sender
}
