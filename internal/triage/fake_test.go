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
	"strings"
)

type sentMail struct {
	To      []string
	Subject string
	Body    string
}

type moveCall struct {
	UID    uint32
	Folder string
}

// fakeMailbox records every side effect and can be told to fail.
type fakeMailbox struct {
	unread   []*Message
	listErr  error
	sent     []sentMail
	folders  []string
	moves    []moveCall
	marked   []uint32
	sendErr  map[string]error // keyed by subject
	moveErr  error
	markErr  error
	ensureFn func(name string) error
}

func (f *fakeMailbox) ListUnread(ctx context.Context) ([]*Message, error) {
	return f.unread, f.listErr
}

func (f *fakeMailbox) Send(ctx context.Context, to []string, subject, body string) error {
	if err := f.sendErr[subject]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeMailbox) EnsureFolder(ctx context.Context, name string) (Folder, error) {
	if f.ensureFn != nil {
		if err := f.ensureFn(name); err != nil {
			return Folder{}, err
		}
	}
	f.folders = append(f.folders, name)
	return Folder{Name: name}, nil
}

func (f *fakeMailbox) Move(ctx context.Context, msg *Message, folder Folder) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, moveCall{UID: msg.UID, Folder: folder.Name})
	return nil
}

func (f *fakeMailbox) SetRead(ctx context.Context, msg *Message, read bool) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, msg.UID)
	return nil
}

type resolverCall struct {
	Category string
	Weekday  string
	Hour     int
}

type fakeResolver struct {
	contacts map[string]string // "category/weekday/hour"
	calls    []resolverCall
}

func (r *fakeResolver) Resolve(category, weekday string, hour int) (string, bool) {
	r.calls = append(r.calls, resolverCall{category, weekday, hour})
	c, ok := r.contacts[fmt.Sprintf("%s/%s/%d", category, weekday, hour)]
	return c, ok
}

// fixedClassifier returns the label stored under the message subject, or
// the subject itself.
type fixedClassifier struct {
	labels map[string]string
	calls  int
}

func (c *fixedClassifier) Classify(subject, body, sender string) string {
	c.calls++
	if label, ok := c.labels[subject]; ok {
		return label
	}
	return subject
}

type memJournal struct {
	pending map[string]bool
	records []Record
}

func (j *memJournal) Pending(ctx context.Context, key string) (bool, error) {
	return j.pending[key], nil
}

func (j *memJournal) Record(ctx context.Context, rec Record) error {
	j.records = append(j.records, rec)
	return nil
}

// bufLogger keeps formatted log lines for assertions.
type bufLogger struct {
	lines []string
}

func (l *bufLogger) add(level, format string, args ...interface{}) {
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *bufLogger) Infof(format string, args ...interface{})  { l.add("INFO", format, args...) }
func (l *bufLogger) Warnf(format string, args ...interface{})  { l.add("WARN", format, args...) }
func (l *bufLogger) Errorf(format string, args ...interface{}) { l.add("ERROR", format, args...) }
func (l *bufLogger) Debugf(format string, args ...interface{}) { l.add("DEBUG", format, args...) }

func (l *bufLogger) contains(substr string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
