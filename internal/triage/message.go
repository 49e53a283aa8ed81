/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package triage decides, for every unread message in a shared mailbox,
// which single automated action to take and then marks it handled.
package triage

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Message is a read-only view of one mailbox item. Adapters fill it in
// when listing unread mail; only the Dispatcher flips Read.
type Message struct {
	// UID and Folder locate the item in the mailbox it was listed from.
	UID    uint32
	Folder string

	MessageID string
	Sender    string
	Subject   string
	Body      string
	Received  time.Time
	Read      bool
}

// Key identifies the message across runs. The Message-ID header is used
// when present, otherwise a fingerprint of the visible content.
func (m *Message) Key() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	h, _ := blake2b.New256(nil)
	for _, part := range []string{m.Sender, m.Subject, strconv.FormatInt(m.Received.Unix(), 10), m.Body} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "b2:" + hex.EncodeToString(h.Sum(nil))
}

// Folder is a handle returned by Mailbox.EnsureFolder.
type Folder struct {
	Name string
}

// Mailbox is the transport the engine acts through.
type Mailbox interface {
	ListUnread(ctx context.Context) ([]*Message, error)
	Send(ctx context.Context, to []string, subject, body string) error
	// EnsureFolder must succeed when the folder already exists.
	EnsureFolder(ctx context.Context, name string) (Folder, error)
	Move(ctx context.Context, msg *Message, folder Folder) error
	SetRead(ctx context.Context, msg *Message, read bool) error
}

// Classifier assigns a label to a message. It must accept empty input.
type Classifier interface {
	Classify(subject, body, sender string) string
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(subject, body, sender string) string

func (f ClassifierFunc) Classify(subject, body, sender string) string {
	return f(subject, body, sender)
}

// ScheduleResolver maps a forwarding category and a local time slot to the
// address of whoever is on duty.
type ScheduleResolver interface {
	Resolve(category, weekday string, hour int) (string, bool)
}

// Logger is the subset of *gologme/log.Logger the engine writes to.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}
