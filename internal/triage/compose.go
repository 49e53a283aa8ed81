/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package triage

import (
	"strings"
	"unicode"
)

const (
	DefaultSentFolder     = "Sent Items"
	DefaultFallbackFolder = "Need Review"

	FixedReplyBody     = "Please provide the request number if available or write otherwise."
	StatusUpdatedBody  = "Your request has been updated successfully."
	StatusMissingIntro = "Your request is missing the following items:\n"

	unknownSender = "unknown"
)

type ActionKind int

const (
	ActionFile ActionKind = iota
	ActionFixedReply
	ActionStatusReply
	ActionForward
)

func (k ActionKind) String() string {
	switch k {
	case ActionFixedReply:
		return "fixed-reply"
	case ActionStatusReply:
		return "status-reply"
	case ActionForward:
		return "forward"
	default:
		return "file"
	}
}

// Action is one outbound message and/or a filing step.
type Action struct {
	Kind    ActionKind
	To      []string
	Subject string
	Body    string

	// File is set when the item is moved to Folder afterwards. Folder may
	// legitimately be empty.
	File   bool
	Folder string
}

// Sends reports whether the action composes a message at all.
func (a Action) Sends() bool {
	return a.Kind != ActionFile
}

func (a Action) String() string {
	switch {
	case a.Sends() && a.File:
		return a.Kind.String() + " to " + strings.Join(a.To, ",") + " then file into '" + a.Folder + "'"
	case a.Sends():
		return a.Kind.String() + " to " + strings.Join(a.To, ",")
	default:
		return "file into '" + a.Folder + "'"
	}
}

// Composer builds the outbound shapes.
type Composer struct {
	SentFolder string
	// FallbackFolder stands in for labels that sanitize to nothing.
	FallbackFolder string
}

func (c Composer) sentFolder() string {
	if c.SentFolder == "" {
		return DefaultSentFolder
	}
	return c.SentFolder
}

// FixedReply acknowledges a message back to its envelope sender. Without a
// sender the recipient list is empty.
func (c Composer) FixedReply(msg *Message) Action {
	var to []string
	if msg.Sender != "" {
		to = []string{msg.Sender}
	}
	return Action{
		Kind:    ActionFixedReply,
		To:      to,
		Subject: "Re: " + msg.Subject,
		Body:    FixedReplyBody,
	}
}

// StatusReply answers a relayed status notification. The reply goes to the
// sender named in the body, not the envelope sender.
func (c Composer) StatusReply(msg *Message) (Action, bool) {
	recipient, ok := ExtractSender(msg.Body)
	if !ok || recipient == "" {
		return Action{}, false
	}
	body := StatusMissingIntro + ExtractMissing(msg.Body)
	if states, ok := ExtractStates(msg.Body); ok && states {
		body = StatusUpdatedBody
	}
	return Action{
		Kind:    ActionStatusReply,
		To:      []string{recipient},
		Subject: "Re: " + msg.Subject,
		Body:    body,
	}, true
}

// Forward hands a message to the duty contact and files the original into
// the sent folder.
func (c Composer) Forward(msg *Message, contact string) Action {
	sender := msg.Sender
	if sender == "" {
		sender = unknownSender
	}
	return Action{
		Kind:    ActionForward,
		To:      []string{contact},
		Subject: msg.Subject,
		Body:    "Original sender: " + sender + "\n\n" + msg.Body,
		File:    true,
		Folder:  c.sentFolder(),
	}
}

// File files a message under a folder named after its label.
func (c Composer) File(label string) Action {
	folder := SanitizeFolder(label)
	if folder == "" {
		folder = SanitizeFolder(c.FallbackFolder)
	}
	if folder == "" {
		folder = DefaultFallbackFolder
	}
	return Action{
		Kind:   ActionFile,
		File:   true,
		Folder: folder,
	}
}

// SanitizeFolder keeps letters, digits, whitespace and hyphens, then trims.
func SanitizeFolder(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
