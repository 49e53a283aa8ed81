/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package triage

import "strings"

const (
	LabelReplay  = "REPLAY"
	LabelRequest = "REQUEST"
)

// DefaultForwardCategories are the labels routed to the duty roster.
var DefaultForwardCategories = []string{"D", "MD", "F", "E"}

type Kind int

const (
	// KindFolder is the fallthrough: the label names a folder.
	KindFolder Kind = iota
	KindReplay
	KindRequest
	KindForward
)

func (k Kind) String() string {
	switch k {
	case KindReplay:
		return "replay"
	case KindRequest:
		return "request"
	case KindForward:
		return "forward"
	default:
		return "folder"
	}
}

// Classification is the parsed form of a classifier label.
type Classification struct {
	Kind  Kind
	Label string
}

func (c Classification) String() string {
	return c.Label
}

// Labels knows which labels are reserved.
type Labels struct {
	forward map[string]struct{}
}

func NewLabels(forward []string) *Labels {
	if forward == nil {
		forward = DefaultForwardCategories
	}
	l := &Labels{forward: make(map[string]struct{}, len(forward))}
	for _, category := range forward {
		l.forward[strings.TrimSpace(category)] = struct{}{}
	}
	return l
}

// Parse maps a raw label onto a Classification. Reserved labels are
// compared exactly after trimming whitespace; anything else keeps its raw
// text and becomes a folder label.
func (l *Labels) Parse(label string) Classification {
	switch name := strings.TrimSpace(label); name {
	case LabelReplay:
		return Classification{Kind: KindReplay, Label: name}
	case LabelRequest:
		return Classification{Kind: KindRequest, Label: name}
	default:
		if _, ok := l.forward[name]; ok && name != "" {
			return Classification{Kind: KindForward, Label: name}
		}
		return Classification{Kind: KindFolder, Label: label}
	}
}
