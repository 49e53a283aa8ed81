/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package classify labels messages with ordered keyword rules.
package classify

import (
	"strings"

	"github.com/almazyadn/email/internal/config"
)

type field int

const (
	fieldSubject field = 1 << iota
	fieldBody
	fieldSender

	allFields = fieldSubject | fieldBody | fieldSender
)

type rule struct {
	label    string
	keywords []string
	fields   field
}

// Rules is a first-match-wins keyword classifier. It never fails: input
// matching no rule gets the default label.
type Rules struct {
	rules        []rule
	defaultLabel string
}

// New compiles the configured rules. Keywords are matched
// case-insensitively as substrings.
func New(cfg config.ClassifierConfig) *Rules {
	r := &Rules{defaultLabel: strings.TrimSpace(cfg.Default)}
	for _, c := range cfg.Rules {
		compiled := rule{label: strings.TrimSpace(c.Label)}
		for _, k := range c.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				compiled.keywords = append(compiled.keywords, k)
			}
		}
		for _, f := range c.Fields {
			switch f {
			case "subject":
				compiled.fields |= fieldSubject
			case "body":
				compiled.fields |= fieldBody
			case "sender":
				compiled.fields |= fieldSender
			}
		}
		if compiled.fields == 0 {
			compiled.fields = allFields
		}
		r.rules = append(r.rules, compiled)
	}
	return r
}

// Classify returns the label of the first rule with a keyword in one of
// its fields.
func (r *Rules) Classify(subject, body, sender string) string {
	subject, body, sender = strings.ToLower(subject), strings.ToLower(body), strings.ToLower(sender)
	for _, ru := range r.rules {
		for _, k := range ru.keywords {
			if (ru.fields&fieldSubject != 0 && strings.Contains(subject, k)) ||
				(ru.fields&fieldBody != 0 && strings.Contains(body, k)) ||
				(ru.fields&fieldSender != 0 && strings.Contains(sender, k)) {
				return ru.label
			}
		}
	}
	return r.defaultLabel
}
