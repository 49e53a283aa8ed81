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
	"unicode/utf8"
)

// Sentinel terminates every structured field value.
const Sentinel = '$'

const (
	FieldSender  = "sender"
	FieldStates  = "states"
	FieldMissing = "missing"
)

type FieldStatus int

const (
	FieldAbsent FieldStatus = iota
	FieldFound
	// FieldMalformed means the label and colon were seen but no valid
	// value followed.
	FieldMalformed
)

type Field struct {
	Status FieldStatus
	Value  string
}

func (f Field) Found() bool {
	return f.Status == FieldFound
}

// ScanField finds the first "label: value$" occurrence in body. Labels match
// case-insensitively anywhere in the text, whitespace may surround the
// colon, and the value stops at the first sentinel after it.
func ScanField(body, label string) Field {
	start, ok := nextLabel(body, label, 0)
	if !ok {
		return Field{Status: FieldAbsent}
	}
	end := strings.IndexRune(body[start:], Sentinel)
	if end < 0 {
		// No later occurrence can be terminated either.
		return Field{Status: FieldMalformed}
	}
	return Field{
		Status: FieldFound,
		Value:  strings.TrimSpace(body[start : start+end]),
	}
}

// ScanStates reads the states flag. The value is a bare true/false token and
// does not need a sentinel.
func ScanStates(body string) (bool, Field) {
	status := FieldAbsent
	for from := 0; ; {
		start, ok := nextLabel(body, FieldStates, from)
		if !ok {
			return false, Field{Status: status}
		}
		for _, token := range []string{"true", "false"} {
			if hasPrefixFold(body[start:], token) && tokenEnds(body[start+len(token):]) {
				return token == "true", Field{Status: FieldFound, Value: body[start : start+len(token)]}
			}
		}
		status = FieldMalformed
		from = start
	}
}

func ExtractSender(body string) (string, bool) {
	f := ScanField(body, FieldSender)
	return f.Value, f.Found()
}

func ExtractStates(body string) (bool, bool) {
	states, f := ScanStates(body)
	return states, f.Found()
}

// ExtractMissing returns the missing-items text. It is only looked at when
// states is explicitly false.
func ExtractMissing(body string) string {
	if states, ok := ExtractStates(body); !ok || states {
		return ""
	}
	return ScanField(body, FieldMissing).Value
}

// nextLabel returns the offset just past "label<ws>:<ws>" for the first such
// occurrence at or after from.
func nextLabel(body, label string, from int) (int, bool) {
	for i := from; i+len(label) <= len(body); i++ {
		if !hasPrefixFold(body[i:], label) {
			continue
		}
		j := skipSpace(body, i+len(label))
		if j < len(body) && body[j] == ':' {
			return skipSpace(body, j+1), true
		}
	}
	return 0, false
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

// hasPrefixFold is an ASCII case-insensitive prefix test. Labels and tokens
// are ASCII so byte offsets in s stay valid.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func tokenEnds(rest string) bool {
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}
