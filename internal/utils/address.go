/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package utils

import (
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// IsValidDomain checks that domain is a dotted host name made of letters,
// digits and hyphens, or a single label such as "localhost".
func IsValidDomain(domain string) bool {
	d := strings.TrimSpace(domain)
	if d == "" || len(d) > 253 {
		return false
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

// ParseAddress accepts either a bare address or a display form such as
// "Alice <alice@example.com>" and returns the bare address with its domain
// lowercased.
func ParseAddress(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("invalid email address")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("mail.ParseAddress: %w", err)
	}

	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 {
		return "", fmt.Errorf("invalid email address")
	}
	domain := addr.Address[at+1:]
	if !IsValidDomain(domain) {
		return "", fmt.Errorf("invalid email domain: %s", domain)
	}
	return addr.Address[:at] + "@" + strings.ToLower(domain), nil
}

// ParseAddressList parses every entry and fails on the first bad one.
func ParseAddressList(emails []string) ([]string, error) {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		addr, err := ParseAddress(e)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", e, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
