/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package smtpsender

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Compose renders an RFC 5322 text/plain message. Bodies are sent
// quoted-printable so non-ASCII text survives 7-bit relays, and always end
// in CRLF so the relay does not add a line of its own.
func Compose(from string, to []string, subject, body string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	rcpts := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)
	h.SetSubject(subject)
	h.SetMessageID(uuid.NewString() + "@" + domainOf(from))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mail.CreateSingleInlineWriter: %w", err)
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\r\n"
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("io.WriteString: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("w.Close: %w", err)
	}
	return buf.Bytes(), nil
}

func domainOf(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return "localhost"
}
