/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package imapclient

import (
	"io"
	"strings"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader decodes any IANA registered charset to UTF-8. Unknown
// charsets are passed through unchanged.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if charset == "" {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
