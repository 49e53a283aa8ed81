/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package logging

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	gologme "github.com/gologme/log"
)

// New returns a levelled logger whose lines carry a coloured component tag.
// Debug output is only enabled when verbose is set.
func New(w io.Writer, component string, verbose bool) *gologme.Logger {
	yellow := color.New(color.FgYellow).SprintfFunc()
	l := gologme.New(w, fmt.Sprintf("[ %s ] ", yellow(component)), gologme.LstdFlags|gologme.Lmsgprefix)
	l.EnableLevel("warn")
	l.EnableLevel("error")
	l.EnableLevel("info")
	if verbose {
		l.EnableLevel("debug")
	}
	return l
}
