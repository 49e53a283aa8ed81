/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package journal

import (
	"time"

	"github.com/almazyadn/email/internal/triage"
)

type Run struct {
	ID       string
	Stage    string
	Total    int
	Handled  int
	Started  time.Time
	Finished time.Time // zero while the run is open
	Success  bool
	Error    string
}

type Entry struct {
	ID             int64
	RunID          string
	Key            string
	Subject        string
	Sender         string
	Classification string
	Action         string
	Stage          triage.Stage
	Detail         string
	At             time.Time
}
