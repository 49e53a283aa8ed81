/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package logging

import (
	"sync"
	"time"
)

// Printer is the subset of a levelled logger the tracker writes to.
type Printer interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RunLog tracks a single triage pass.
type RunLog struct {
	RunID      string
	Total      int
	Stage      string // "TRIAGE", "WATCH"
	StartTime  time.Time
	Milestones []Milestone
	mu         sync.Mutex
}

// Milestone is a progress checkpoint within a run.
type Milestone struct {
	Timestamp time.Time
	Done      int
	Message   string
}

// RunTracker logs the start, progress and end of triage passes.
type RunTracker struct {
	log  Printer
	runs sync.Map // map[string]*RunLog
}

func NewRunTracker(log Printer) *RunTracker {
	return &RunTracker{log: log}
}

// StartOperation begins tracking a pass over total messages.
func (t *RunTracker) StartOperation(runID string, total int, stage string) {
	run := &RunLog{
		RunID:      runID,
		Total:      total,
		Stage:      stage,
		StartTime:  time.Now(),
		Milestones: make([]Milestone, 0, total),
	}
	t.runs.Store(runID, run)

	t.log.Infof("[Run:%s] START %s - %d unread message(s)", shortID(runID), stage, total)
}

// LogProgress records that done messages out of the total have been handled.
func (t *RunTracker) LogProgress(runID string, done int, message string) {
	value, ok := t.runs.Load(runID)
	if !ok {
		t.log.Warnf("[Run:%s] Run not found for progress", shortID(runID))
		return
	}

	run := value.(*RunLog)
	run.mu.Lock()
	defer run.mu.Unlock()

	run.Milestones = append(run.Milestones, Milestone{
		Timestamp: time.Now(),
		Done:      done,
		Message:   message,
	})

	var percentage float64
	if run.Total > 0 {
		percentage = float64(done) / float64(run.Total) * 100
	}
	t.log.Infof("[Run:%s] %.0f%% (%d/%d) - %s", shortID(runID), percentage, done, run.Total, message)
}

// EndOperation finalizes a run and stops tracking it.
func (t *RunTracker) EndOperation(runID string, success bool, errorMsg string) {
	value, ok := t.runs.Load(runID)
	if !ok {
		t.log.Warnf("[Run:%s] Run not found for end", shortID(runID))
		return
	}

	run := value.(*RunLog)
	run.mu.Lock()
	elapsed := time.Since(run.StartTime)
	run.mu.Unlock()

	if success {
		t.log.Infof("[Run:%s] SUCCESS - %d message(s) in %v", shortID(runID), run.Total, elapsed.Round(time.Millisecond))
	} else {
		t.log.Errorf("[Run:%s] FAILED after %v: %s", shortID(runID), elapsed.Round(time.Millisecond), errorMsg)
	}

	t.runs.Delete(runID)
}

// activeRuns returns the count of runs currently tracked.
func (t *RunTracker) activeRuns() int {
	count := 0
	t.runs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// status returns the progress of a run in percent.
func (t *RunTracker) status(runID string) (stage string, progress float64, found bool) {
	value, ok := t.runs.Load(runID)
	if !ok {
		return "", 0, false
	}

	run := value.(*RunLog)
	run.mu.Lock()
	defer run.mu.Unlock()

	if len(run.Milestones) == 0 || run.Total == 0 {
		return run.Stage, 0, true
	}
	latest := run.Milestones[len(run.Milestones)-1]
	return run.Stage, float64(latest.Done) / float64(run.Total) * 100, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
