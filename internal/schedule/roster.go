/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package schedule resolves the on-duty contact for a department from a
// YAML roster.
package schedule

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/almazyadn/email/internal/utils"
)

// DayGroup is one of the three blocks of the working week.
type DayGroup int

const (
	SunTue DayGroup = iota
	WedThu
	FriSat
)

func (g DayGroup) String() string {
	switch g {
	case SunTue:
		return "Sunday-Tuesday"
	case WedThu:
		return "Wednesday-Thursday"
	default:
		return "Friday-Saturday"
	}
}

// GroupOf returns the day group a weekday belongs to.
func GroupOf(day time.Weekday) DayGroup {
	switch day {
	case time.Sunday, time.Monday, time.Tuesday:
		return SunTue
	case time.Wednesday, time.Thursday:
		return WedThu
	default:
		return FriSat
	}
}

// Flag is a roster yes/no column. It accepts yes, no, true and false in
// any case.
type Flag bool

func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "yes", "y", "true":
		*f = true
	case "no", "n", "false", "":
		*f = false
	default:
		return fmt.Errorf("line %d: %q is not yes or no", value.Line, value.Value)
	}
	return nil
}

// Shift is a half-open range of hours [Start, End). A shift whose end is
// at or before its start runs past midnight.
type Shift struct {
	Start int
	End   int
}

// ParseShift accepts the roster's "7am-3pm" form as well as 24 hour
// "07-15".
func ParseShift(s string) (Shift, error) {
	from, to, ok := strings.Cut(strings.ToLower(strings.ReplaceAll(s, " ", "")), "-")
	if !ok {
		return Shift{}, fmt.Errorf("shift %q: expected START-END", s)
	}
	start, err := parseHour(from)
	if err != nil {
		return Shift{}, fmt.Errorf("shift %q: %w", s, err)
	}
	end, err := parseHour(to)
	if err != nil {
		return Shift{}, fmt.Errorf("shift %q: %w", s, err)
	}
	return Shift{Start: start % 24, End: end % 24}, nil
}

func parseHour(s string) (int, error) {
	suffix := ""
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		suffix = s[len(s)-2:]
		s = s[:len(s)-2]
	}
	h, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	switch suffix {
	case "am", "pm":
		if h < 1 || h > 12 {
			return 0, fmt.Errorf("hour %d out of range for 12 hour clock", h)
		}
		h %= 12
		if suffix == "pm" {
			h += 12
		}
	default:
		if h < 0 || h > 24 {
			return 0, fmt.Errorf("hour %d out of range", h)
		}
	}
	return h, nil
}

// Wraps reports whether the shift runs past midnight.
func (s Shift) Wraps() bool {
	return s.End <= s.Start
}

func (s Shift) String() string {
	return fmt.Sprintf("%02d-%02d", s.Start, s.End)
}

// Entry is one roster row.
type Entry struct {
	Email      string  `yaml:"email"`
	Department string  `yaml:"department"`
	SunTue     Flag    `yaml:"sun_tue"`
	WedThu     Flag    `yaml:"wed_thu"`
	FriSat     Flag    `yaml:"fri_sat"`
	Shift      string  `yaml:"shift"`
	Score      float64 `yaml:"score"`

	shift Shift
}

func (e *Entry) works(g DayGroup) bool {
	switch g {
	case SunTue:
		return bool(e.SunTue)
	case WedThu:
		return bool(e.WedThu)
	default:
		return bool(e.FriSat)
	}
}

// Covers reports whether the entry is on duty at hour on day. The
// overnight part of a wrapping shift counts towards the day it started.
func (e *Entry) Covers(day time.Weekday, hour int) bool {
	s := e.shift
	if !s.Wraps() {
		return hour >= s.Start && hour < s.End && e.works(GroupOf(day))
	}
	if hour >= s.Start {
		return e.works(GroupOf(day))
	}
	if hour < s.End {
		return e.works(GroupOf((day + 6) % 7))
	}
	return false
}

// Roster is a validated, read-only duty roster.
type Roster struct {
	entries []Entry
}

type rosterFile struct {
	Staff []Entry `yaml:"staff"`
}

// Load reads a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schedule.Parse(%s): %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a roster. Every invalid row is reported.
func Parse(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal: %w", err)
	}

	var errs []error
	for i := range f.Staff {
		e := &f.Staff[i]
		addr, err := utils.ParseAddress(e.Email)
		if err != nil {
			errs = append(errs, fmt.Errorf("staff[%d]: email: %w", i, err))
		}
		e.Email = addr
		e.Department = strings.TrimSpace(e.Department)
		if e.Department == "" {
			errs = append(errs, fmt.Errorf("staff[%d]: department is required", i))
		}
		if e.shift, err = ParseShift(e.Shift); err != nil {
			errs = append(errs, fmt.Errorf("staff[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Roster{entries: f.Staff}, nil
}

// Len returns the number of roster rows.
func (r *Roster) Len() int {
	return len(r.entries)
}

// Resolve returns the highest scoring member of category's department on
// duty at hour on weekday, which is an English day name such as "Tuesday".
// Ties go to the earlier row. It is safe for concurrent use.
func (r *Roster) Resolve(category, weekday string, hour int) (string, bool) {
	day, ok := parseWeekday(weekday)
	if !ok || hour < 0 || hour > 23 {
		return "", false
	}
	var best *Entry
	for i := range r.entries {
		e := &r.entries[i]
		if !strings.EqualFold(e.Department, category) || !e.Covers(day, hour) {
			continue
		}
		if best == nil || e.Score > best.Score {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.Email, true
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(s)) {
			return d, true
		}
	}
	return 0, false
}
