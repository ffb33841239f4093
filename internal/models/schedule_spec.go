// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind is the tag of the ScheduleSpec variant.
type ScheduleKind string

const (
	ScheduleKindCron      ScheduleKind = "cron"
	ScheduleKindInterval  ScheduleKind = "interval"
	ScheduleKindDaily     ScheduleKind = "daily"
	ScheduleKindImmediate ScheduleKind = "immediate"
)

// ErrConfigInvalid wraps schedule validation failures so the API layer can
// map them to a client error instead of a server fault.
type ErrConfigInvalid struct {
	Reason string
}

func (e *ErrConfigInvalid) Error() string {
	return "invalid schedule: " + e.Reason
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleSpec is a validated schedule. Construct it with ParseScheduleSpec;
// a zero ScheduleSpec is not usable.
type ScheduleSpec struct {
	Kind  ScheduleKind
	Value string

	cronSched cron.Schedule // set when Kind == cron
	interval  time.Duration // set when Kind == interval
	dailyHour int           // set when Kind == daily
	dailyMin  int
}

// ParseScheduleSpec validates kind/value at construction time. Malformed
// schedules are rejected here and never reach the scheduler loop.
func ParseScheduleSpec(kind ScheduleKind, value string) (*ScheduleSpec, error) {
	spec := &ScheduleSpec{Kind: kind, Value: strings.TrimSpace(value)}

	switch kind {
	case ScheduleKindCron:
		sched, err := cronParser.Parse(spec.Value)
		if err != nil {
			return nil, &ErrConfigInvalid{Reason: fmt.Sprintf("cron expression %q: %v", spec.Value, err)}
		}
		spec.cronSched = sched

	case ScheduleKindInterval:
		minutes, err := strconv.Atoi(spec.Value)
		if err != nil || minutes <= 0 {
			return nil, &ErrConfigInvalid{Reason: fmt.Sprintf("interval %q must be a positive number of minutes", spec.Value)}
		}
		spec.interval = time.Duration(minutes) * time.Minute

	case ScheduleKindDaily:
		t, err := time.Parse("15:04", spec.Value)
		if err != nil {
			return nil, &ErrConfigInvalid{Reason: fmt.Sprintf("daily time %q must be HH:MM", spec.Value)}
		}
		spec.dailyHour, spec.dailyMin = t.Hour(), t.Minute()

	case ScheduleKindImmediate:
		if spec.Value != "" {
			return nil, &ErrConfigInvalid{Reason: "immediate schedules take no value"}
		}

	default:
		return nil, &ErrConfigInvalid{Reason: fmt.Sprintf("unknown schedule kind %q", kind)}
	}

	return spec, nil
}

// Next computes the next fire time strictly after now. lastRun feeds interval
// schedules; when the task has never run, intervals are anchored at now.
func (s *ScheduleSpec) Next(now time.Time, lastRun *time.Time) time.Time {
	switch s.Kind {
	case ScheduleKindCron:
		return s.cronSched.Next(now)

	case ScheduleKindInterval:
		anchor := now
		if lastRun != nil {
			anchor = *lastRun
		}
		next := anchor.Add(s.interval)
		// Catch-up: if the computed slot is already in the past, fire on the
		// next tick rather than replaying missed intervals.
		if !next.After(now) {
			next = now
		}
		return next

	case ScheduleKindDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), s.dailyHour, s.dailyMin, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case ScheduleKindImmediate:
		return now
	}
	return time.Time{}
}
