// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scanner contains the tree walker / diff engine and the scan
// orchestrator that drives it.
package scanner

import "time"

// Op is the kind of a diff decision.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpSkip   Op = "skip"
)

// Decision is the walker's verdict for a single remote entry. For deletes,
// PointerPath carries the cached pointer location to remove; the remote
// metadata fields are only meaningful for create/update.
type Decision struct {
	Op          Op
	RemotePath  string
	Size        int64
	MTime       time.Time
	PointerPath string
}
