//go:build !cgo

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import "context"

func (w *Window) Run(_ context.Context) error {
	return ErrUnavailable
}
