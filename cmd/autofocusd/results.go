// autofocus - pick the sharpest fiber end-face images during a stage sweep
//  Copyright (C) 2026, The Fiberend Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiberend/autofocus/clarity"
	"github.com/fiberend/autofocus/output"
)

// writeResults saves the focus crops as <dir>/<n>.png, numbered from 1 in
// end-face order. End-faces that never produced a crop are skipped.
func writeResults(dir string, results []clarity.FocusResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i, r := range results {
		if r.Image == nil {
			continue
		}
		name := filepath.Join(dir, fmt.Sprintf("%d.png", i+1))
		if err := output.WritePNG(name, r.Image); err != nil {
			return err
		}
	}
	return nil
}
