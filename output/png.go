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

package output

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

const tempExt = ".temp"

// WritePNG encodes img to name. The image goes to a temporary file which is
// renamed into place once complete, so readers never see a partial image.
func WritePNG(name string, img image.Image) error {
	tempName := name + tempExt
	f, err := os.Create(tempName)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := png.Encode(bw, img); err != nil {
		f.Close()
		os.Remove(tempName)
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tempName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempName)
		return err
	}
	return os.Rename(tempName, name)
}

// DeleteTempFiles removes partial images left behind in directory.
func DeleteTempFiles(directory string) error {
	matches, _ := filepath.Glob(filepath.Join(directory, "*"+tempExt))
	for _, filename := range matches {
		if err := os.Remove(filename); err != nil {
			return err
		}
	}
	return nil
}
