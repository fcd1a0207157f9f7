package chart

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVHeader is the fixed export header, one column per channel.
const CSVHeader = "Time,SLED_Current,SLED_Temp,TEC_Current,Photo_Current,SAG_Power,SLD_Power,Case_Temp,OpAmp_Temp,Supply_Voltage,ADC_Count_I,ADC_Count_Q"

// WriteCSV writes the header and one row per sample, oldest first.
func (b *Buffer) WriteCSV(w io.Writer) error {
	snap := b.Snapshot()
	rows := len(snap[Time])
	if rows == 0 {
		return ErrEmpty
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + "\n"); err != nil {
		return err
	}

	var line strings.Builder
	for r := 0; r < rows; r++ {
		line.Reset()
		for c := Channel(0); c < numChannels; c++ {
			if c > 0 {
				line.WriteByte(',')
			}
			line.WriteString(strconv.FormatFloat(snap[c][r], 'f', 6, 64))
		}
		line.WriteByte('\n')
		if _, err := bw.WriteString(line.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// exportFileMode matches what a plain create would give under the usual umask.
const exportFileMode = 0o644

// ExportCSV writes the buffer to path. The file is written under a temporary
// name in the same directory and renamed into place, so a failed export never
// leaves a partial file at path. It returns the number of bytes written.
func (b *Buffer) ExportCSV(path string) (int64, error) {
	if !b.HasData() {
		return 0, ErrEmpty
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("open export destination: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	cw := &countingWriter{w: tmp}
	if err := b.WriteCSV(cw); err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Chmod(exportFileMode); err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("chmod csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return 0, fmt.Errorf("rename csv into place: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
