// Package artifacts writes the optional audit files of a run. They are never
// read back, so every failure here is logged and otherwise ignored.
package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	KindRaw       = "raw"
	KindProcessed = "processed"
	KindStats     = "stats"
	KindEntries   = "entries"
	KindSummary   = "summary"
)

type Logger interface {
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Writer names files <module>_<kind>.json under Dir. The zero value and a
// nil *Writer write nothing.
type Writer struct {
	Dir    string
	Module string
	Log    Logger
}

func (w *Writer) enabled() bool { return w != nil && w.Dir != "" }

func (w *Writer) logger() Logger {
	if w.Log == nil {
		return nopLogger{}
	}
	return w.Log
}

func (w *Writer) Path(kind string) string {
	return filepath.Join(w.Dir, w.Module+"_"+kind+".json")
}

// Raw stores the fetched document byte for byte.
func (w *Writer) Raw(body []byte) {
	if !w.enabled() {
		return
	}
	w.write(KindRaw, body)
}

// JSON stores v indented.
func (w *Writer) JSON(kind string, v interface{}) {
	if !w.enabled() {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		w.logger().Warnf("Could not encode %s artifact: %v", kind, err)
		return
	}
	w.write(kind, data)
}

func (w *Writer) write(kind string, data []byte) {
	path := w.Path(kind)
	if err := writeFile(path, data); err != nil {
		w.logger().Warnf("Could not write %s artifact: %v", kind, err)
		return
	}
	w.logger().Debugf("Wrote %s (%d bytes)", path, len(data))
}

// writeFile replaces path through a temp file so readers never see half a file.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
