// Package sources defines how a regulatory module obtains its complete
// upstream dataset, independent of transport shape.
package sources

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/predicateautomate/drugsync/pkg/drugsfda"
)

// RawDocument is the whole dataset as one JSON results envelope.
type RawDocument struct {
	Body      []byte
	Origins   []string
	FetchedAt time.Time
}

// Source fetches one module's dataset in a single logical operation. Paging
// and partitioning stay behind this interface.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*RawDocument, error)
}

// Logger abstracts logging so callers can use logrus or anything with the
// same printf-style methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{}) {}
func (NopLogger) Warnf(string, ...interface{}) {}

var zipMagic = []byte("PK\x03\x04")

// IsZip reports whether body starts with a local file header.
func IsZip(body []byte) bool {
	return bytes.HasPrefix(body, zipMagic)
}

// ExtractJSON returns body unchanged unless it is a zip archive, in which
// case the first .json member is returned.
func ExtractJSON(body []byte) ([]byte, error) {
	if !IsZip(body) {
		return body, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("zip archive has no .json member: %w", drugsfda.ErrMalformedDocument)
}

// MergeResults concatenates the results arrays of parts into one envelope.
// A single part is returned as is so its meta block survives.
func MergeResults(parts ...[]byte) ([]byte, error) {
	if len(parts) == 1 {
		if !gjson.ValidBytes(parts[0]) {
			return nil, fmt.Errorf("part 0 is not valid JSON: %w", drugsfda.ErrMalformedDocument)
		}
		return parts[0], nil
	}

	var (
		buf         bytes.Buffer
		n           int
		lastUpdated string
	)
	buf.WriteString(`{"results":[`)
	for i, p := range parts {
		if !gjson.ValidBytes(p) {
			return nil, fmt.Errorf("part %d is not valid JSON: %w", i, drugsfda.ErrMalformedDocument)
		}
		root := gjson.ParseBytes(p)
		results := root
		if !root.IsArray() {
			results = root.Get("results")
			if lu := root.Get("meta.last_updated"); lu.Exists() {
				lastUpdated = lu.String()
			}
		}
		if !results.IsArray() {
			return nil, fmt.Errorf("part %d has no results array: %w", i, drugsfda.ErrMalformedDocument)
		}
		results.ForEach(func(_, v gjson.Result) bool {
			if n > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(v.Raw)
			n++
			return true
		})
	}
	buf.WriteString(`],"meta":{`)
	if lastUpdated != "" {
		buf.WriteString(`"last_updated":` + strconv.Quote(lastUpdated) + `,`)
	}
	buf.WriteString(`"results":{"total":` + strconv.Itoa(n) + `}}}`)
	return buf.Bytes(), nil
}
