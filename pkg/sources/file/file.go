// Package file reads a previously downloaded dataset from disk, either the
// JSON document or the zip it came in.
package file

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/predicateautomate/drugsync/pkg/sources"
	"github.com/predicateautomate/drugsync/pkg/whttp"
)

type Source struct {
	Module string
	Path   string
}

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string { return s.Module }

func (s *Source) Fetch(ctx context.Context) (*sources.RawDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	data, err := sources.ExtractJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	if data, err = whttp.DecodeText(data); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", s.Path, err)
	}
	if data, err = sources.MergeResults(data); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return &sources.RawDocument{Body: data, Origins: []string{s.Path}, FetchedAt: time.Now().UTC()}, nil
}
