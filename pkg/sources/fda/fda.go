// Package fda fetches the Drugs@FDA dataset from openFDA, either as the bulk
// download or through the paginated query API.
package fda

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/predicateautomate/drugsync/pkg/drugsfda"
	"github.com/predicateautomate/drugsync/pkg/sources"
	"github.com/predicateautomate/drugsync/pkg/whttp"
)

const (
	ModuleName = "usa_drug"

	TransportBulk = "bulk"
	TransportAPI  = "api"

	// DefaultMaxSkip is the largest skip value the query API accepts.
	DefaultMaxSkip  = 25000
	DefaultPageSize = 1000

	partitionsPath = "results.drug.drugsfda.partitions.#.file"
)

// Getter is the part of whttp.Client the source needs.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

type Source struct {
	Client    Getter
	Transport string
	BulkURL   string
	// ManifestURL, when set, replaces BulkURL with the partitions listed in
	// the openFDA download manifest.
	ManifestURL string
	APIURL      string
	PageSize    int
	MaxSkip     int
	Log         sources.Logger
}

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string { return ModuleName }

func (s *Source) logger() sources.Logger {
	if s.Log == nil {
		return sources.NopLogger{}
	}
	return s.Log
}

func (s *Source) Fetch(ctx context.Context) (*sources.RawDocument, error) {
	switch s.Transport {
	case TransportAPI:
		return s.fetchAPI(ctx)
	case TransportBulk, "":
		return s.fetchBulk(ctx)
	default:
		return nil, fmt.Errorf("fda: unknown transport %q", s.Transport)
	}
}

func (s *Source) fetchBulk(ctx context.Context) (*sources.RawDocument, error) {
	urls := []string{s.BulkURL}
	if s.ManifestURL != "" {
		var err error
		if urls, err = s.partitions(ctx); err != nil {
			return nil, err
		}
	}

	parts := make([][]byte, 0, len(urls))
	for i, u := range urls {
		s.logger().Infof("Downloading Drugs@FDA partition %d/%d: %s", i+1, len(urls), u)
		body, err := s.Client.Get(ctx, u)
		if err != nil {
			return nil, err
		}
		data, err := sources.ExtractJSON(body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u, err)
		}
		if data, err = whttp.DecodeText(data); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", u, err)
		}
		parts = append(parts, data)
	}

	merged, err := sources.MergeResults(parts...)
	if err != nil {
		return nil, err
	}
	return &sources.RawDocument{Body: merged, Origins: urls, FetchedAt: time.Now().UTC()}, nil
}

func (s *Source) partitions(ctx context.Context) ([]string, error) {
	body, err := s.Client.Get(ctx, s.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("download manifest: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("manifest %s is not valid JSON: %w", s.ManifestURL, drugsfda.ErrMalformedDocument)
	}
	var urls []string
	for _, f := range gjson.GetBytes(body, partitionsPath).Array() {
		if f.String() != "" {
			urls = append(urls, f.String())
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("manifest %s lists no drugsfda partitions: %w", s.ManifestURL, drugsfda.ErrMalformedDocument)
	}
	s.logger().Infof("Manifest lists %d Drugs@FDA partition(s)", len(urls))
	return urls, nil
}

func (s *Source) fetchAPI(ctx context.Context) (*sources.RawDocument, error) {
	limit := s.PageSize
	if limit <= 0 || limit > 1000 {
		limit = DefaultPageSize
	}
	maxSkip := s.MaxSkip
	if maxSkip <= 0 {
		maxSkip = DefaultMaxSkip
	}

	var (
		pages   [][]byte
		origins []string
		total   = -1
	)
	for skip := 0; total < 0 || skip < total; skip += limit {
		if skip > maxSkip {
			s.logger().Warnf("API reports %d applications but skip is capped at %d; %d not fetched", total, maxSkip, total-skip)
			break
		}
		u, err := pageURL(s.APIURL, limit, skip)
		if err != nil {
			return nil, err
		}
		body, err := s.Client.Get(ctx, u)
		if err != nil {
			var fe *whttp.FetchError
			// openFDA answers 404 once skip runs past the last match.
			if skip > 0 && errors.As(err, &fe) && fe.StatusCode == 404 {
				break
			}
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%s: response is not valid JSON: %w", u, drugsfda.ErrMalformedDocument)
		}
		if total < 0 {
			total = int(gjson.GetBytes(body, "meta.results.total").Int())
			s.logger().Infof("API reports %d applications, fetching %d per page", total, limit)
		}
		n := len(gjson.GetBytes(body, "results").Array())
		pages = append(pages, body)
		origins = append(origins, u)
		if n == 0 {
			break
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s returned no pages: %w", s.APIURL, drugsfda.ErrMalformedDocument)
	}

	merged, err := sources.MergeResults(pages...)
	if err != nil {
		return nil, err
	}
	return &sources.RawDocument{Body: merged, Origins: origins, FetchedAt: time.Now().UTC()}, nil
}

func pageURL(base string, limit, skip int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("fda: api url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
