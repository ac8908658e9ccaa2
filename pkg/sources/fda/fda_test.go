package fda

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predicateautomate/drugsync/pkg/drugsfda"
	"github.com/predicateautomate/drugsync/pkg/whttp"
)

func client() *whttp.Client {
	return whttp.New(whttp.Options{
		MaxRetries:   2,
		Timeout:      5 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
}

func apps(from, n int) string {
	parts := make([]string, 0, n)
	for i := from; i < from+n; i++ {
		parts = append(parts, fmt.Sprintf(`{"application_number":"NDA%06d","submissions":[],"products":[]}`, i))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func zipped(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetchBulkZip(t *testing.T) {
	archive := zipped(t, "drug-drugsfda-0001-of-0001.json", `{"meta":{"results":{"total":3}},"results":`+apps(0, 3)+`}`)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First attempt fails transiently.
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	s := &Source{Client: client(), Transport: TransportBulk, BulkURL: srv.URL + "/drug-drugsfda-0001-of-0001.json.zip"}
	doc, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))

	parsed, err := drugsfda.Parse(doc.Body, nil)
	require.NoError(t, err)
	assert.Len(t, parsed.Applications, 3)
	assert.Equal(t, 3, parsed.Total)
	assert.Equal(t, []string{s.BulkURL}, doc.Origins)
}

func TestFetchBulkFromManifestPartitions(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/download.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"results":{"drug":{"drugsfda":{"partitions":[
			{"file":"%[1]s/p1.json.zip","size_mb":"1"},
			{"file":"%[1]s/p2.json.zip","size_mb":"1"}]}}}}`, srv.URL)
	})
	mux.HandleFunc("/p1.json.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipped(t, "p1.json", `{"results":`+apps(0, 2)+`}`))
	})
	mux.HandleFunc("/p2.json.zip", func(w http.ResponseWriter, r *http.Request) {
		// Plain JSON is accepted as well.
		_, _ = w.Write([]byte(`{"results":` + apps(2, 3) + `}`))
	})

	s := &Source{Client: client(), ManifestURL: srv.URL + "/download.json"}
	doc, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.Origins, 2)

	parsed, err := drugsfda.Parse(doc.Body, nil)
	require.NoError(t, err)
	require.Len(t, parsed.Applications, 5)
	assert.Equal(t, "NDA000004", parsed.Applications[4].ApplicationNumber)
}

func TestFetchBulkNotFoundIsTerminal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := (&Source{Client: client(), BulkURL: srv.URL}).Fetch(context.Background())
	var fe *whttp.FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Transient)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

type queryLog struct {
	mu      sync.Mutex
	queries []string
}

func (q *queryLog) add(s string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, s)
}

func (q *queryLog) all() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.queries...)
}

func apiServer(t *testing.T, total int, requests *queryLog) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.add(r.URL.RawQuery)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		if skip >= total {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"No matches found!"}}`))
			return
		}
		n := limit
		if skip+n > total {
			n = total - skip
		}
		fmt.Fprintf(w, `{"meta":{"last_updated":"2025-06-01","results":{"skip":%d,"limit":%d,"total":%d}},"results":%s}`, skip, limit, total, apps(skip, n))
	}))
}

func TestFetchAPIPaginates(t *testing.T) {
	var requests queryLog
	srv := apiServer(t, 5, &requests)
	defer srv.Close()

	s := &Source{Client: client(), Transport: TransportAPI, APIURL: srv.URL + "/drug/drugsfda.json", PageSize: 2}
	doc, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"limit=2&skip=0", "limit=2&skip=2", "limit=2&skip=4"}, requests.all())

	parsed, err := drugsfda.Parse(doc.Body, nil)
	require.NoError(t, err)
	require.Len(t, parsed.Applications, 5)
	for i, app := range parsed.Applications {
		assert.Equal(t, fmt.Sprintf("NDA%06d", i), app.ApplicationNumber)
	}
	assert.Equal(t, "2025-06-01", parsed.LastUpdated)
}

func TestFetchAPIStopsAtMaxSkip(t *testing.T) {
	var requests queryLog
	srv := apiServer(t, 10, &requests)
	defer srv.Close()

	s := &Source{Client: client(), Transport: TransportAPI, APIURL: srv.URL, PageSize: 2, MaxSkip: 4}
	doc, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, requests.all(), 3)

	parsed, err := drugsfda.Parse(doc.Body, nil)
	require.NoError(t, err)
	assert.Len(t, parsed.Applications, 6)
}

func TestFetchAPIRejectsMalformedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := (&Source{Client: client(), Transport: TransportAPI, APIURL: srv.URL}).Fetch(context.Background())
	assert.True(t, errors.Is(err, drugsfda.ErrMalformedDocument))
}

func TestUnknownTransport(t *testing.T) {
	_, err := (&Source{Transport: "ftp"}).Fetch(context.Background())
	assert.Error(t, err)
}
