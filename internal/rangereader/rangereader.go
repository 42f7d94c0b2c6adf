// Package rangereader fetches byte ranges of a remote log file over HTTP
// Range requests, backed by a bounded LRU cache so repeated reads of the
// same chunk (typical during scrubbing) don't re-hit the network.
package rangereader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/obslog"
)

var log = obslog.For("rangereader")

type cacheKey struct {
	offset int64
	length int64
}

// RangeReader reads byte ranges from a single remote resource. Reads at
// the same (offset, length) pair are served from cache; in-flight reads
// for the same key are coalesced so a burst of BlockLoader requests for
// the same block only issues one HTTP request.
type RangeReader struct {
	url    string
	client *http.Client

	size     int64
	sizeOnce sync.Once
	sizeErr  error

	cache *lru.Cache[cacheKey, []byte]

	inflightMu sync.Mutex
	inflight   map[cacheKey]*inflightRead

	closed bool
	mu     sync.Mutex
}

type inflightRead struct {
	done chan struct{}
	data []byte
	err  error
}

// Open constructs a RangeReader for url, sizing its LRU cache so it holds
// roughly maxCacheBytes worth of entries (entry count is an estimate;
// the cache tracks count, not bytes, matching golang-lru/v2's API).
func Open(url string, maxCacheBytes int64) (*RangeReader, error) {
	const estimatedEntryBytes = 1 << 20 // 1 MiB, typical block size
	entries := int(maxCacheBytes / estimatedEntryBytes)
	if entries < 8 {
		entries = 8
	}
	cache, err := lru.New[cacheKey, []byte](entries)
	if err != nil {
		return nil, alerts.StorageError("failed to construct range cache", err)
	}
	return &RangeReader{
		url:      url,
		client:   http.DefaultClient,
		cache:    cache,
		inflight: make(map[cacheKey]*inflightRead),
	}, nil
}

// Size returns the resource's total length, fetched lazily via HTTP HEAD
// and cached for the lifetime of the reader.
func (r *RangeReader) Size(ctx context.Context) (int64, error) {
	r.sizeOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
		if err != nil {
			r.sizeErr = alerts.NetworkError("failed to build HEAD request", err)
			return
		}
		resp, err := r.client.Do(req)
		if err != nil {
			r.sizeErr = alerts.NetworkError(fmt.Sprintf("HEAD %s failed", r.url), err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			r.sizeErr = alerts.NetworkError(fmt.Sprintf("HEAD %s returned %d", r.url, resp.StatusCode), nil)
			return
		}
		r.size = resp.ContentLength
	})
	return r.size, r.sizeErr
}

// Read fetches [offset, offset+length) from the resource, serving from
// cache when possible and coalescing concurrent requests for the same
// range.
func (r *RangeReader) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, alerts.PreconditionViolation("range reader is closed")
	}

	key := cacheKey{offset: offset, length: length}
	if data, ok := r.cache.Get(key); ok {
		return data, nil
	}

	r.inflightMu.Lock()
	if existing, ok := r.inflight[key]; ok {
		r.inflightMu.Unlock()
		return waitForRead(ctx, existing)
	}
	fresh := &inflightRead{done: make(chan struct{})}
	r.inflight[key] = fresh
	r.inflightMu.Unlock()

	data, err := r.fetch(ctx, offset, length)
	fresh.data, fresh.err = data, err
	close(fresh.done)

	r.inflightMu.Lock()
	delete(r.inflight, key)
	r.inflightMu.Unlock()

	if err == nil {
		r.cache.Add(key, data)
	}
	return data, err
}

func waitForRead(ctx context.Context, read *inflightRead) ([]byte, error) {
	select {
	case <-read.done:
		return read.data, read.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RangeReader) fetch(ctx context.Context, offset, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, alerts.NetworkError("failed to build range request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := r.client.Do(req)
	if err != nil {
		if alerts.IsAbort(err) {
			return nil, alerts.New(alerts.KindAbort, "range read aborted", err)
		}
		return nil, alerts.NetworkError(fmt.Sprintf("GET %s failed", r.url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, alerts.NetworkError(fmt.Sprintf("GET %s returned %d", r.url, resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, length))
	if err != nil {
		return nil, alerts.NetworkError("failed reading range response body", err)
	}
	log.WithField("offset", strconv.FormatInt(offset, 10)).
		WithField("length", len(data)).
		Debug("range fetched")
	return data, nil
}

// Close marks the reader closed. In-flight reads are allowed to
// complete; subsequent Read calls fail immediately. This is the
// supplemental operation SPEC_FULL.md adds to the playback engine's
// resource-teardown path.
func (r *RangeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cache.Purge()
	return nil
}
