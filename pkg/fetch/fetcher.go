// Package fetch implements authenticated, parallel HTTP(S) downloads
// with hash verification, transparent decompression, and retry with
// exponential backoff. Parallelism is bounded per host; mirrors are
// tried in declared order.
package fetch

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Compression selects the transparent decompression applied to a
// downloaded file before it is exposed at its destination.
type Compression int

const (
	None Compression = iota
	Gzip
	Xz
)

// CompressionForPath infers the compression from a URL or file suffix.
func CompressionForPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip
	case strings.HasSuffix(path, ".xz"):
		return Xz
	}
	return None
}

// Task is one download: an ordered mirror list for the same content, a
// destination path, and optional integrity expectations. SHA256 is
// checked against the bytes on the wire; DecompressedSHA256, when set,
// against the decompressed form that lands at Dest.
type Task struct {
	URLs               []string
	Dest               string
	SHA256             string
	Size               int64
	Decompress         Compression
	DecompressedSHA256 string
}

// IntegrityError reports a content hash mismatch. It is never retried.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s: expected sha256 %s, got %s", e.URL, e.Expected, e.Actual)
}

// TransferError reports a download failure that persisted through the
// retry ceiling.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer: %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

type Option func(*Fetcher)

// WithClient substitutes the HTTP client.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithPerHostLimit bounds concurrent transfers per host.
func WithPerHostLimit(n int64) Option {
	return func(f *Fetcher) { f.perHost = n }
}

// WithMaxRetries bounds retries of transient failures per URL.
func WithMaxRetries(n uint64) Option {
	return func(f *Fetcher) { f.maxRetries = n }
}

// WithBackoffInterval sets the initial backoff delay; tests shrink it.
func WithBackoffInterval(d time.Duration) Option {
	return func(f *Fetcher) { f.backoffInterval = d }
}

// Fetcher downloads sets of tasks concurrently. It is safe for
// concurrent use.
type Fetcher struct {
	client          *http.Client
	logger          logrus.FieldLogger
	perHost         int64
	maxRetries      uint64
	backoffInterval time.Duration

	mu    sync.Mutex
	hosts map[string]*semaphore.Weighted
}

func New(logger logrus.FieldLogger, options ...Option) *Fetcher {
	f := &Fetcher{
		client:          &http.Client{Timeout: 10 * time.Minute},
		logger:          logger,
		perHost:         4,
		maxRetries:      3,
		backoffInterval: 500 * time.Millisecond,
		hosts:           make(map[string]*semaphore.Weighted),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

func (f *Fetcher) hostSemaphore(rawURL string) *semaphore.Weighted {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sem, ok := f.hosts[host]
	if !ok {
		sem = semaphore.NewWeighted(f.perHost)
		f.hosts[host] = sem
	}
	return sem
}

// Fetch downloads every task, failing fast on the first hard error.
// Completed files are verified and moved into place atomically;
// partial files are removed on error or cancellation.
func (f *Fetcher) Fetch(ctx context.Context, tasks []Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range tasks {
		task := tasks[i]
		g.Go(func() error {
			return f.fetchOne(ctx, task)
		})
	}
	return g.Wait()
}

func (f *Fetcher) fetchOne(ctx context.Context, task Task) error {
	if len(task.URLs) == 0 {
		return errors.New("fetch task has no URLs")
	}
	if err := os.MkdirAll(filepath.Dir(task.Dest), 0o755); err != nil {
		return errors.Wrap(err, "creating destination directory")
	}

	var lastErr error
	for _, rawURL := range task.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.fetchFromURL(ctx, rawURL, task)
		if err == nil {
			return nil
		}
		// Integrity failures are hard errors: the content is
		// wrong, and another mirror claiming the same hash
		// cannot be trusted to disagree.
		var integrity *IntegrityError
		if errors.As(err, &integrity) {
			return err
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		f.logger.WithError(err).WithField("url", rawURL).Warn("mirror failed, trying next")
		lastErr = err
	}
	return lastErr
}

func (f *Fetcher) fetchFromURL(ctx context.Context, rawURL string, task Task) error {
	sem := f.hostSemaphore(rawURL)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.backoffInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, f.maxRetries), ctx)
	return backoff.Retry(func() error {
		return f.download(ctx, rawURL, task)
	}, policy)
}

// download performs a single transfer attempt. Transient conditions
// (network errors, 5xx, truncation) return plain errors and are
// retried by the caller; everything else is wrapped Permanent.
func (f *Fetcher) download(ctx context.Context, rawURL string, task Task) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return &TransferError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return &TransferError{URL: rawURL, Err: errors.Errorf("server error: %s", resp.Status)}
	default:
		return backoff.Permanent(&TransferError{URL: rawURL, Err: errors.Errorf("unexpected status: %s", resp.Status)})
	}

	tmp, err := os.CreateTemp(filepath.Dir(task.Dest), ".praxis-fetch-*")
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "creating temporary file"))
	}
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return &TransferError{URL: rawURL, Err: err}
	}
	if task.Size > 0 && written != task.Size {
		return &TransferError{URL: rawURL, Err: errors.Errorf("truncated: got %d of %d bytes", written, task.Size)}
	}
	if task.SHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, task.SHA256) {
			return backoff.Permanent(&IntegrityError{URL: rawURL, Expected: strings.ToLower(task.SHA256), Actual: actual})
		}
	}

	if task.Decompress != None {
		if err := f.decompress(tmp.Name(), task, rawURL); err != nil {
			return backoff.Permanent(err)
		}
	}

	if err := tmp.Close(); err != nil {
		return backoff.Permanent(err)
	}
	if err := os.Rename(tmp.Name(), task.Dest); err != nil {
		return backoff.Permanent(errors.Wrap(err, "moving download into place"))
	}
	return nil
}

// decompress rewrites the verified temporary file with its
// decompressed contents.
func (f *Fetcher) decompress(path string, task Task, rawURL string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	var reader io.Reader
	switch task.Decompress {
	case Gzip:
		gz, err := gzip.NewReader(in)
		if err != nil {
			return errors.Wrap(err, "gzip")
		}
		defer gz.Close()
		reader = gz
	case Xz:
		xzr, err := xz.NewReader(in)
		if err != nil {
			return errors.Wrap(err, "xz")
		}
		reader = xzr
	default:
		return errors.Errorf("unknown compression %d", task.Decompress)
	}

	out, err := os.CreateTemp(filepath.Dir(path), ".praxis-unpack-*")
	if err != nil {
		return err
	}
	defer func() {
		out.Close()
		os.Remove(out.Name())
	}()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), reader); err != nil {
		return errors.Wrap(err, "decompressing")
	}
	if task.DecompressedSHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, task.DecompressedSHA256) {
			return &IntegrityError{URL: rawURL, Expected: strings.ToLower(task.DecompressedSHA256), Actual: actual}
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), path)
}

// SHA256File hashes a file on disk; callers use it to decide whether a
// cached artifact can be reused.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
