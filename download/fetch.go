package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"hsdl/internal/metrics"
	"hsdl/internal/storage"
)

const (
	// ChunkSize is the read size used while streaming a body to disk.
	ChunkSize = 1024

	// DefaultMaxRetries bounds full restarts after an incomplete transfer.
	DefaultMaxRetries = 5
)

// Streamer opens a GET against a signed URL. Non-2xx responses are errors.
// *http.Client from hsdl/http implements it.
type Streamer interface {
	Stream(ctx context.Context, url string) (*http.Response, error)
}

// OutcomeKind tags a transfer result.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SkipReason says why a transfer was skipped.
type SkipReason string

// AlreadyExists means the destination file was already on disk.
const AlreadyExists SkipReason = "already exists"

// Outcome is the result of one Fetch call.
type Outcome struct {
	Kind OutcomeKind
	// Bytes written on success.
	Bytes int64
	// Attempts is the number of GETs issued.
	Attempts int
	Reason   SkipReason
}

// Success reports a verified transfer of n bytes.
func Success(n int64, attempts int) Outcome {
	return Outcome{Kind: OutcomeSuccess, Bytes: n, Attempts: attempts}
}

// Skipped reports a transfer that was not needed.
func Skipped(reason SkipReason) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// Failed reports a transfer that never completed.
func Failed(attempts int) Outcome {
	return Outcome{Kind: OutcomeFailed, Attempts: attempts}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return fmt.Sprintf("success (%s)", humanize.IBytes(uint64(o.Bytes)))
	case OutcomeSkipped:
		return fmt.Sprintf("skipped (%s)", o.Reason)
	default:
		return fmt.Sprintf("failed after %d attempts", o.Attempts)
	}
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// MaxRetries is the number of restarts after an incomplete transfer.
	// Zero means DefaultMaxRetries; negative means none.
	MaxRetries int
	// Progress receives a progress bar per attempt. Nil disables it.
	Progress io.Writer
	// Status receives human-readable retry notices. Nil discards them.
	Status  io.Writer
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Fetcher streams signed URLs to disk and checks the byte count against
// Content-Length, restarting from scratch when they differ.
type Fetcher struct {
	streamer   Streamer
	maxRetries int
	progress   io.Writer
	status     io.Writer
	log        *zap.Logger
	metrics    *metrics.Recorder
}

// NewFetcher creates a Fetcher.
func NewFetcher(streamer Streamer, cfg FetcherConfig) *Fetcher {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	} else if maxRetries < 0 {
		maxRetries = 0
	}
	status := cfg.Status
	if status == nil {
		status = io.Discard
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		streamer:   streamer,
		maxRetries: maxRetries,
		progress:   cfg.Progress,
		status:     status,
		log:        log,
		metrics:    cfg.Metrics,
	}
}

// errIncomplete marks an attempt whose byte count did not match.
var errIncomplete = errors.New("incomplete transfer")

// Fetch downloads url to path.
//
// An existing path is Skipped without touching the network. The parent of
// path must exist. A non-2xx response fails at once with the transport
// error. A short or broken body is re-requested from byte zero, up to
// 1+MaxRetries GETs; after that the partial file is removed and Failed is
// returned with a nil error. The file only appears at path once verified.
func (f *Fetcher) Fetch(ctx context.Context, url, path string) (Outcome, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := requireDir(dir); err != nil {
			return Outcome{}, err
		}
	}
	if _, err := os.Stat(path); err == nil {
		f.metrics.Outcome(OutcomeSkipped.String(), 0, 0)
		return Skipped(AlreadyExists), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Outcome{}, &FilesystemError{Path: path, Err: err}
	}

	maxAttempts := f.maxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		n, err := f.attempt(ctx, url, path)
		switch {
		case err == nil:
			f.metrics.Outcome(OutcomeSuccess.String(), n, attempt)
			f.log.Info("download complete",
				zap.String("path", path),
				zap.Int64("bytes", n),
				zap.Int("attempts", attempt))
			return Success(n, attempt), nil

		case errors.Is(err, errIncomplete):
			f.log.Warn("download incomplete",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < maxAttempts {
				fmt.Fprintf(f.status, "Download failed. Retrying %d out of %d...\n", attempt, f.maxRetries)
			}

		default:
			f.metrics.Outcome(OutcomeFailed.String(), 0, attempt)
			return Failed(attempt), err
		}
	}

	f.metrics.Outcome(OutcomeFailed.String(), 0, maxAttempts)
	f.log.Error("download failed", zap.String("path", path), zap.Int("attempts", maxAttempts))
	return Failed(maxAttempts), nil
}

// attempt runs one GET into a temporary file and commits it when the byte
// count matches. The temporary file is always gone when it returns.
func (f *Fetcher) attempt(ctx context.Context, url, path string) (int64, error) {
	resp, err := f.streamer.Stream(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	w, err := storage.NewAtomicWriter(path)
	if err != nil {
		return 0, &FilesystemError{Path: path, Err: err}
	}

	expected := resp.ContentLength
	var dst io.Writer = w
	if f.progress != nil {
		bar := newProgressBar(f.progress, expected, filepath.Base(path))
		defer bar.Close()
		dst = io.MultiWriter(w, bar)
	}

	readErr, writeErr := copyChunks(dst, resp.Body)
	if writeErr != nil {
		w.Abort()
		return 0, &FilesystemError{Path: path, Err: writeErr}
	}
	if readErr != nil && ctx.Err() != nil {
		w.Abort()
		return 0, ctx.Err()
	}

	written := w.Written()
	if readErr != nil || (expected >= 0 && written != expected) {
		w.Abort()
		if readErr != nil {
			return written, fmt.Errorf("%w: got %d of %d bytes: %v", errIncomplete, written, expected, readErr)
		}
		return written, fmt.Errorf("%w: got %d of %d bytes", errIncomplete, written, expected)
	}

	if err := w.Commit(); err != nil {
		return 0, &FilesystemError{Path: path, Err: err}
	}
	return written, nil
}

// copyChunks copies src to dst ChunkSize bytes at a time until EOF. Read
// and write failures are reported apart: a broken read is retried, a
// failed write is not.
func copyChunks(dst io.Writer, src io.Reader) (readErr, writeErr error) {
	buf := make([]byte, ChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return nil, werr
			}
		}
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return err, nil
		}
	}
}

func newProgressBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
	)
}
