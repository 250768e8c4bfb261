// SPDX-License-Identifier: MIT

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	xwlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/metrics"
)

const defaultChunkSize = 32 * 1024

var (
	// ErrCanceled marks a job stopped by user request.
	ErrCanceled = errors.New("download canceled")
	// ErrTooManyJobs is returned when the parallel-job cap is reached.
	ErrTooManyJobs = errors.New("too many active downloads")
	// ErrAlreadyActive is returned for a URL that is already downloading.
	ErrAlreadyActive = errors.New("download already active for this URL")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("download job not found")
)

// Options configures a Manager.
type Options struct {
	// Dir is the directory downloads materialize into.
	Dir string
	// Token is the bearer credential attached to retrieval requests.
	Token string
	// Client defaults to a plain http.Client without timeout; transfers are
	// bounded by job contexts instead.
	Client *http.Client
	// MaxParallel caps concurrently active jobs. Defaults to 1, matching the
	// single download portal of the web frontend.
	MaxParallel int
	// ThrottleBytesPerSec limits transfer throughput; 0 means unlimited.
	ThrottleBytesPerSec int
	// OnUpdate is invoked after every received chunk and on state changes.
	OnUpdate func(*Job)
	// Clock is injectable for deterministic progress tests.
	Clock func() time.Time
	// ChunkSize overrides the read buffer size.
	ChunkSize int
}

// Manager owns download jobs. Each job runs on its own goroutine with an
// independent byte-stream reader; cancellation is cooperative, checked
// between chunk reads.
type Manager struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	jobs   map[string]*Job
	active int
}

// NewManager builds a Manager.
func NewManager(opts Options) *Manager {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	m := &Manager{
		opts:   opts,
		client: opts.Client,
		jobs:   make(map[string]*Job),
	}
	if opts.ThrottleBytesPerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(opts.ThrottleBytesPerSec), opts.ChunkSize)
	}
	return m
}

// Start creates a job and begins the transfer. The returned job is live;
// observe it via Progress, Done, and the OnUpdate callback.
func (m *Manager) Start(ctx context.Context, req Request) (*Job, error) {
	if req.SourceURL == "" {
		return nil, fmt.Errorf("download request without source url")
	}

	m.mu.Lock()
	if m.active >= m.opts.MaxParallel {
		m.mu.Unlock()
		return nil, ErrTooManyJobs
	}
	for _, j := range m.jobs {
		if j.Request.SourceURL == req.SourceURL && !j.Status().Finished() {
			m.mu.Unlock()
			return nil, ErrAlreadyActive
		}
	}

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(xwlog.ContextWithJobID(ctx, jobID))
	job := &Job{
		ID:        jobID,
		Request:   req,
		StartedAt: m.opts.Clock(),
		clock:     m.opts.Clock,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusPending,
		total:     -1,
	}
	m.jobs[job.ID] = job
	m.active++
	m.mu.Unlock()

	go m.run(jobCtx, job)
	return job, nil
}

// Get returns a job by ID.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Jobs returns all known jobs, including finished ones.
func (m *Manager) Jobs() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// Cancel requests cooperative cancellation of an active job. The transfer
// stops between chunk reads and the connection is released.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if job.Status().Finished() {
		return fmt.Errorf("job %s already %s", id, job.Status())
	}
	job.cancel()
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

func (m *Manager) notify(job *Job) {
	if m.opts.OnUpdate != nil {
		m.opts.OnUpdate(job)
	}
}

// run executes one transfer to completion, cancellation, or failure.
// Partial bytes never survive: the pending file is discarded on any
// non-complete outcome.
func (m *Manager) run(ctx context.Context, job *Job) {
	defer m.release()
	defer job.cancel()

	logger := xwlog.WithComponentFromContext(ctx, "download").With().
		Str(xwlog.FieldURL, job.Request.SourceURL).
		Logger()

	finish := func(status Status, err error) {
		job.setStatus(status, err)
		metrics.DownloadsTotal.WithLabelValues(string(status)).Inc()
		m.notify(job)
	}

	job.setStatus(StatusActive, nil)
	m.notify(job)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Request.SourceURL, nil)
	if err != nil {
		finish(StatusFailed, fmt.Errorf("create request: %w", err))
		return
	}
	if m.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.opts.Token)
	}

	res, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			finish(StatusCanceled, ErrCanceled)
			return
		}
		finish(StatusFailed, fmt.Errorf("retrieve: %w", err))
		return
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		finish(StatusFailed, fmt.Errorf("retrieve: unexpected status %d", res.StatusCode))
		return
	}

	// ContentLength is -1 when the server does not announce a total; the
	// job stays indeterminate in that case.
	job.setTotal(res.ContentLength)

	dest := filepath.Join(m.opts.Dir, job.Request.Filename())
	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0o644))
	if err != nil {
		finish(StatusFailed, fmt.Errorf("create pending file: %w", err))
		return
	}
	defer func() {
		// No-op after a successful CloseAtomicallyReplace.
		_ = pending.Cleanup()
	}()

	logger.Info().
		Str(xwlog.FieldEvent, "download.start").
		Int64(xwlog.FieldTotalBytes, res.ContentLength).
		Str(xwlog.FieldPath, dest).
		Msg("download started")

	buf := make([]byte, m.opts.ChunkSize)
	for {
		// Cooperative cancellation point between chunk reads.
		if ctx.Err() != nil {
			finish(StatusCanceled, ErrCanceled)
			logger.Info().Str(xwlog.FieldEvent, "download.canceled").Msg("download canceled")
			return
		}

		n, readErr := res.Body.Read(buf)
		if n > 0 {
			if m.limiter != nil {
				if err := m.limiter.WaitN(ctx, n); err != nil {
					finish(StatusCanceled, ErrCanceled)
					return
				}
			}
			if _, err := pending.Write(buf[:n]); err != nil {
				finish(StatusFailed, fmt.Errorf("write chunk: %w", err))
				return
			}
			job.addBytes(n)
			metrics.DownloadBytesTotal.Add(float64(n))
			m.notify(job)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				finish(StatusCanceled, ErrCanceled)
				logger.Info().Str(xwlog.FieldEvent, "download.canceled").Msg("download canceled")
				return
			}
			finish(StatusFailed, fmt.Errorf("read stream: %w", readErr))
			logger.Error().
				Str(xwlog.FieldEvent, "download.failed").
				Err(readErr).
				Msg("transport error, partial data discarded")
			return
		}
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		finish(StatusFailed, fmt.Errorf("materialize file: %w", err))
		return
	}
	job.setPath(dest)
	finish(StatusCompleted, nil)

	logger.Info().
		Str(xwlog.FieldEvent, "download.completed").
		Int64(xwlog.FieldBytes, job.Progress().Downloaded).
		Str(xwlog.FieldPath, dest).
		Msg("download completed")
}
