// SPDX-License-Identifier: MIT

// Package download streams media files to local storage, tracking progress,
// throughput, and estimated time remaining per job.
package download

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Finished reports whether the job reached a terminal state.
func (s Status) Finished() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Request describes one download to run.
type Request struct {
	SourceURL string
	Title     string
	Quality   string
	Language  string
	Extension string // defaults to "mp4"
}

// Filename encodes title, quality, and extension, as the saved artifact name.
func (r Request) Filename() string {
	ext := r.Extension
	if ext == "" {
		ext = "mp4"
	}
	title := sanitize(r.Title)
	if title == "" {
		title = "video"
	}
	return fmt.Sprintf("%s_%s.%s", title, r.Quality, ext)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
}

// Progress is a point-in-time view of a job's transfer state.
type Progress struct {
	Status     Status
	Downloaded int64
	// Total is the expected byte count; valid only when Known. An unknown
	// total makes the progress indeterminate: no Percent, no ETA.
	Total   int64
	Known   bool
	Percent float64
	Speed   float64 // bytes per second
	ETA     time.Duration
	Elapsed time.Duration
}

// Indeterminate reports whether the progress cannot be expressed as a
// percentage. UIs must render this distinctly, never as 0% or 100%.
func (p Progress) Indeterminate() bool { return !p.Known }

// Job is one download in flight. All mutation happens on the manager's
// transfer goroutine; reads are safe from any goroutine.
type Job struct {
	ID        string
	Request   Request
	StartedAt time.Time

	clock  func() time.Time
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	status     Status
	downloaded int64
	total      int64 // -1 while unknown
	path       string
	err        error
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the terminal error for failed jobs.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Path returns the materialized file path once completed.
func (j *Job) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.path
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Progress derives the transfer view: instantaneous throughput from bytes
// over elapsed time, and remaining/ETA only when the total is known.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := Progress{
		Status:     j.status,
		Downloaded: j.downloaded,
		Total:      j.total,
		Known:      j.total >= 0,
	}
	elapsed := j.clock().Sub(j.StartedAt)
	if elapsed > 0 {
		p.Elapsed = elapsed
		p.Speed = float64(j.downloaded) / elapsed.Seconds()
	}
	if p.Known && j.total > 0 {
		p.Percent = float64(j.downloaded) / float64(j.total) * 100
		if p.Speed > 0 {
			remaining := float64(j.total - j.downloaded)
			p.ETA = time.Duration(remaining / p.Speed * float64(time.Second))
		}
	}
	return p
}

func (j *Job) setStatus(s Status, err error) {
	j.mu.Lock()
	j.status = s
	j.err = err
	j.mu.Unlock()
	if s.Finished() {
		close(j.done)
	}
}

func (j *Job) setTotal(total int64) {
	j.mu.Lock()
	j.total = total
	j.mu.Unlock()
}

func (j *Job) addBytes(n int) {
	j.mu.Lock()
	j.downloaded += int64(n)
	j.mu.Unlock()
}

func (j *Job) setPath(path string) {
	j.mu.Lock()
	j.path = path
	j.mu.Unlock()
}
