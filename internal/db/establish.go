package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/newsklad/backend/internal/repo"
	"github.com/sethvargo/go-retry"
)

var ErrNoCandidates = errors.New("no store candidates configured")

type ProbeResult struct {
	ServerTime time.Time
	Version    string
}

// Dialer opens, probes and releases handles of type H. Dial may return a
// handle that is not yet connected; Probe is what proves it live.
type Dialer[H any] interface {
	Dial(ctx context.Context, d Descriptor) (H, error)
	Probe(ctx context.Context, h H) (ProbeResult, error)
	Release(h H)
}

type AttemptRecorder interface {
	RecordConnectAttempt(candidate string, ok bool)
}

type EstablishOptions struct {
	// Timeout bounds one dial+probe attempt.
	Timeout time.Duration
	// AttemptsPerCandidate is how many times a candidate is tried before
	// moving on. 1 means a strict single pass.
	AttemptsPerCandidate uint64
	RetryDelay           time.Duration
}

type Established[H any] struct {
	Handle   H
	Selected Descriptor
	Probe    ProbeResult
	// Skipped lists the earlier candidates that failed.
	Skipped []CandidateError
}

type CandidateError struct {
	Candidate Descriptor
	Err       error
}

// UnavailableError is returned when every candidate failed. It matches
// repo.ErrStoreUnavailable under errors.Is.
type UnavailableError struct {
	Failures []CandidateError
	Cause    error
}

func (e *UnavailableError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Candidate.String()+": "+f.Err.Error())
	}
	msg := fmt.Sprintf("%s: %d candidate(s) failed", repo.ErrStoreUnavailable, len(e.Failures))
	if e.Cause != nil {
		msg += " (" + e.Cause.Error() + ")"
	}
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

func (e *UnavailableError) Unwrap() []error {
	if e.Cause != nil {
		return []error{repo.ErrStoreUnavailable, e.Cause}
	}
	return []error{repo.ErrStoreUnavailable}
}

// Establisher walks an ordered candidate list and keeps the first one whose
// probe succeeds. It holds no state between calls.
type Establisher[H any] struct {
	dialer   Dialer[H]
	opts     EstablishOptions
	log      *slog.Logger
	recorder AttemptRecorder
}

// recorder may be nil.
func NewEstablisher[H any](dialer Dialer[H], opts EstablishOptions, log *slog.Logger, recorder AttemptRecorder) *Establisher[H] {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.AttemptsPerCandidate == 0 {
		opts.AttemptsPerCandidate = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Establisher[H]{dialer: dialer, opts: opts, log: log, recorder: recorder}
}

func (e *Establisher[H]) Establish(ctx context.Context, candidates []Descriptor) (Established[H], error) {
	var zero Established[H]

	if len(candidates) == 0 {
		return zero, ErrNoCandidates
	}

	var failures []CandidateError

	for i, d := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, &UnavailableError{Failures: failures, Cause: err}
		}

		e.log.InfoContext(ctx, "connecting to store", "candidate", d.String(), "position", i+1, "of", len(candidates))

		h, probe, err := e.tryCandidate(ctx, d)
		if e.recorder != nil {
			e.recorder.RecordConnectAttempt(d.Label, err == nil)
		}

		if err != nil {
			e.log.WarnContext(ctx, "store candidate failed", "candidate", d.String(), "err", err)
			failures = append(failures, CandidateError{Candidate: d, Err: err})
			continue
		}

		e.log.InfoContext(ctx, "store connected",
			"candidate", d.String(),
			"server_time", probe.ServerTime,
			"version", probe.Version,
		)

		return Established[H]{
			Handle:   h,
			Selected: d,
			Probe:    probe,
			Skipped:  failures,
		}, nil
	}

	return zero, &UnavailableError{Failures: failures}
}

func (e *Establisher[H]) tryCandidate(ctx context.Context, d Descriptor) (H, ProbeResult, error) {
	var (
		handle H
		result ProbeResult
	)

	backoff := retry.WithMaxRetries(e.opts.AttemptsPerCandidate-1, retry.NewConstant(e.opts.RetryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		h, res, err := e.attempt(ctx, d)
		if err != nil {
			return retry.RetryableError(err)
		}
		handle, result = h, res
		return nil
	})

	return handle, result, err
}

// attempt releases the handle whenever the probe fails, so a failed
// candidate never leaves a pool behind.
func (e *Establisher[H]) attempt(ctx context.Context, d Descriptor) (H, ProbeResult, error) {
	var zero H

	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	h, err := e.dialer.Dial(attemptCtx, d)
	if err != nil {
		return zero, ProbeResult{}, fmt.Errorf("dial: %w", err)
	}

	res, err := e.dialer.Probe(attemptCtx, h)
	if err != nil {
		e.dialer.Release(h)
		return zero, ProbeResult{}, fmt.Errorf("probe: %w", err)
	}

	return h, res, nil
}
