package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultTimeout = 20 * time.Second

type generation struct {
	text string
	err  error
}

// Generate calls g on its own goroutine and waits at most timeout for the answer.
// On expiry it reports ErrTimeout and abandons the call: the backend request is
// not cancelled and its late result is dropped into a buffered channel nobody reads.
func Generate(ctx context.Context, g Generator, prompt Prompt, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	done := make(chan generation, 1)
	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generation{err: fmt.Errorf("%s panicked: %v: %w", g.Name(), r, ErrUnavailable)}
			}
		}()
		text, err := g.Generate(callCtx, prompt)
		done <- generation{text: text, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		if strings.TrimSpace(res.text) == "" {
			return "", fmt.Errorf("%s: %w", g.Name(), ErrEmpty)
		}
		return res.text, nil
	case <-timer.C:
		return "", fmt.Errorf("%s did not answer within %s: %w", g.Name(), timeout, ErrTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s: %w", g.Name(), ErrTimeout)
		}
		return "", fmt.Errorf("%s generation cancelled: %w", g.Name(), ctx.Err())
	}
}

// Ping runs g.Ping under the same fire-and-wait discipline as Generate.
func Ping(ctx context.Context, g Generator, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	done := make(chan error, 1)
	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s panicked: %v: %w", g.Name(), r, ErrUnavailable)
			}
		}()
		done <- g.Ping(callCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%s connectivity test exceeded %s: %w", g.Name(), timeout, ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%s connectivity test cancelled: %w", g.Name(), ctx.Err())
	}
}

// ListModels asks lister for its models under the same fire-and-wait
// discipline. name labels errors.
func ListModels(ctx context.Context, lister ModelLister, name string, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	type listing struct {
		models []string
		err    error
	}
	done := make(chan listing, 1)
	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- listing{err: fmt.Errorf("%s panicked: %v: %w", name, r, ErrUnavailable)}
			}
		}()
		models, err := lister.ListModels(callCtx)
		done <- listing{models: models, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.models, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%s model listing exceeded %s: %w", name, timeout, ErrTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s model listing cancelled: %w", name, ctx.Err())
	}
}
