// Package captcha solves portal CAPTCHA images through an external recognition
// service, bounding every solve with a hard timeout.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single solve.
const DefaultTimeout = 20 * time.Second

// ErrCaptchaTimeout is returned when recognition outlives the solver timeout.
var ErrCaptchaTimeout = errors.New("captcha solve timed out")

// Recognizer turns a CAPTCHA image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, image []byte) (string, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// Solver races a Recognizer against a timeout.
type Solver struct {
	recognizer Recognizer
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSolver wraps recognizer; a non-positive timeout falls back to DefaultTimeout.
func NewSolver(recognizer Recognizer, timeout time.Duration, logger *zap.Logger) *Solver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		recognizer: recognizer,
		timeout:    timeout,
		logger:     logger,
	}
}

type recognition struct {
	text string
	err  error
}

// Solve returns the recognized text with all whitespace removed. When the
// timeout fires first it returns ErrCaptchaTimeout; the recognition call is left
// running and its result is dropped.
func (s *Solver) Solve(ctx context.Context, image []byte) (string, error) {
	if s.recognizer == nil {
		return "", errors.New("captcha recognizer not configured")
	}
	done := make(chan recognition, 1)
	go func() {
		text, err := s.recognizer.Recognize(context.WithoutCancel(ctx), image)
		done <- recognition{text: text, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("recognize captcha: %w", res.err)
		}
		return Normalize(res.text), nil
	case <-timer.C:
		s.logger.Warn("captcha solve timed out", zap.Duration("timeout", s.timeout))
		return "", ErrCaptchaTimeout
	case <-ctx.Done():
		return "", fmt.Errorf("captcha solve canceled: %w", ctx.Err())
	}
}

// Normalize strips every whitespace rune from a recognized answer.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), "")
}
