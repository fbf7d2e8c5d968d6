// Package portal drives the result portal in a headless browser: one fresh
// browser per attempt, a solved CAPTCHA per submission, and a three-way
// classification of what the portal answered.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/captcha"
	"github.com/JakeFAU/bulk-result-crawler/internal/metrics"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// Solver turns a CAPTCHA image into the answer to type.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// Throttle gates how often sessions are opened against the portal.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements results.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	solver      Solver
	throttle    Throttle
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a portal fetcher backed by a chromedp exec allocator. Every
// attempt launches its own browser from the allocator.
func New(cfg Config, solver Solver, throttle Throttle, logger *zap.Logger) (*Fetcher, error) {
	if solver == nil {
		return nil, errors.New("captcha solver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		solver:      solver,
		throttle:    throttle,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

type pageResult struct {
	html string
	err  error
}

// Fetch runs one attempt for job. The browser is torn down before Fetch
// returns, whatever the outcome.
func (f *Fetcher) Fetch(ctx context.Context, job results.RollJob) (results.ResultRecord, error) {
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx, f.cfg.URL); err != nil {
			return results.ResultRecord{}, err
		}
	}

	browserCtx, browserCancel := chromedp.NewContext(f.allocator)
	defer browserCancel()
	metrics.IncBrowserSessions()
	defer metrics.DecBrowserSessions()

	attemptCtx, cancel := context.WithTimeout(browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	watcher := newDialogWatcher(NotFoundMessage)
	chromedp.ListenTarget(attemptCtx, func(ev any) {
		opening, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		f.logger.Debug("portal dialog", zap.Int("roll", job.Roll), zap.String("message", opening.Message))
		watcher.observe(opening.Message)
		go func() {
			if err := chromedp.Run(attemptCtx, page.HandleJavaScriptDialog(true)); err != nil {
				f.logger.Debug("dialog accept failed", zap.Error(err))
			}
		}()
	})

	done := make(chan pageResult, 1)
	go func() {
		html, err := f.submit(attemptCtx, job)
		done <- pageResult{html: html, err: err}
	}()

	html, err := awaitAttempt(watcher, done)
	if err != nil {
		return results.ResultRecord{}, err
	}
	return ParseResultPage(html, job.RollNo(), f.cfg.Selectors)
}

// awaitAttempt resolves the race between the page flow and the out-of-band
// not-found dialog. The dialog wins even when it lands after the flow ends.
func awaitAttempt(watcher *dialogWatcher, done <-chan pageResult) (string, error) {
	select {
	case <-watcher.notFound:
		return "", results.ErrResultNotFound
	case res := <-done:
		if watcher.fired() {
			return "", results.ErrResultNotFound
		}
		return res.html, res.err
	}
}

func (f *Fetcher) submit(ctx context.Context, job results.RollJob) (string, error) {
	sel := f.cfg.Selectors
	var image []byte
	fill := chromedp.Tasks{
		f.userAgentAction(),
		chromedp.Navigate(f.cfg.URL),
		chromedp.WaitVisible(sel.Program, chromedp.ByQuery),
		chromedp.Click(sel.Program, chromedp.ByQuery),
		chromedp.WaitVisible(sel.RollInput, chromedp.ByQuery),
		chromedp.SendKeys(sel.RollInput, job.RollNo(), chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.SetValue(sel.Semester, job.Semester, chromedp.ByQuery),
		dispatchChange(sel.Semester),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.WaitVisible(sel.CaptchaImage, chromedp.ByQuery),
		chromedp.Screenshot(sel.CaptchaImage, &image, chromedp.NodeVisible, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, fill); err != nil {
		return "", fmt.Errorf("fill result form: %w", err)
	}

	answer, err := f.solve(ctx, image)
	if err != nil {
		return "", err
	}
	f.logger.Debug("captcha solved", zap.Int("roll", job.Roll), zap.String("answer", answer))

	var html string
	send := chromedp.Tasks{
		chromedp.SendKeys(sel.CaptchaInput, answer, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Click(sel.Submit, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, send); err != nil {
		return "", fmt.Errorf("submit result form: %w", err)
	}
	return html, nil
}

func (f *Fetcher) solve(ctx context.Context, image []byte) (string, error) {
	start := time.Now()
	answer, err := f.solver.Solve(ctx, image)
	switch {
	case err != nil:
		metrics.ObserveCaptchaSolve(solveLabel(err), time.Since(start))
		return "", fmt.Errorf("solve captcha: %w", err)
	case answer == "":
		metrics.ObserveCaptchaSolve("empty", time.Since(start))
		return "", results.ErrEmptyCaptcha
	default:
		metrics.ObserveCaptchaSolve("ok", time.Since(start))
		return answer, nil
	}
}

func solveLabel(err error) string {
	if errors.Is(err, captcha.ErrCaptchaTimeout) {
		return "timeout"
	}
	return "error"
}

func (f *Fetcher) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func dispatchChange(selector string) chromedp.Action {
	script := fmt.Sprintf(
		`(function(){var el=document.querySelector(%q);if(el){el.dispatchEvent(new Event('change',{bubbles:true}));}return true;})()`,
		selector,
	)
	var ignored bool
	return chromedp.Evaluate(script, &ignored)
}

// dialogWatcher turns portal alert dialogs into a single not-found signal.
type dialogWatcher struct {
	marker   string
	notFound chan struct{}
	once     sync.Once
	mu       sync.Mutex
	seen     bool
}

func newDialogWatcher(marker string) *dialogWatcher {
	return &dialogWatcher{
		marker:   marker,
		notFound: make(chan struct{}),
	}
}

// observe records a dialog message and reports whether it was the not-found alert.
func (w *dialogWatcher) observe(message string) bool {
	if !strings.Contains(message, w.marker) {
		return false
	}
	w.once.Do(func() {
		w.mu.Lock()
		w.seen = true
		w.mu.Unlock()
		close(w.notFound)
	})
	return true
}

func (w *dialogWatcher) fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen
}
