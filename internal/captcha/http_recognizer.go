package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultServiceURL is the hosted recognition endpoint used when none is configured.
const DefaultServiceURL = "https://captcha-solver-api-fucaezhgcca0dwda.centralindia-01.azurewebsites.net/solve_captcha"

// HTTPConfig controls the recognition service client.
type HTTPConfig struct {
	ServiceURL string
	Timeout    time.Duration
	UserAgent  string
}

// HTTPRecognizer posts CAPTCHA images to a recognition service using Colly.
type HTTPRecognizer struct {
	cfg           HTTPConfig
	baseCollector *colly.Collector
}

type solveResponse struct {
	CaptchaText string `json:"captcha_text"`
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewHTTPRecognizer builds a recognizer for cfg.ServiceURL.
func NewHTTPRecognizer(cfg HTTPConfig) (*HTTPRecognizer, error) {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = DefaultServiceURL
	}
	u, err := url.Parse(cfg.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("parse captcha service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("captcha service url must be http(s), got %q", cfg.ServiceURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &HTTPRecognizer{cfg: cfg, baseCollector: c}, nil
}

// Recognize uploads image as the multipart field "image" and returns the
// service's captcha_text.
func (r *HTTPRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("captcha image is empty")
	}
	body, contentType, err := multipartImage(image)
	if err != nil {
		return "", err
	}

	var (
		text     string
		solveErr error
	)
	collector := r.baseCollector.Clone()
	configureHooks(collector, &text, &solveErr)

	hdr := http.Header{}
	hdr.Set("Content-Type", contentType)
	hdr.Set("Accept", "application/json")

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodPost, r.cfg.ServiceURL, bytes.NewReader(body), nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("captcha request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("captcha request failed: %w", err)
		}
		if solveErr != nil {
			return "", fmt.Errorf("captcha response failed: %w", solveErr)
		}
		return text, nil
	}
}

func configureHooks(hooks collectorHooks, text *string, solveErr *error) {
	hooks.OnResponse(func(resp *colly.Response) {
		var payload solveResponse
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			*solveErr = fmt.Errorf("decode captcha response: %w", err)
			return
		}
		*text = payload.CaptchaText
	})
	hooks.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			*solveErr = fmt.Errorf("captcha service status %d: %w", resp.StatusCode, err)
			return
		}
		*solveErr = err
	})
}

func multipartImage(image []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "captcha.png")
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write multipart image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
