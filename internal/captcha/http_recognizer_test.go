package captcha

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
)

func newSolverService(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil || string(data) != "png-bytes" || header.Filename != "captcha.png" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRecognizerReturnsCaptchaText(t *testing.T) {
	t.Parallel()

	srv := newSolverService(t, http.StatusOK, `{"captcha_text":"X 7 Q"}`)
	rec, err := NewHTTPRecognizer(HTTPConfig{ServiceURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		text, err := rec.Recognize(context.Background(), []byte("png-bytes"))
		require.NoError(t, err)
		require.Equal(t, "X 7 Q", text)
	}
}

func TestHTTPRecognizerServiceError(t *testing.T) {
	t.Parallel()

	srv := newSolverService(t, http.StatusInternalServerError, `{"error":"boom"}`)
	rec, err := NewHTTPRecognizer(HTTPConfig{ServiceURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), []byte("png-bytes"))
	require.Error(t, err)
}

func TestHTTPRecognizerRejectsEmptyImage(t *testing.T) {
	t.Parallel()

	rec, err := NewHTTPRecognizer(HTTPConfig{ServiceURL: "http://127.0.0.1:1/solve"})
	require.NoError(t, err)
	_, err = rec.Recognize(context.Background(), nil)
	require.Error(t, err)
}

func TestNewHTTPRecognizerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPRecognizer(HTTPConfig{ServiceURL: "ftp://example.com"})
	require.Error(t, err)

	rec, err := NewHTTPRecognizer(HTTPConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultServiceURL, rec.cfg.ServiceURL)
	require.Equal(t, 30*time.Second, rec.cfg.Timeout)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	var (
		text     string
		solveErr error
	)
	hooks := &stubHooks{}
	configureHooks(hooks, &text, &solveErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{Body: []byte(`{"captcha_text":"ZZ9"}`)})
	require.NoError(t, solveErr)
	require.Equal(t, "ZZ9", text)

	hooks.onResponse(&colly.Response{Body: []byte(`not json`)})
	require.Error(t, solveErr)

	solveErr = nil
	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.ErrorContains(t, solveErr, "502")
}
