package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/pacing"
)

const (
	defaultMaxBodyBytes = 10 << 20
	maxRedirects        = 5
)

var errTooManyRedirects = errors.New("stopped after 5 redirects")

// HTTPStrategy fetches pages with a plain HTTP client that presents browser
// headers. It keeps cookies between requests of one identity.
type HTTPStrategy struct {
	detector     Detector
	maxBodyBytes int64

	mu        sync.Mutex
	client    *http.Client
	transport *http.Transport
}

// HTTPOption configures an HTTPStrategy.
type HTTPOption func(*HTTPStrategy)

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(s *HTTPStrategy) {
		s.maxBodyBytes = n
	}
}

// WithTransport replaces the HTTP transport, mostly for tests.
func WithTransport(t *http.Transport) HTTPOption {
	return func(s *HTTPStrategy) {
		s.transport = t
	}
}

// NewHTTPStrategy creates the HTTP strategy.
func NewHTTPStrategy(detector Detector, opts ...HTTPOption) *HTTPStrategy {
	s := &HTTPStrategy{
		detector:     detector,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	s.client = s.newClient()
	return s
}

func (s *HTTPStrategy) newClient() *http.Client {
	// cookiejar.New only fails on a bad public suffix list, and we pass none
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Transport: s.transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

func (s *HTTPStrategy) Name() article.StrategyName {
	return article.StrategyHTTP
}

// Rotate drops the cookies and pooled connections of the previous identity.
func (s *HTTPStrategy) Rotate(_ context.Context, _ pacing.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.CloseIdleConnections()
	s.client = s.newClient()
	return nil
}

// Fetch performs one GET. The attempt timeout comes from ctx.
func (s *HTTPStrategy) Fetch(ctx context.Context, rawURL string, id pacing.Identity) Outcome {
	name := s.Name()

	u, err := url.Parse(rawURL)
	if err != nil {
		return Fatal(name, 0, fmt.Sprintf("invalid url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Fatal(name, 0, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Fatal(name, 0, fmt.Sprintf("failed to create request: %v", err))
	}
	setBrowserHeaders(req, id)

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return classifyError(name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return Transient(name, resp.StatusCode, fmt.Sprintf("failed to read body: %v", err))
	}

	return s.classifyResponse(resp.StatusCode, body)
}

func (s *HTTPStrategy) classifyResponse(status int, body []byte) Outcome {
	name := s.Name()

	switch {
	case s.detector.IsChallengeStatus(status):
		return Challenge(name, status, fmt.Sprintf("challenge status %d", status))
	case status == http.StatusOK:
		if marker := s.detector.ChallengeMarker(body); marker != "" {
			return Challenge(name, status, fmt.Sprintf("challenge page: %q", marker))
		}
		return Raw(name, status, body)
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient(name, status, fmt.Sprintf("HTTP %d", status))
	default:
		return Fatal(name, status, fmt.Sprintf("HTTP %d", status))
	}
}

func setBrowserHeaders(req *http.Request, id pacing.Identity) {
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	lang := id.AcceptLanguage
	if lang == "" {
		lang = "zh-CN,zh;q=0.9,en;q=0.8"
	}
	req.Header.Set("Accept-Language", lang)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// classifyError maps a transport error to an outcome. Errors that a retry
// cannot fix are fatal; everything else is transient.
func classifyError(name article.StrategyName, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(name, 0, "timeout")
	}
	if errors.Is(err, context.Canceled) {
		return Fatal(name, 0, "cancelled")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return Fatal(name, 0, fmt.Sprintf("unknown host: %s", dnsErr.Name))
		}
		return Transient(name, 0, fmt.Sprintf("dns: %v", dnsErr))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(name, 0, "timeout")
	}

	if errors.Is(err, errTooManyRedirects) {
		return Fatal(name, 0, errTooManyRedirects.Error())
	}

	return Transient(name, 0, fmt.Sprintf("connection error: %v", err))
}

var _ pacing.Rotator = (*HTTPStrategy)(nil)
