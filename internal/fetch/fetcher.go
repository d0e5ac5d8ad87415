// Package fetch retrieves documents from EDGAR under its published fair-access
// policy: identified traffic, a bounded request rate, and backoff on refusals.
package fetch

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Expected content types accepted by Fetch.
const (
	ContentAny  = ""
	ContentJSON = "json"
	ContentHTML = "html"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxBackoff     = time.Minute
	defaultRequestsPerSec = 10
)

// Options configures a Fetcher. Zero values fall back to conservative defaults,
// except UserAgent which is mandatory.
type Options struct {
	UserAgent         string
	MinDelay          time.Duration
	Jitter            time.Duration
	RequestsPerSecond int
	MaxAttempts       int
	BackoffBase       time.Duration
	MaxBackoff        time.Duration
	Timeout           time.Duration
	HTTPClient        *http.Client
	// OnRetry is called before each backoff sleep with the attempt that failed.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Fetcher issues rate-limited GET requests with retry on transient failures.
// Requests are serialized: concurrent callers queue behind each other.
type Fetcher struct {
	userAgent   string
	client      *http.Client
	limiter     *rate.Limiter
	pacer       *pacer
	maxAttempts int
	backoffBase time.Duration
	maxBackoff  time.Duration
	timeout     time.Duration
	onRetry     func(attempt int, wait time.Duration, err error)
}

// New builds a Fetcher from opts.
func New(opts Options) (*Fetcher, error) {
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		return nil, ErrEmptyUserAgent
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSec
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		userAgent:   userAgent,
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		pacer:       newPacer(opts.MinDelay, opts.Jitter),
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		maxBackoff:  opts.MaxBackoff,
		timeout:     opts.Timeout,
		onRetry:     opts.OnRetry,
	}, nil
}

// Fetch GETs rawURL and returns the response body. expectedContentType is one of
// the Content* constants; a response of another media type fails with
// KindBadContent. Every failure is returned as *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, expectedContentType string) ([]byte, error) {
	var (
		body     []byte
		attempts int
	)
	operation := func() error {
		attempts++
		data, err := f.do(ctx, rawURL, expectedContentType)
		if err != nil {
			var fe *Error
			if errors.As(err, &fe) && fe.Transient() && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Str("url", rawURL).Int("attempt", attempts).Dur("backoff", wait).Err(err).Msg("fetch failed, retrying")
		if f.onRetry != nil {
			f.onRetry(attempts, wait, err)
		}
	}

	err := backoff.RetryNotify(operation, f.newBackOff(ctx), notify)
	if err == nil {
		return body, nil
	}
	var fe *Error
	if !errors.As(err, &fe) {
		// context cancelled between attempts
		fe = &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	fe.Attempts = attempts
	return nil, fe
}

func (f *Fetcher) newBackOff(ctx context.Context) backoff.BackOff {
	expBackOff := backoff.NewExponentialBackOff()
	expBackOff.InitialInterval = f.backoffBase
	expBackOff.Multiplier = 2
	expBackOff.RandomizationFactor = 0
	expBackOff.MaxInterval = f.maxBackoff
	expBackOff.MaxElapsedTime = 0
	expBackOff.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(expBackOff, uint64(f.maxAttempts-1)), ctx)
}

func (f *Fetcher) do(ctx context.Context, rawURL, expectedContentType string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	if err := f.pacer.wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	defer f.pacer.done()

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader(expectedContentType))

	log.Debug().Str("url", rawURL).Msg("fetching")
	httpResponse, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: networkKind(err), URL: rawURL, Err: err}
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if kind, failed := statusKind(httpResponse.StatusCode); failed {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResponse.Body, 4096))
		return nil, &Error{Kind: kind, URL: rawURL, Status: httpResponse.StatusCode}
	}
	if !contentTypeMatches(httpResponse.Header.Get("Content-Type"), expectedContentType) {
		return nil, &Error{
			Kind:   KindBadContent,
			URL:    rawURL,
			Status: httpResponse.StatusCode,
			Err:    errors.New("unexpected content type " + httpResponse.Header.Get("Content-Type")),
		}
	}

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, &Error{Kind: networkKind(err), URL: rawURL, Status: httpResponse.StatusCode, Err: err}
	}
	return body, nil
}

// statusKind maps an HTTP status to a failure kind. 403 is how EDGAR signals a
// rate-limit violation, so it is retried like 429.
func statusKind(status int) (Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return KindRateLimited, true
	case status >= 500:
		return KindServerError, true
	default:
		return KindNotFound, true
	}
}

func networkKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func acceptHeader(expected string) string {
	switch expected {
	case ContentJSON:
		return "application/json"
	case ContentHTML:
		return "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"
	default:
		return "*/*"
	}
}

func contentTypeMatches(header, expected string) bool {
	if expected == ContentAny || header == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = header
	}
	return strings.Contains(strings.ToLower(mediaType), expected)
}
