// Package store resolves Steam app ids to presentable catalog metadata by
// fetching and parsing the public store page, passing the age check when
// the store interposes one.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public store origin.
	DefaultBaseURL = "https://store.steampowered.com"
	// DefaultCDNBase hosts library artwork.
	DefaultCDNBase = "https://cdn.cloudflare.steamstatic.com"

	defaultTimeout   = 20 * time.Second
	defaultRPM       = 30
	defaultBurst     = 3
	maxResponseBytes = 5 << 20 // 5 MiB
)

// Options configures a [Client]. Zero values select defaults.
type Options struct {
	BaseURL           string
	CDNBase           string
	Language          string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
	// ArchiveDir enables the on-disk page archive when non-empty.
	ArchiveDir string
	// ReusePages serves archived pages instead of fetching.
	ReusePages bool
	// ProbePoster checks the CDN for a library poster on each resolve.
	ProbePoster bool
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client fetches store pages. It is safe for concurrent use; the cookie jar
// is shared and lives only in memory for the client's lifetime.
type Client struct {
	base      *url.URL
	cdnBase   string
	language  string
	userAgent string
	timeout   time.Duration

	http    *http.Client
	jar     http.CookieJar
	limiter *rate.Limiter
	archive *archive
	artwork *artworkProber
	now     func() time.Time
}

// NewClient builds a client from opts.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid store base URL %q", opts.BaseURL)
	}
	if opts.CDNBase == "" {
		opts.CDNBase = DefaultCDNBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = defaultRPM
	}
	if opts.Transport == nil {
		opts.Transport = cleanhttp.DefaultPooledTransport()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		base:      base,
		cdnBase:   opts.CDNBase,
		language:  opts.Language,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		http:      &http.Client{Transport: opts.Transport, Jar: jar},
		jar:       jar,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), defaultBurst),
		now:       time.Now,
	}
	if opts.ArchiveDir != "" {
		c.archive = &archive{dir: opts.ArchiveDir, reuse: opts.ReusePages}
	}
	if opts.ProbePoster {
		c.artwork = newArtworkProber(opts.Transport)
	}
	return c, nil
}

// ///////////////////////////////////////////////
// Resolve
// ///////////////////////////////////////////////

// Resolve fetches and parses the store page for id. The whole operation,
// age check included, is bounded by the configured timeout. Errors wrap
// exactly one of [ErrNotFound], [ErrNetwork] or [ErrParse].
func (c *Client) Resolve(ctx context.Context, id string) (Entry, error) {
	if !validID(id) {
		return Entry{}, fmt.Errorf("%w: invalid app id %q", ErrNotFound, id)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	entry, err := c.resolve(ctx, id)
	if err != nil {
		return Entry{}, classify(err)
	}

	if c.artwork != nil {
		poster := PosterURL(c.cdnBase, id)
		ok, perr := c.artwork.exists(ctx, poster)
		switch {
		case perr != nil:
			slog.Debug("poster probe failed", "app_id", id, "error", perr)
		case ok:
			entry.PosterURL = poster
		}
	}

	entry.ResolvedAt = c.now()
	return entry, nil
}

func (c *Client) resolve(ctx context.Context, id string) (Entry, error) {
	pageURL := c.appURL(id)

	if body, ok := c.archive.load(id); ok {
		doc, err := parseDocument(body)
		if err == nil {
			if entry, err := parseApp(doc, id, pageURL); err == nil {
				slog.Debug("store page served from archive", "app_id", id)
				return entry, nil
			}
		}
		slog.Debug("archived page unusable, refetching", "app_id", id)
	}

	doc, body, landed, err := c.fetchApp(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	entry, err := parseApp(doc, id, landed)
	if err != nil {
		return Entry{}, err
	}
	if err := c.archive.store(id, body); err != nil {
		slog.Warn("failed to archive store page", "app_id", id, "error", err)
	}
	return entry, nil
}

// ///////////////////////////////////////////////
// Fetch State Machine
// ///////////////////////////////////////////////

// fetchApp loads the app page, passing the age check at most once:
//
//	stepFetch -> (page) done
//	stepFetch -> stepGateDetected -> stepSubmitGate -> stepFetch -> done
//
// A second interstitial after submitting means the store will not show the
// page, which is reported as not found. At most two page fetches happen.
func (c *Client) fetchApp(ctx context.Context, id string) (*html.Node, []byte, *url.URL, error) {
	pageURL := c.appURL(id)

	var (
		step    = stepFetch
		fetches int
		doc     *html.Node
		body    []byte
		landed  *url.URL
		form    gateForm
	)
	for {
		switch step {
		case stepFetch:
			fetches++
			var err error
			body, landed, err = c.getPage(ctx, pageURL)
			if err != nil {
				return nil, nil, nil, err
			}
			doc, err = parseDocument(body)
			if err != nil {
				return nil, nil, nil, err
			}
			if isGate(doc, landed) {
				if fetches > 1 {
					return nil, nil, nil, fmt.Errorf("%w: app %s: age check persisted after submission", ErrNotFound, id)
				}
				step = stepGateDetected
				continue
			}
			if !onAppPage(landed, id) {
				return nil, nil, nil, fmt.Errorf("%w: app %s: redirected to %s", ErrNotFound, id, landed.Path)
			}
			return doc, body, landed, nil

		case stepGateDetected:
			slog.Debug("age check detected", "app_id", id, "landed", landed.String())
			form = buildGateForm(doc, landed, c.base, id, c.cookie("sessionid"))
			step = stepSubmitGate

		case stepSubmitGate:
			if err := c.postForm(ctx, form); err != nil {
				return nil, nil, nil, err
			}
			step = stepFetch
		}
	}
}

// onAppPage reports whether the final URL is still the app's own page.
func onAppPage(landed *url.URL, id string) bool {
	p := strings.TrimRight(landed.Path, "/")
	prefix := "/app/" + id
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

func (c *Client) appURL(id string) *url.URL {
	u := c.base.ResolveReference(&url.URL{Path: AppPath(id)})
	if c.language != "" {
		u.RawQuery = url.Values{"l": {c.language}}.Encode()
	}
	return u
}

// getPage performs a rate-limited GET and returns the body and the URL the
// request finally landed on after redirects.
func (c *Client) getPage(ctx context.Context, u *url.URL) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := c.do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, nil, fmt.Errorf("%w: GET %s: status %d", ErrNotFound, u.Path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, nil, fmt.Errorf("%w: GET %s: status %d", ErrNetwork, u.Path, resp.StatusCode)
	}

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: GET %s: %w", ErrNetwork, u.Path, err)
	}
	return body, resp.Request.URL, nil
}

// postForm submits the age check form. The response body is discarded;
// its only effect that matters is the cookies it sets.
func (c *Client) postForm(ctx context.Context, f gateForm) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.action.String(), strings.NewReader(f.values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: POST %s: status %d", ErrNetwork, f.action.Path, resp.StatusCode)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Wait fails early when the deadline cannot accommodate the delay.
		return nil, fmt.Errorf("rate limit: %w", context.DeadlineExceeded)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

// cookie returns a cookie value the jar holds for the store origin.
func (c *Client) cookie(name string) string {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBytes {
		return nil, errors.New("response exceeds size limit")
	}
	return body, nil
}
