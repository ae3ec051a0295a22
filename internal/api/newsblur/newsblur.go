// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package newsblur provides a client for a subset of the NewsBlur API.
package newsblur

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/tgdigest/internal/request"
	"go.astrophena.name/tgdigest/internal/util/syncx"
)

// APIEndpoint is the base URL of the NewsBlur API.
const APIEndpoint = "https://www.newsblur.com"

// ErrAuthenticationFailed is returned by [Client.Login] when NewsBlur rejects
// the provided username or password.
var ErrAuthenticationFailed = errors.New("newsblur: authentication failed")

// Client is an authenticated NewsBlur session. Login must be called before
// fetching stories.
type Client struct {
	// Username and Password are the NewsBlur account credentials.
	Username string
	Password string
	// BaseURL overrides APIEndpoint. Used in tests.
	BaseURL string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient. The client is cloned so that the NewsBlur session
	// cookie can be kept in a jar without touching the original.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer

	httpc syncx.Lazy[*http.Client]
}

// Article is a single story fetched from NewsBlur. Articles are read-only
// once created.
type Article struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	Published time.Time `json:"published"`
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return APIEndpoint
}

// client returns the HTTP client used for all NewsBlur requests. NewsBlur
// authenticates follow-up requests with a session cookie, so the client
// carries a cookie jar.
func (c *Client) client() *http.Client {
	return c.httpc.Get(func() *http.Client {
		base := c.HTTPClient
		if base == nil {
			base = request.DefaultClient
		}
		clone := *base
		if clone.Jar == nil {
			// cookiejar.New never fails with nil options.
			clone.Jar, _ = cookiejar.New(nil)
		}
		return &clone
	})
}

type loginResponse struct {
	Authenticated bool `json:"authenticated"`
}

// Login establishes a NewsBlur session. It reports
// [ErrAuthenticationFailed] when the credentials are rejected; any other
// failure means the service was unreachable or misbehaving.
func (c *Client) Login(ctx context.Context) error {
	resp, err := request.Make[loginResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.baseURL() + "/api/login",
		Form: url.Values{
			"username": {c.Username},
			"password": {c.Password},
		},
		HTTPClient: c.client(),
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return ErrAuthenticationFailed
		}
		return err
	}
	if !resp.Authenticated {
		return ErrAuthenticationFailed
	}
	return nil
}

type story struct {
	Title     string `json:"story_title"`
	Content   string `json:"story_content"`
	Permalink string `json:"story_permalink"`
	Date      string `json:"story_date"`
	FeedID    int64  `json:"story_feed_id"`
}

type riverResponse struct {
	Stories []story `json:"stories"`
}

// RiverStories fetches the current stories across all subscribed feeds. An
// empty slice is a valid result, not an error. Story order is whatever
// NewsBlur returns; callers must not rely on it.
func (c *Client) RiverStories(ctx context.Context) ([]Article, error) {
	resp, err := request.Make[riverResponse](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        c.baseURL() + "/reader/river_stories",
		HTTPClient: c.client(),
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	articles := make([]Article, 0, len(resp.Stories))
	for _, s := range resp.Stories {
		articles = append(articles, Article{
			Title:     s.Title,
			Content:   s.Content,
			URL:       s.Permalink,
			Source:    "newsblur/" + strconv.FormatInt(s.FeedID, 10),
			Published: parseStoryDate(s.Date),
		})
	}
	return articles, nil
}

// parseStoryDate parses the timestamp format NewsBlur uses for stories,
// falling back to the zero time so that undated stories rank last.
func parseStoryDate(date string) time.Time {
	for _, format := range []string{
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if t, err := time.Parse(format, date); err == nil {
			return t
		}
	}
	return time.Time{}
}
