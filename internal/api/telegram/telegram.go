// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements message delivery over the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/tgdigest/internal/request"
)

// APIEndpoint is the base URL of the Telegram Bot API.
const APIEndpoint = "https://api.telegram.org"

const (
	sendRetryLimit   = 5    // N attempts to retry message sending
	messageRuneLimit = 4096 // Bot API limit on message length
)

// Some types of errors the Bot API can report.
var (
	ErrAuthenticationFailed = errors.New("telegram: authentication failed")
	ErrChatNotFound         = errors.New("telegram: chat not found")
)

// Config configures a Telegram sender.
type Config struct {
	ChatID     string
	Token      string
	BaseURL    string // overrides APIEndpoint, used in tests
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
	Logger     *slog.Logger
}

// Sender sends messages to a fixed chat via the Telegram Bot API.
type Sender struct {
	chatID      string
	token       string
	baseURL     string
	httpc       *http.Client
	scrubber    *strings.Replacer
	slog        *slog.Logger
	makeRequest func(context.Context, string, any) error
	sleep       func(context.Context, time.Duration) bool
}

// New returns a Telegram sender configured for a specific chat.
func New(cfg Config) *Sender {
	s := &Sender{
		chatID:   cfg.ChatID,
		token:    cfg.Token,
		baseURL:  cfg.BaseURL,
		httpc:    cfg.HTTPClient,
		scrubber: cfg.Scrubber,
		slog:     cfg.Logger,
	}
	if s.baseURL == "" {
		s.baseURL = APIEndpoint
	}
	if s.httpc == nil {
		s.httpc = request.DefaultClient
	}
	if s.slog == nil {
		s.slog = slog.Default()
	}
	s.makeRequest = s.makeTelegramRequest
	s.sleep = sleep
	return s
}

type message struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Send delivers text to the configured chat as an HTML-formatted message,
// splitting it into several messages when it exceeds the Bot API length
// limit. Rate-limited sends are retried a bounded number of times; all other
// failures surface immediately.
func (s *Sender) Send(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text) {
		msg := &message{
			ChatID:    s.chatID,
			Text:      chunk,
			ParseMode: "HTML",
		}
		msg.LinkPreviewOptions.IsDisabled = true

		var err error
		for range sendRetryLimit {
			err = s.makeRequest(ctx, "sendMessage", msg)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable {
				break
			}

			s.slog.Warn("sending rate limited, waiting", slog.String("chat_id", s.chatID), slog.Duration("wait", wait))
			if !s.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if err != nil {
			return classifyError(err)
		}
	}
	return nil
}

func (s *Sender) makeTelegramRequest(ctx context.Context, method string, args any) error {
	if _, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        s.baseURL + "/bot" + s.token + "/" + method,
		Body:       args,
		HTTPClient: s.httpc,
		Scrubber:   s.scrubber,
	}); err != nil {
		return err
	}
	return nil
}

// classifyError maps Bot API failures that need special handling by callers
// onto sentinel errors.
func classifyError(err error) error {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	switch statusErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthenticationFailed
	case http.StatusBadRequest:
		var errorResponse struct {
			Description string `json:"description"`
		}
		if jsonErr := json.Unmarshal(statusErr.Body, &errorResponse); jsonErr == nil {
			if strings.Contains(strings.ToLower(errorResponse.Description), "chat not found") {
				return ErrChatNotFound
			}
		}
	}
	return err
}

func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= messageRuneLimit {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= messageRuneLimit {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)

		for i, r := range text {
			if runeCount == messageRuneLimit {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		chunk := strings.TrimSpace(text[:splitAt])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}

	return chunks
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
