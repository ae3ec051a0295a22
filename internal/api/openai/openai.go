// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package openai provides a client for the OpenAI Chat Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.astrophena.name/tgdigest/internal/request"
)

// APIEndpoint is the base URL of the OpenAI API.
const APIEndpoint = "https://api.openai.com/v1"

// Some types of errors the completion service can report.
var (
	ErrAuthenticationFailed = errors.New("openai: authentication failed")
	ErrRateLimited          = errors.New("openai: rate limited")
)

// Client holds configuration for interacting with the Chat Completions API.
type Client struct {
	// APIKey is the API key used for authentication.
	APIKey string
	// Model specifies the name of the model to use for completions.
	Model string
	// BaseURL overrides APIEndpoint. Used in tests.
	BaseURL string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// Message is a single chat message.
type Message struct {
	// Role is who authored the message: "system", "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// ChatCompletionParams defines the structure of the request body sent to the
// Chat Completions API.
type ChatCompletionParams struct {
	// Model is the model to use for the completion.
	Model string `json:"model"`
	// Messages is the conversation so far.
	Messages []Message `json:"messages"`
}

// ChatCompletionResponse defines the structure of the response received from
// the Chat Completions API.
type ChatCompletionResponse struct {
	// Choices is a list of completion alternatives; the first one is used.
	Choices []Choice `json:"choices"`
}

// Choice is a single completion alternative.
type Choice struct {
	// Message is the completion message for this choice.
	Message Message `json:"message"`
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return APIEndpoint
}

// ChatCompletion sends a completion request. Authentication and rate limit
// failures are reported as [ErrAuthenticationFailed] and [ErrRateLimited] so
// that callers can decide whether to retry.
func (c *Client) ChatCompletion(ctx context.Context, params ChatCompletionParams) (ChatCompletionResponse, error) {
	resp, err := request.Make[ChatCompletionResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.baseURL() + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + c.APIKey,
		},
		Body:       params,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) {
			switch statusErr.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return resp, ErrAuthenticationFailed
			case http.StatusTooManyRequests:
				return resp, ErrRateLimited
			}
		}
		return resp, err
	}
	return resp, nil
}

// Complete is a convenience wrapper around [Client.ChatCompletion] that sends
// a system and a user message and returns the trimmed text of the first
// choice.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.ChatCompletion(ctx, ChatCompletionParams{
		Model: c.Model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
