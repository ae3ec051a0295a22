// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
	"go.astrophena.name/tgdigest/internal/api/openai"

	"github.com/cenkalti/backoff/v4"
)

const (
	summarizeSystemPrompt = "You are a news assistant. Please provide a clear, concise, and engaging " +
		"2-3 sentence summary of the following article content, focusing on the key points and making " +
		"it informative for a general audience."

	importanceSystemPrompt = "You are a news assistant. You will be provided with the content of an " +
		"article. Your task is to determine if the article contains critical or significant information " +
		"that would be of interest to a general audience. Focus on breaking news, impactful events, " +
		"major discoveries, or anything particularly insightful. Please respond with either 'important' " +
		"or 'not important'."

	// N additional attempts after a rate-limited completion call.
	completionRetryLimit = 3
)

// buildDigest summarizes each article and renders the HTML digest message.
// It returns an empty digest when the importance filter rejects every article.
func (d *digester) buildDigest(ctx context.Context, complete completeFunc, articles []newsblur.Article) (string, error) {
	if d.importance {
		articles = d.filterImportant(ctx, complete, articles)
		if len(articles) == 0 {
			return "", nil
		}
	}

	var sb strings.Builder
	sb.WriteString("<b>📰 New important articles:</b>\n\n")
	for _, a := range articles {
		summary, err := d.completeWithRetry(ctx, complete, summarizeSystemPrompt, "Article content: "+a.Content)
		if err != nil {
			return "", fmt.Errorf("summarizing %q: %w", a.URL, err)
		}
		title := a.Title
		if title == "" {
			title = a.URL
		}
		fmt.Fprintf(&sb, "<b>🔗 <a href=%q>%s</a></b>\n%s\n\n", a.URL, html.EscapeString(title), html.EscapeString(summary))
	}
	return strings.TrimSpace(sb.String()), nil
}

// filterImportant asks the completion service to judge each article and keeps
// only the ones it deems important. An article whose check fails is skipped,
// not fatal: a single flaky call shouldn't kill the whole digest.
func (d *digester) filterImportant(ctx context.Context, complete completeFunc, articles []newsblur.Article) []newsblur.Article {
	var kept []newsblur.Article
	for _, a := range articles {
		verdict, err := d.completeWithRetry(ctx, complete, importanceSystemPrompt, "Article content: "+a.Content)
		if err != nil {
			d.slog.Warn("importance check failed", slog.String("article", a.URL), slog.Any("error", err))
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(verdict), "important") {
			d.slog.Debug("article judged not important", slog.String("article", a.URL))
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// completeWithRetry calls the completion service, backing off and retrying
// when it reports a rate limit. Any other error fails immediately.
func (d *digester) completeWithRetry(ctx context.Context, complete completeFunc, system, user string) (string, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), completionRetryLimit), ctx)
	return backoff.RetryWithData(func() (string, error) {
		out, err := complete(ctx, system, user)
		if err != nil && !errors.Is(err, openai.ErrRateLimited) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, bo)
}
