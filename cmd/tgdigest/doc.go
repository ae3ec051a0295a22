// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgdigest fetches articles from NewsBlur, summarizes the most important ones
with OpenAI and sends the digest to a Telegram chat.

# Usage

	$ tgdigest [flags...]

One invocation performs one pipeline run: log into NewsBlur, fetch the river
of stories, pick the top articles, summarize each of them and deliver a single
digest message. Recurring delivery is the job of an external scheduler (cron,
systemd timer) that must not overlap runs.

# Environment Variables

The tgdigest program relies on the following environment variables:

  - NEWSBLUR_USER: NewsBlur account username.
  - NEWSBLUR_PASS: NewsBlur account password.
  - TELE_TOKEN: Telegram bot token for accessing the Telegram Bot API.
  - TELE_CHAT: Telegram chat ID where the program sends the digest.
  - OPENAI_API_KEY: OpenAI API key used for summarization.

All five are required. Alternatively, pass the -credentials flag pointing to a
dotenv-format file defining the same variables.

# Configuration

Optionally, tgdigest reads a config.star file (pointed to by the -config
flag), written in Starlark. It can define extra RSS/Atom feeds fetched in
addition to the NewsBlur river, and rules refining which articles make it
into the digest:

	feeds = [
	    feed(url = "https://hnrss.org/newest", title = "Hacker News: Newest"),
	]

	block_rule = lambda article: "pdf" in article.title.lower()
	keep_rule = lambda article: article.source != "newsblur/42"

Block and keep rules are functions that take an article and return a boolean
value. If a block rule returns true, the article is dropped. If a keep rule is
defined, only articles for which it returns true are kept.

The article passed to the rules is a struct with the following keys:

  - title: The title of the article.
  - url: The URL of the article.
  - content: The content of the article.
  - source: The feed the article came from.
  - published: The publication time of the article in RFC 3339 format.

# Article Selection

Articles that survive the rules are ranked by recency and at most
-max-articles of them (5 by default) are forwarded to the completion service.
With the -importance flag, the completion service is additionally asked to
judge every candidate article and only the ones it deems important are
summarized.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/tgdigest/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
