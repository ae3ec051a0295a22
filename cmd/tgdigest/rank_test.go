// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"testing"
	"time"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
	"go.astrophena.name/tgdigest/internal/testutil"
)

func TestRankByRecency(t *testing.T) {
	t.Parallel()

	articles := []newsblur.Article{
		{URL: "https://example.com/old", Published: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/new", Published: time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/undated"},
		{URL: "https://example.com/mid", Published: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)},
	}

	ranked := rankByRecency(articles)

	var urls []string
	for _, a := range ranked {
		urls = append(urls, a.URL)
	}
	testutil.AssertEqual(t, urls, []string{
		"https://example.com/new",
		"https://example.com/mid",
		"https://example.com/old",
		"https://example.com/undated",
	})

	// The input order is left intact.
	testutil.AssertEqual(t, articles[0].URL, "https://example.com/old")
}

func TestRankByRecencyStable(t *testing.T) {
	t.Parallel()

	when := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	articles := []newsblur.Article{
		{URL: "https://example.com/1", Published: when},
		{URL: "https://example.com/2", Published: when},
		{URL: "https://example.com/3", Published: when},
	}

	ranked := rankByRecency(articles)
	testutil.AssertEqual(t, ranked, articles)
}

func TestSelectArticles(t *testing.T) {
	t.Parallel()

	d := configDigester(t)
	d.maxArticles = 2
	var err error
	d.cfg, err = d.parseConfig(`
block_rule = lambda article: "skip" in article.url
keep_rule = lambda article: article.source == "newsblur/1"
`)
	if err != nil {
		t.Fatal(err)
	}
	d.rank = rankByRecency

	articles := []newsblur.Article{
		{URL: "https://example.com/skip-me", Source: "newsblur/1", Published: time.Date(2025, time.August, 5, 0, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/other-feed", Source: "newsblur/2", Published: time.Date(2025, time.August, 4, 0, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/a", Source: "newsblur/1", Published: time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/b", Source: "newsblur/1", Published: time.Date(2025, time.August, 2, 0, 0, 0, 0, time.UTC)},
		{URL: "https://example.com/c", Source: "newsblur/1", Published: time.Date(2025, time.August, 3, 0, 0, 0, 0, time.UTC)},
	}

	got := d.selectArticles(articles)

	var urls []string
	for _, a := range got {
		urls = append(urls, a.URL)
	}
	// Blocked and foreign articles are dropped, the newest two survivors win.
	testutil.AssertEqual(t, urls, []string{
		"https://example.com/c",
		"https://example.com/b",
	})
	testutil.AssertNotContains(t, urls, "https://example.com/skip-me")
	testutil.AssertNotContains(t, urls, "https://example.com/other-feed")
}

func TestSelectArticlesNoRules(t *testing.T) {
	t.Parallel()

	d := configDigester(t)
	d.maxArticles = 10
	d.cfg = new(config)
	d.rank = rankByRecency

	got := d.selectArticles(testArticles(3))
	testutil.AssertEqual(t, len(got), 3)

	got = d.selectArticles(nil)
	testutil.AssertEqual(t, len(got), 0)
}
