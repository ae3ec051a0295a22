// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
	"go.astrophena.name/tgdigest/internal/testutil"
)

func configDigester(t *testing.T) *digester {
	t.Helper()
	d := testDigester(t)
	d.logf = t.Logf
	d.slog = slog.New(slog.NewTextHandler(io.Discard, nil))
	return d
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	d := configDigester(t)
	cfg, err := d.parseConfig(`
feeds = [
    feed(url = "https://hnrss.org/newest", title = "Hacker News: Newest"),
    feed(url = "https://go.dev/blog/feed.atom"),
]

block_rule = lambda article: "pdf" in article.title.lower()
keep_rule = lambda article: article.source != "newsblur/42"
`)
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, len(cfg.feeds), 2)
	testutil.AssertEqual(t, cfg.feeds[0].URL, "https://hnrss.org/newest")
	testutil.AssertEqual(t, cfg.feeds[0].Title, "Hacker News: Newest")
	testutil.AssertEqual(t, cfg.feeds[1].URL, "https://go.dev/blog/feed.atom")
	if cfg.blockRule == nil || cfg.keepRule == nil {
		t.Fatal("rules are not parsed")
	}
}

func TestParseConfigEmpty(t *testing.T) {
	t.Parallel()

	d := configDigester(t)
	cfg, err := d.parseConfig("")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(cfg.feeds), 0)
	if cfg.blockRule != nil || cfg.keepRule != nil {
		t.Fatal("rules should be absent")
	}
}

func TestParseConfigErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"feeds not a list":          `feeds = "nope"`,
		"block rule not a function": `block_rule = True`,
		"keep rule not a function":  `keep_rule = 42`,
		"syntax error":              `feeds = [`,
		"feeds element not a feed":  `feeds = ["https://example.com"]`,
		"positional feed args":      `feeds = [feed("https://example.com")]`,
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := configDigester(t)
			if _, err := d.parseConfig(src); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}

func TestApplyRule(t *testing.T) {
	t.Parallel()

	d := configDigester(t)
	cfg, err := d.parseConfig(`
block_rule = lambda article: article.source == "newsblur/13" or "[sponsored]" in article.title.lower()
keep_rule = lambda article: article.published.startswith("2025")
`)
	if err != nil {
		t.Fatal(err)
	}

	article := newsblur.Article{
		Title:     "[Sponsored] Buy now",
		URL:       "https://example.com/ad",
		Source:    "newsblur/7",
		Published: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	testutil.AssertEqual(t, d.applyRule(cfg.blockRule, article), true)
	testutil.AssertEqual(t, d.applyRule(cfg.keepRule, article), true)

	article.Title = "Regular news"
	article.Published = time.Date(2019, time.March, 1, 0, 0, 0, 0, time.UTC)
	testutil.AssertEqual(t, d.applyRule(cfg.blockRule, article), false)
	testutil.AssertEqual(t, d.applyRule(cfg.keepRule, article), false)
}

func TestApplyRuleFailuresCountAsFalse(t *testing.T) {
	t.Parallel()

	d := configDigester(t)
	cfg, err := d.parseConfig(`
block_rule = lambda article: article.nonexistent
keep_rule = lambda article: "not a bool"
`)
	if err != nil {
		t.Fatal(err)
	}

	article := newsblur.Article{URL: "https://example.com/1"}
	testutil.AssertEqual(t, d.applyRule(cfg.blockRule, article), false)
	testutil.AssertEqual(t, d.applyRule(cfg.keepRule, article), false)
}
