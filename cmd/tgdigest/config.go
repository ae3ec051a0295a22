// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.astrophena.name/tgdigest/internal/api/newsblur"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// config is what a config.star file defines: extra feeds fetched in addition
// to the NewsBlur river, and rules refining which articles make it into the
// digest.
type config struct {
	feeds     []*feed
	blockRule *starlark.Function
	keepRule  *starlark.Function
}

type feed struct {
	URL   string
	Title string
}

func (f *feed) String() string        { return fmt.Sprintf("<feed url=%q>", f.URL) }
func (f *feed) Type() string          { return "feed" }
func (f *feed) Freeze()               {} // immutable
func (f *feed) Truth() starlark.Bool  { return starlark.Bool(f.URL != "") }
func (f *feed) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", f.Type()) }

func feedBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("unexpected positional arguments")
	}
	f := new(feed)
	if err := starlark.UnpackArgs("feed", args, kwargs,
		"url", &f.URL,
		"title?", &f.Title,
	); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *digester) parseConfig(src string) (*config, error) {
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { d.logf("%s", msg) },
		},
		"config.star",
		src,
		starlark.StringDict{
			"feed": starlark.NewBuiltin("feed", feedBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	cfg := new(config)

	if v, ok := globals["feeds"]; ok {
		feedsList, ok := v.(*starlark.List)
		if !ok {
			return nil, errors.New("feeds must be a list")
		}
		iter := feedsList.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			feed, ok := elem.(*feed)
			if !ok {
				return nil, fmt.Errorf("feeds must contain feed values, got %s", elem.Type())
			}
			if _, err := url.Parse(feed.URL); err != nil {
				return nil, fmt.Errorf("invalid URL %q of feed %q", feed.URL, feed.Title)
			}
			cfg.feeds = append(cfg.feeds, feed)
		}
	}

	for _, rule := range []struct {
		name string
		dst  **starlark.Function
	}{
		{"block_rule", &cfg.blockRule},
		{"keep_rule", &cfg.keepRule},
	} {
		v, ok := globals[rule.name]
		if !ok {
			continue
		}
		fn, ok := v.(*starlark.Function)
		if !ok {
			return nil, fmt.Errorf("%s must be a function", rule.name)
		}
		*rule.dst = fn
	}

	return cfg, nil
}

// applyRule runs a block or keep rule against an article. Rule failures and
// non-boolean results are logged and count as false.
func (d *digester) applyRule(rule *starlark.Function, a newsblur.Article) bool {
	val, err := starlark.Call(
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { d.slog.Info(msg) },
		},
		rule,
		starlark.Tuple{articleToStarlark(a)},
		[]starlark.Tuple{},
	)
	if err != nil {
		d.slog.Warn("applying rule for article", "article", a.URL, "error", err)
		return false
	}

	ret, ok := val.(starlark.Bool)
	if !ok {
		d.slog.Warn("rule returned non-boolean value", "article", a.URL)
		return false
	}
	return bool(ret)
}

func articleToStarlark(a newsblur.Article) starlark.Value {
	return starlarkstruct.FromStringDict(
		starlarkstruct.Default,
		starlark.StringDict{
			"title":     starlark.String(a.Title),
			"url":       starlark.String(a.URL),
			"content":   starlark.String(a.Content),
			"source":    starlark.String(a.Source),
			"published": starlark.String(a.Published.Format(time.RFC3339)),
		},
	)
}
