// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"log/slog"
	"sync"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
	"go.astrophena.name/tgdigest/internal/util/syncx"
)

// Maximum number of extra feeds fetched concurrently.
const fetchConcurrencyLimit = 10

// fetchExtraFeeds fetches the RSS/Atom feeds listed in the config in addition
// to the NewsBlur river. A failing feed is logged and skipped so that it
// can't take the whole digest down.
func (d *digester) fetchExtraFeeds(ctx context.Context) []newsblur.Article {
	if len(d.cfg.feeds) == 0 {
		return nil
	}

	var (
		lwg = syncx.NewLimitedWaitGroup(fetchConcurrencyLimit)
		mu  sync.Mutex
		all []newsblur.Article
	)
	for _, fd := range d.cfg.feeds {
		lwg.Go(func() {
			parsed, err := d.fp.ParseURLWithContext(fd.URL, ctx)
			if err != nil {
				d.slog.Warn("fetching extra feed failed", slog.String("feed", fd.URL), slog.Any("error", err))
				return
			}

			source := cmp.Or(fd.Title, parsed.Title, fd.URL)
			var articles []newsblur.Article
			for _, item := range parsed.Items {
				a := newsblur.Article{
					Title:   item.Title,
					Content: cmp.Or(item.Content, item.Description),
					URL:     item.Link,
					Source:  source,
				}
				if item.PublishedParsed != nil {
					a.Published = *item.PublishedParsed
				}
				articles = append(articles, a)
			}

			mu.Lock()
			all = append(all, articles...)
			mu.Unlock()
			d.slog.Debug("fetched extra feed", slog.String("feed", fd.URL), slog.Int("items", len(parsed.Items)))
		})
	}
	lwg.Wait()

	return all
}
