// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"log/slog"
	"slices"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
)

// ranker orders articles by importance, most important first.
type ranker func([]newsblur.Article) []newsblur.Article

// rankByRecency is the default ranker: newest articles first, undated ones
// last. The sort is stable so equally dated articles keep their fetch order.
func rankByRecency(articles []newsblur.Article) []newsblur.Article {
	ranked := slices.Clone(articles)
	slices.SortStableFunc(ranked, func(a, b newsblur.Article) int {
		return b.Published.Compare(a.Published)
	})
	return ranked
}

// selectArticles applies the block and keep rules, ranks the survivors and
// caps the result at maxArticles.
func (d *digester) selectArticles(articles []newsblur.Article) []newsblur.Article {
	var candidates []newsblur.Article
	for _, a := range articles {
		if d.cfg.blockRule != nil && d.applyRule(d.cfg.blockRule, a) {
			d.slog.Debug("article blocked by block rule", slog.String("article", a.URL))
			continue
		}
		if d.cfg.keepRule != nil && !d.applyRule(d.cfg.keepRule, a) {
			d.slog.Debug("article skipped by keep rule", slog.String("article", a.URL))
			continue
		}
		candidates = append(candidates, a)
	}

	ranked := d.rank(candidates)
	if len(ranked) > d.maxArticles {
		ranked = ranked[:d.maxArticles]
	}
	return ranked
}
