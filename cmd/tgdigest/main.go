// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
	"go.astrophena.name/tgdigest/internal/api/openai"
	"go.astrophena.name/tgdigest/internal/api/telegram"
	"go.astrophena.name/tgdigest/internal/cli"
	"go.astrophena.name/tgdigest/internal/creds"
	"go.astrophena.name/tgdigest/internal/logger"
	"go.astrophena.name/tgdigest/internal/request"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
)

func main() { cli.Main(new(digester)) }

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxArticles = 5
)

var errAlreadyRunning = errors.New("already running")

// runState tracks the progress of a pipeline run.
type runState int

const (
	stateIdle runState = iota
	stateLoadingCredentials
	stateFetching
	stateSummarizing
	stateNotifying
	stateDone
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLoadingCredentials:
		return "loading credentials"
	case stateFetching:
		return "fetching"
	case stateSummarizing:
		return "summarizing"
	case stateNotifying:
		return "notifying"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("runState(%d)", int(s))
}

type (
	fetchFunc    func(ctx context.Context, set *creds.Set) ([]newsblur.Article, error)
	completeFunc func(ctx context.Context, system, user string) (string, error)
	sendFunc     func(ctx context.Context, set *creds.Set, text string) error
)

type digester struct {
	running atomic.Bool
	init    sync.Once

	// flags
	credsPath   string
	configPath  string
	dry         bool
	verbose     bool
	importance  bool
	maxArticles int
	model       string

	// initialized by doInit
	httpc     *http.Client
	fp        *gofeed.Parser
	logf      logger.Logf
	slog      *slog.Logger
	slogLevel *slog.LevelVar

	// parsed from config.star
	cfg *config

	// pipeline stage implementations, replaceable in tests
	fetch      fetchFunc
	complete   completeFunc
	send       sendFunc
	rank       ranker
	newBackOff func() backoff.BackOff

	// overridden in tests
	newsBlurURL string
	openAIURL   string
	telegramURL string

	state runState
}

func (d *digester) Flags(fs *flag.FlagSet) {
	fs.StringVar(&d.credsPath, "credentials", "", "Load credentials from dotenv `file` instead of the environment.")
	fs.StringVar(&d.configPath, "config", "", "Load extra feeds and article rules from Starlark `file`.")
	fs.BoolVar(&d.dry, "dry", false, "Build the digest, log it, but don't send it.")
	fs.BoolVar(&d.verbose, "verbose", false, "Enable debug logging.")
	fs.BoolVar(&d.importance, "importance", false, "Ask the completion service to drop unimportant articles.")
	fs.IntVar(&d.maxArticles, "max-articles", defaultMaxArticles, "Summarize at most `n` top articles.")
	fs.StringVar(&d.model, "model", defaultModel, "Completion `model` used for summaries.")
}

func (d *digester) doInit(ctx context.Context) {
	env := cli.GetEnv(ctx)

	d.logf = env.Logf
	d.slogLevel = new(slog.LevelVar)
	d.slog = slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{Level: d.slogLevel}))

	if d.httpc == nil {
		d.httpc = request.DefaultClient
	}
	d.fp = gofeed.NewParser()
	d.fp.Client = d.httpc

	if d.maxArticles <= 0 {
		d.maxArticles = defaultMaxArticles
	}
	if d.model == "" {
		d.model = defaultModel
	}
	if d.rank == nil {
		d.rank = rankByRecency
	}
	if d.newBackOff == nil {
		d.newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
}

// Run performs a single pipeline run. Only one run can be active at a time;
// overlapping invocations fail with errAlreadyRunning.
func (d *digester) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer d.running.Store(false)

	d.init.Do(func() { d.doInit(ctx) })
	if d.dry || d.verbose {
		d.slogLevel.Set(slog.LevelDebug)
	}

	return d.run(ctx)
}

func (d *digester) run(ctx context.Context) (err error) {
	env := cli.GetEnv(ctx)
	defer func() {
		if err != nil {
			d.transition(stateFailed)
		}
	}()

	d.transition(stateLoadingCredentials)
	set, err := d.loadCreds(env)
	if err != nil {
		return err
	}

	if d.cfg == nil {
		d.cfg = new(config)
		if d.configPath != "" {
			src, err := os.ReadFile(d.configPath)
			if err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
			d.cfg, err = d.parseConfig(string(src))
			if err != nil {
				return fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	d.transition(stateFetching)
	fetch := d.fetch
	if fetch == nil {
		fetch = d.fetchArticles
	}
	articles, err := fetch(ctx, set)
	if err != nil {
		return fmt.Errorf("fetching articles: %w", err)
	}

	selected := d.selectArticles(articles)
	if len(selected) == 0 {
		d.logf("No articles to summarize.")
		d.transition(stateDone)
		return nil
	}

	d.transition(stateSummarizing)
	complete := d.complete
	if complete == nil {
		c := &openai.Client{
			APIKey:     set.OpenAIAPIKey,
			Model:      d.model,
			BaseURL:    d.openAIURL,
			HTTPClient: d.httpc,
			Scrubber:   set.Scrubber(),
		}
		complete = c.Complete
	}
	digest, err := d.buildDigest(ctx, complete, selected)
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}
	if digest == "" {
		d.logf("No important articles.")
		d.transition(stateDone)
		return nil
	}

	d.transition(stateNotifying)
	if d.dry {
		d.logf("Dry run, not sending the digest:\n%s", digest)
		d.transition(stateDone)
		return nil
	}
	send := d.send
	if send == nil {
		send = d.sendDigest
	}
	if err := send(ctx, set, digest); err != nil {
		return fmt.Errorf("sending digest: %w", err)
	}

	d.transition(stateDone)
	return nil
}

func (d *digester) transition(next runState) {
	d.slog.Debug("pipeline state change", slog.String("from", d.state.String()), slog.String("to", next.String()))
	d.state = next
}

func (d *digester) loadCreds(env *cli.Env) (*creds.Set, error) {
	if d.credsPath != "" {
		return creds.LoadFile(d.credsPath)
	}
	return creds.Load(env.Getenv)
}

func (d *digester) fetchArticles(ctx context.Context, set *creds.Set) ([]newsblur.Article, error) {
	client := &newsblur.Client{
		Username:   set.NewsBlurUser,
		Password:   set.NewsBlurPass,
		BaseURL:    d.newsBlurURL,
		HTTPClient: d.httpc,
		Scrubber:   set.Scrubber(),
	}
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	articles, err := client.RiverStories(ctx)
	if err != nil {
		return nil, err
	}
	d.slog.Debug("fetched river stories", slog.Int("count", len(articles)))
	return append(articles, d.fetchExtraFeeds(ctx)...), nil
}

func (d *digester) sendDigest(ctx context.Context, set *creds.Set, text string) error {
	s := telegram.New(telegram.Config{
		ChatID:     set.TeleChat,
		Token:      set.TeleToken,
		BaseURL:    d.telegramURL,
		HTTPClient: d.httpc,
		Scrubber:   set.Scrubber(),
		Logger:     d.slog,
	})
	return s.Send(ctx, text)
}
