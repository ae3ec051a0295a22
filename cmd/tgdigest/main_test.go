// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/tgdigest/internal/api/newsblur"
	"go.astrophena.name/tgdigest/internal/api/openai"
	"go.astrophena.name/tgdigest/internal/api/telegram"
	"go.astrophena.name/tgdigest/internal/cli"
	"go.astrophena.name/tgdigest/internal/cli/clitest"
	"go.astrophena.name/tgdigest/internal/creds"
	"go.astrophena.name/tgdigest/internal/testutil"

	"github.com/cenkalti/backoff/v4"
)

var update = flag.Bool("update", false, "update golden files")

var validEnv = map[string]string{
	creds.EnvNewsBlurUser: "user",
	creds.EnvNewsBlurPass: "pass",
	creds.EnvTeleToken:    "token",
	creds.EnvTeleChat:     "chat",
	creds.EnvOpenAIAPIKey: "sk-test",
}

func testDigester(t *testing.T) *digester {
	t.Helper()
	return &digester{
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func runDigester(t *testing.T, d *digester, env map[string]string, stderr io.Writer) error {
	t.Helper()
	if stderr == nil {
		stderr = io.Discard
	}
	e := &cli.Env{
		Getenv: func(key string) string { return env[key] },
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: stderr,
	}
	return d.Run(cli.WithEnv(t.Context(), e))
}

func testArticles(n int) []newsblur.Article {
	var as []newsblur.Article
	for i := range n {
		as = append(as, newsblur.Article{
			Title:     fmt.Sprintf("Article %d", i+1),
			Content:   fmt.Sprintf("Content %d", i+1),
			URL:       fmt.Sprintf("https://example.com/%d", i+1),
			Source:    "newsblur/1",
			Published: time.Date(2025, time.June, 1, 12, i, 0, 0, time.UTC),
		})
	}
	return as
}

func TestCLI(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) *digester {
		d := testDigester(t)
		d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(1), nil }
		d.complete = func(context.Context, string, string) (string, error) { return "Summary.", nil }
		d.send = func(context.Context, *creds.Set, string) error { return nil }
		return d
	}

	clitest.Run(t, setup, map[string]clitest.Case[*digester]{
		"prints version": {
			Args:    []string{"-version"},
			WantErr: cli.ErrExitVersion,
		},
		"fails without credentials": {
			Args:        []string{},
			WantErrType: &creds.MissingCredentialError{},
		},
		"completes with credentials": {
			Args: []string{},
			Env:  validEnv,
			CheckFunc: func(t *testing.T, d *digester) {
				testutil.AssertEqual(t, d.state.String(), stateDone.String())
			},
		},
		"dry run logs the digest": {
			Args:         []string{"-dry"},
			Env:          validEnv,
			WantInStderr: "Dry run",
		},
	})
}

func TestRunMissingCredential(t *testing.T) {
	t.Parallel()

	for key := range validEnv {
		t.Run(key, func(t *testing.T) {
			t.Parallel()

			env := maps.Clone(validEnv)
			delete(env, key)

			d := testDigester(t)
			d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) {
				t.Fatal("fetch should not be called without credentials")
				return nil, nil
			}

			err := runDigester(t, d, env, nil)
			var missingErr *creds.MissingCredentialError
			if !errors.As(err, &missingErr) {
				t.Fatalf("Run() error = %v, want MissingCredentialError", err)
			}
			testutil.AssertEqual(t, missingErr.Key, key)
			testutil.AssertEqual(t, d.state.String(), stateFailed.String())
		})
	}
}

func TestRunNoArticles(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return nil, nil }
	d.complete = func(context.Context, string, string) (string, error) {
		t.Fatal("complete should not be called without articles")
		return "", nil
	}
	var sends int
	d.send = func(context.Context, *creds.Set, string) error {
		sends++
		return nil
	}

	err := runDigester(t, d, validEnv, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, sends, 0)
	testutil.AssertEqual(t, d.state.String(), stateDone.String())
}

func TestRunSendsSingleDigest(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(3), nil }
	d.complete = func(_ context.Context, _, user string) (string, error) {
		return "Summary of: " + user, nil
	}
	var sent []string
	d.send = func(_ context.Context, _ *creds.Set, text string) error {
		sent = append(sent, text)
		return nil
	}

	err := runDigester(t, d, validEnv, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, d.state.String(), stateDone.String())

	// All articles are delivered in a single message.
	testutil.AssertEqual(t, len(sent), 1)
	for i := 1; i <= 3; i++ {
		if !strings.Contains(sent[0], fmt.Sprintf("Article %d", i)) {
			t.Fatalf("digest does not mention article %d:\n%s", i, sent[0])
		}
	}
}

func TestRunRetriesRateLimitedCompletion(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(1), nil }
	var calls int
	d.complete = func(context.Context, string, string) (string, error) {
		calls++
		if calls <= 2 {
			return "", openai.ErrRateLimited
		}
		return "Made it.", nil
	}
	d.send = func(context.Context, *creds.Set, string) error { return nil }

	err := runDigester(t, d, validEnv, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, calls, 3)
	testutil.AssertEqual(t, d.state.String(), stateDone.String())
}

func TestRunRateLimitExhausted(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(1), nil }
	var calls int
	d.complete = func(context.Context, string, string) (string, error) {
		calls++
		return "", openai.ErrRateLimited
	}
	d.send = func(context.Context, *creds.Set, string) error {
		t.Fatal("send should not be called when summarization fails")
		return nil
	}

	err := runDigester(t, d, validEnv, nil)
	if !errors.Is(err, openai.ErrRateLimited) {
		t.Fatalf("Run() error = %v, want %v", err, openai.ErrRateLimited)
	}
	testutil.AssertEqual(t, calls, completionRetryLimit+1)
	testutil.AssertEqual(t, d.state.String(), stateFailed.String())
}

func TestRunChatNotFound(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(1), nil }
	d.complete = func(context.Context, string, string) (string, error) { return "Summary.", nil }
	var sends int
	d.send = func(context.Context, *creds.Set, string) error {
		sends++
		return telegram.ErrChatNotFound
	}

	err := runDigester(t, d, validEnv, nil)
	if !errors.Is(err, telegram.ErrChatNotFound) {
		t.Fatalf("Run() error = %v, want %v", err, telegram.ErrChatNotFound)
	}
	// A misconfigured chat is not retryable.
	testutil.AssertEqual(t, sends, 1)
	testutil.AssertEqual(t, d.state.String(), stateFailed.String())
}

func TestRunAuthenticationFailure(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) {
		return nil, newsblur.ErrAuthenticationFailed
	}

	err := runDigester(t, d, validEnv, nil)
	if !errors.Is(err, newsblur.ErrAuthenticationFailed) {
		t.Fatalf("Run() error = %v, want %v", err, newsblur.ErrAuthenticationFailed)
	}
	testutil.AssertEqual(t, d.state.String(), stateFailed.String())
}

func TestRunAlreadyRunning(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.running.Store(true)

	err := runDigester(t, d, validEnv, nil)
	if !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("Run() error = %v, want %v", err, errAlreadyRunning)
	}
}

func TestRunDry(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.dry = true
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(2), nil }
	d.complete = func(context.Context, string, string) (string, error) { return "Summary.", nil }
	d.send = func(context.Context, *creds.Set, string) error {
		t.Fatal("send should not be called in dry-run mode")
		return nil
	}

	var stderr bytes.Buffer
	err := runDigester(t, d, validEnv, &stderr)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, d.state.String(), stateDone.String())
	if !strings.Contains(stderr.String(), "New important articles") {
		t.Fatalf("dry run should log the digest, got:\n%s", stderr.String())
	}
}

func TestRunMaxArticles(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.maxArticles = 2
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(10), nil }
	var summarized int
	d.complete = func(context.Context, string, string) (string, error) {
		summarized++
		return "Summary.", nil
	}
	var sent []string
	d.send = func(_ context.Context, _ *creds.Set, text string) error {
		sent = append(sent, text)
		return nil
	}

	err := runDigester(t, d, validEnv, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, summarized, 2)

	// The default ranker puts the newest articles first.
	testutil.AssertEqual(t, len(sent), 1)
	if !strings.Contains(sent[0], "Article 10") || !strings.Contains(sent[0], "Article 9") {
		t.Fatalf("digest should contain the newest articles:\n%s", sent[0])
	}
	if strings.Contains(sent[0], "Article 1<") {
		t.Fatalf("digest should not contain older articles:\n%s", sent[0])
	}
}

func TestRunImportanceFilter(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.importance = true
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(2), nil }
	d.complete = func(_ context.Context, system, user string) (string, error) {
		if system == importanceSystemPrompt {
			if strings.Contains(user, "Content 2") {
				return "important", nil
			}
			return "not important", nil
		}
		return "Summary.", nil
	}
	var sent []string
	d.send = func(_ context.Context, _ *creds.Set, text string) error {
		sent = append(sent, text)
		return nil
	}

	err := runDigester(t, d, validEnv, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, len(sent), 1)
	if !strings.Contains(sent[0], "Article 2") {
		t.Fatalf("digest should contain the important article:\n%s", sent[0])
	}
	if strings.Contains(sent[0], "Article 1") {
		t.Fatalf("digest should not contain the unimportant article:\n%s", sent[0])
	}
}

func TestRunImportanceFilterRejectsEverything(t *testing.T) {
	t.Parallel()

	d := testDigester(t)
	d.importance = true
	d.fetch = func(context.Context, *creds.Set) ([]newsblur.Article, error) { return testArticles(3), nil }
	d.complete = func(context.Context, string, string) (string, error) { return "not important", nil }
	var sends int
	d.send = func(context.Context, *creds.Set, string) error {
		sends++
		return nil
	}

	err := runDigester(t, d, validEnv, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, sends, 0)
	testutil.AssertEqual(t, d.state.String(), stateDone.String())
}

func TestRunCredentialsFromFile(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for key, val := range validEnv {
		fmt.Fprintf(&sb, "%s=%s\n", key, val)
	}
	path := filepath.Join(t.TempDir(), "credentials.env")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	d := testDigester(t)
	d.credsPath = path
	var gotUser string
	d.fetch = func(_ context.Context, set *creds.Set) ([]newsblur.Article, error) {
		gotUser = set.NewsBlurUser
		return nil, nil
	}

	// Empty process environment; everything comes from the file.
	err := runDigester(t, d, nil, nil)
	testutil.AssertEqual(t, err, nil)
	testutil.AssertEqual(t, gotUser, "user")
}

func TestBuildDigest(t *testing.T) {
	t.Parallel()

	testutil.RunGolden(t, "testdata/digest/*.json", func(t *testing.T, match string) []byte {
		b, err := os.ReadFile(match)
		if err != nil {
			t.Fatal(err)
		}
		articles := testutil.UnmarshalJSON[[]newsblur.Article](t, b)

		d := testDigester(t)
		complete := func(context.Context, string, string) (string, error) {
			return "A short, factual summary.", nil
		}

		digest, err := d.buildDigest(t.Context(), complete, articles)
		if err != nil {
			t.Fatal(err)
		}
		return []byte(digest)
	}, *update)
}
