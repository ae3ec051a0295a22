// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package creds loads the credentials tgdigest needs to talk to NewsBlur,
// OpenAI and Telegram.
package creds

import (
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables holding the credentials.
const (
	EnvNewsBlurUser = "NEWSBLUR_USER"
	EnvNewsBlurPass = "NEWSBLUR_PASS"
	EnvTeleToken    = "TELE_TOKEN"
	EnvTeleChat     = "TELE_CHAT"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Set holds the credentials for a single pipeline run. It is loaded once at
// startup and passed by argument into each component; values are never
// mutated afterwards.
type Set struct {
	NewsBlurUser string
	NewsBlurPass string
	TeleToken    string
	TeleChat     string
	OpenAIAPIKey string
}

// MissingCredentialError is returned by [Load] and [LoadFile] when a required
// credential is absent or empty. It names the key, never the value.
type MissingCredentialError struct {
	Key string
}

// Error implements the error interface.
func (e *MissingCredentialError) Error() string { return "missing credential " + e.Key }

// Load reads the credential set from the provided environment source. Every
// key must be present and non-empty, otherwise Load fails with a
// [MissingCredentialError] naming the first absent key.
func Load(getenv func(string) string) (*Set, error) {
	s := new(Set)
	for _, c := range []struct {
		key string
		dst *string
	}{
		{EnvNewsBlurUser, &s.NewsBlurUser},
		{EnvNewsBlurPass, &s.NewsBlurPass},
		{EnvTeleToken, &s.TeleToken},
		{EnvTeleChat, &s.TeleChat},
		{EnvOpenAIAPIKey, &s.OpenAIAPIKey},
	} {
		val := getenv(c.key)
		if val == "" {
			return nil, &MissingCredentialError{Key: c.key}
		}
		*c.dst = val
	}
	return s, nil
}

// LoadFile reads the credential set from a dotenv-format file.
func LoadFile(path string) (*Set, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}
	return Load(func(key string) string { return vars[key] })
}

// Scrubber returns a replacer that expunges the set's secrets from error
// messages and logs. The chat ID is not a secret, but there is no reason to
// leak it either.
func (s *Set) Scrubber() *strings.Replacer {
	return strings.NewReplacer(
		s.NewsBlurPass, "[EXPUNGED]",
		s.TeleToken, "[EXPUNGED]",
		s.TeleChat, "[EXPUNGED]",
		s.OpenAIAPIKey, "[EXPUNGED]",
	)
}
