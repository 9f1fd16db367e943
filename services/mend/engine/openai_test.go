// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeCompletions serves a chat completions endpoint that replies with
// the queued contents in order.
func newFakeCompletions(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Less(t, calls, len(replies), "more completions requested than queued")
		reply := replies[calls]
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, srv *httptest.Server) *OpenAIEngine {
	t.Helper()
	eng, err := NewOpenAIEngine(
		memguard.NewEnclave([]byte("test-key")),
		OpenAIOptions{Model: "gpt-4o-mini", BaseURL: srv.URL},
		nil,
	)
	require.NoError(t, err)
	return eng
}

func TestNewOpenAIEngine_Validation(t *testing.T) {
	key := memguard.NewEnclave([]byte("k"))

	_, err := NewOpenAIEngine(nil, OpenAIOptions{Model: "gpt-4o-mini"}, nil)
	assert.Error(t, err)

	_, err = NewOpenAIEngine(key, OpenAIOptions{}, nil)
	assert.Error(t, err)
}

func TestOpenAIEngine_IdentifyFiles(t *testing.T) {
	srv := newFakeCompletions(t,
		`["app/main.py", "app/utils.py"]`,
		"I am not sure which files matter here.",
	)
	eng := newTestEngine(t, srv)

	files, err := eng.IdentifyFiles(context.Background(), IdentifyRequest{
		Summary: "crash", Description: "trace", Listing: "app/main.py\napp/utils.py",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app/main.py", "app/utils.py"}, files)

	// Unparseable output degrades to an empty slice, not an error.
	files, err = eng.IdentifyFiles(context.Background(), IdentifyRequest{
		Summary: "crash", Description: "trace", Listing: "app/main.py",
	})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOpenAIEngine_Review(t *testing.T) {
	srv := newFakeCompletions(t,
		"LGTM",
		"The null check is still missing in parse().",
	)
	eng := newTestEngine(t, srv)

	critique, err := eng.Review(context.Background(), ReviewRequest{
		Summary: "crash", Files: map[string]string{"app/main.py": "fixed"},
	})
	require.NoError(t, err)
	assert.Empty(t, critique)

	critique, err = eng.Review(context.Background(), ReviewRequest{
		Summary: "crash", Files: map[string]string{"app/main.py": "fixed"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The null check is still missing in parse().", critique)
}

func TestOpenAIEngine_ProposeFixAndRewrite(t *testing.T) {
	blocks := "<<<< SEARCH\nold\n==== REPLACE\nnew\n>>>>"
	srv := newFakeCompletions(t, blocks, "print('rewritten')\n")
	eng := newTestEngine(t, srv)

	out, err := eng.ProposeFix(context.Background(), FixRequest{
		Filename: "app/main.py", Content: "old\n", Summary: "bug",
	})
	require.NoError(t, err)
	assert.Equal(t, blocks, out)

	out, err = eng.Rewrite(context.Background(), RewriteRequest{
		Filename: "app/main.py", Content: "old\n", Summary: "bug",
	})
	require.NoError(t, err)
	assert.Equal(t, "print('rewritten')\n", out)
}
