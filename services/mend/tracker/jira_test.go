// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

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

func newTestClient(t *testing.T, handler http.Handler) (*JiraClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	token := memguard.NewEnclave([]byte("secret-token"))
	client, err := NewJiraClient(srv.URL, "agent@example.com", token, nil)
	require.NoError(t, err)
	return client, srv
}

func TestNewJiraClient_Validation(t *testing.T) {
	token := memguard.NewEnclave([]byte("tok"))

	_, err := NewJiraClient("", "a@b.com", token, nil)
	assert.Error(t, err)

	_, err = NewJiraClient("https://x.example", "", token, nil)
	assert.Error(t, err)

	_, err = NewJiraClient("https://x.example", "a@b.com", nil, nil)
	assert.Error(t, err)
}

func TestJiraClient_Search(t *testing.T) {
	var gotJQL string
	var gotAuthUser, gotAuthPass string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/search", r.URL.Path)
		gotJQL = r.URL.Query().Get("jql")
		gotAuthUser, gotAuthPass, _ = r.BasicAuth()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{
					"key": "BUG-1",
					"fields": map[string]any{
						"summary":     "crash on startup",
						"description": "stack trace attached",
						"status":      map[string]string{"name": "To Do"},
					},
				},
				{
					"key": "BUG-2",
					"fields": map[string]any{
						"summary": "typo in banner",
						"status":  map[string]string{"name": "To Do"},
					},
				},
			},
		})
	}))

	issues, err := client.Search(context.Background(), `project = BUG ORDER BY created ASC`)
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, `project = BUG ORDER BY created ASC`, gotJQL)
	assert.Equal(t, "agent@example.com", gotAuthUser)
	assert.Equal(t, "secret-token", gotAuthPass)

	assert.Equal(t, "BUG-1", issues[0].Key)
	assert.Equal(t, "crash on startup", issues[0].Summary)
	assert.Equal(t, "stack trace attached", issues[0].Description)
	assert.Equal(t, "To Do", issues[0].Status)
	assert.Empty(t, issues[1].Description)
}

func TestJiraClient_Get(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/2/issue/BUG-7":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"key": "BUG-7",
				"fields": map[string]any{
					"summary": "divide by zero",
					"status":  map[string]string{"name": "In Progress"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	issue, err := client.Get(context.Background(), "BUG-7")
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, "divide by zero", issue.Summary)
	assert.Equal(t, "In Progress", issue.Status)

	missing, err := client.Get(context.Background(), "BUG-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJiraClient_AddNote(t *testing.T) {
	var gotBody map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/api/2/issue/BUG-3/comment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.AddNote(context.Background(), "BUG-3", "Applied fix to app/main.py")
	require.NoError(t, err)
	assert.Equal(t, "Applied fix to app/main.py", gotBody["body"])
}

func TestJiraClient_Transition(t *testing.T) {
	var posted map[string]map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue/BUG-5/transitions", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"transitions": []map[string]string{
					{"id": "11", "name": "Backlog"},
					{"id": "21", "name": "In Progress"},
					{"id": "31", "name": "Done"},
				},
			})
		case http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	// Matching is case-insensitive and takes the first candidate that exists.
	err := client.Transition(context.Background(), "BUG-5", []string{"in progress", "진행 중"})
	require.NoError(t, err)
	require.NotNil(t, posted)
	assert.Equal(t, "21", posted["transition"]["id"])

	err = client.Transition(context.Background(), "BUG-5", []string{"Closed", "완료됨"})
	assert.Error(t, err)
}

func TestJiraClient_ListNotes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue/BUG-9/comment", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"comments": []map[string]string{
				{"body": "first note"},
				{"body": "second note"},
			},
		})
	}))

	notes, err := client.ListNotes(context.Background(), "BUG-9")
	require.NoError(t, err)
	assert.Equal(t, []string{"first note", "second note"}, notes)
}

func TestJiraClient_Ping(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/myself", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"accountId": "abc123"})
	}))
	require.NoError(t, client.Ping(context.Background()))

	failing, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	assert.Error(t, failing.Ping(context.Background()))
}
