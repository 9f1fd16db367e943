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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// defaultTimeout bounds each Jira request.
const defaultTimeout = 30 * time.Second

// JiraClient implements Tracker against the Jira Cloud REST v2 API.
//
// The API token lives in a memguard enclave and is decrypted only for the
// duration of signing a request.
type JiraClient struct {
	baseURL    string
	email      string
	token      *memguard.Enclave
	httpClient *http.Client
	logger     *slog.Logger
}

// NewJiraClient creates a Jira client.
//
// Inputs:
//
//	baseURL - Server base URL, e.g. "https://example.atlassian.net".
//	email - Account email for basic auth.
//	token - API token enclave. Must not be nil.
//	logger - Structured logger. slog.Default() when nil.
//
// Outputs:
//
//	*JiraClient - The client.
//	error - Non-nil on invalid arguments.
func NewJiraClient(baseURL, email string, token *memguard.Enclave, logger *slog.Logger) (*JiraClient, error) {
	if baseURL == "" || email == "" {
		return nil, fmt.Errorf("tracker: server URL and email are required")
	}
	if token == nil {
		return nil, fmt.Errorf("tracker: API token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JiraClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}, nil
}

// Ping verifies the server is reachable and the credentials work.
// Intended for startup: a failure here is fatal per the agent's error
// policy, unlike the transient failures tolerated in the poll loop.
func (c *JiraClient) Ping(ctx context.Context) error {
	var out struct {
		AccountID string `json:"accountId"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/2/myself", nil, &out); err != nil {
		return fmt.Errorf("tracker: ping failed: %w", err)
	}
	c.logger.Info("connected to tracker", slog.String("server", c.baseURL))
	return nil
}

// issueFields is the subset of Jira issue fields the agent reads.
type issueFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
}

type issuePayload struct {
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

func (p *issuePayload) toIssue() Issue {
	return Issue{
		Key:         p.Key,
		Summary:     p.Fields.Summary,
		Description: p.Fields.Description,
		Status:      p.Fields.Status.Name,
	}
}

// Search implements Tracker.
func (c *JiraClient) Search(ctx context.Context, query string) ([]Issue, error) {
	path := "/rest/api/2/search?jql=" + url.QueryEscape(query) +
		"&fields=summary,description,status&maxResults=50"

	var out struct {
		Issues []issuePayload `json:"issues"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("tracker: search failed: %w", err)
	}

	issues := make([]Issue, 0, len(out.Issues))
	for i := range out.Issues {
		issues = append(issues, out.Issues[i].toIssue())
	}
	return issues, nil
}

// Get implements Tracker.
func (c *JiraClient) Get(ctx context.Context, key string) (*Issue, error) {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "?fields=summary,description,status"

	var out issuePayload
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tracker: get %s failed: %w", key, err)
	}
	issue := out.toIssue()
	return &issue, nil
}

// AddNote implements Tracker.
func (c *JiraClient) AddNote(ctx context.Context, key, body string) error {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment"
	payload := map[string]string{"body": body}
	if err := c.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("tracker: comment on %s failed: %w", key, err)
	}
	return nil
}

// Transition implements Tracker.
func (c *JiraClient) Transition(ctx context.Context, key string, candidates []string) error {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"

	var out struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return fmt.Errorf("tracker: listing transitions for %s failed: %w", key, err)
	}

	for _, tr := range out.Transitions {
		for _, want := range candidates {
			if strings.EqualFold(tr.Name, want) {
				payload := map[string]map[string]string{"transition": {"id": tr.ID}}
				if err := c.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
					return fmt.Errorf("tracker: transition %s to %q failed: %w", key, tr.Name, err)
				}
				c.logger.Info("transitioned issue",
					slog.String("key", key),
					slog.String("state", tr.Name),
				)
				return nil
			}
		}
	}

	return fmt.Errorf("tracker: no transition on %s matches %v", key, candidates)
}

// ListNotes implements Tracker.
func (c *JiraClient) ListNotes(ctx context.Context, key string) ([]string, error) {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment?orderBy=created"

	var out struct {
		Comments []struct {
			Body string `json:"body"`
		} `json:"comments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("tracker: listing comments on %s failed: %w", key, err)
	}

	notes := make([]string, 0, len(out.Comments))
	for _, comment := range out.Comments {
		notes = append(notes, comment.Body)
	}
	return notes, nil
}

// statusError carries an HTTP status for error classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, truncate(e.body, 200))
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

// doJSON performs one authenticated JSON request.
//
// The token enclave is opened only to sign the request and destroyed
// before the request is sent.
func (c *JiraClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tokenBuf, err := c.token.Open()
	if err != nil {
		return fmt.Errorf("opening token enclave: %w", err)
	}
	req.SetBasicAuth(c.email, tokenBuf.String())
	tokenBuf.Destroy()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// truncate shortens s for log output.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
