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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 120 * time.Second

// OpenAIEngine implements Engine against the OpenAI chat completions API.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// OpenAIOptions configures NewOpenAIEngine.
type OpenAIOptions struct {
	// Model is the chat model identifier, e.g. "gpt-4o-mini".
	Model string
	// BaseURL overrides the API endpoint. Empty means api.openai.com.
	BaseURL string
	// RequestsPerMinute throttles outgoing calls. Zero disables the limit.
	RequestsPerMinute int
	// Timeout bounds each request. Zero means defaultRequestTimeout.
	Timeout time.Duration
}

// NewOpenAIEngine creates an OpenAI-backed engine.
//
// Inputs:
//
//	apiKey - API key enclave. Opened once here and never retained in
//	    plain form beyond client construction.
//	opts - Engine options. Model must be set.
//	logger - Structured logger. slog.Default() when nil.
//
// Outputs:
//
//	*OpenAIEngine - The engine.
//	error - Non-nil on invalid arguments or an unreadable enclave.
func NewOpenAIEngine(apiKey *memguard.Enclave, opts OpenAIOptions, logger *slog.Logger) (*OpenAIEngine, error) {
	if apiKey == nil {
		return nil, fmt.Errorf("engine: API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("engine: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	keyBuf, err := apiKey.Open()
	if err != nil {
		return nil, fmt.Errorf("engine: opening API key enclave: %w", err)
	}
	// memguard's String() aliases the locked pages; copy before Destroy so
	// the client's token does not dangle (REVIEW_FINDINGS.md F8).
	key := strings.Clone(keyBuf.String())
	keyBuf.Destroy()
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	logger.Info("initializing OpenAI engine",
		slog.String("model", opts.Model),
		slog.Int("requests_per_minute", opts.RequestsPerMinute),
	)
	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		limiter: limiter,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer("mend/engine"),
	}, nil
}

// Name implements Engine.
func (e *OpenAIEngine) Name() string { return "openai" }

// Model implements Engine.
func (e *OpenAIEngine) Model() string { return e.model }

// IdentifyFiles implements Engine.
func (e *OpenAIEngine) IdentifyFiles(ctx context.Context, req IdentifyRequest) ([]string, error) {
	prompt, err := identifyTemplate.Format(map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"listing":     req.Listing,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: rendering identify prompt: %w", err)
	}

	response, err := e.complete(ctx, "identify_files", prompt)
	if err != nil {
		return nil, err
	}

	files := parseFileList(response)
	if files == nil {
		// Unparseable output is not fatal. The caller falls back to
		// filenames mentioned in the issue text.
		e.logger.Warn("could not parse file list from model response",
			slog.String("response", truncate(response, 200)))
		return []string{}, nil
	}
	return files, nil
}

// Plan implements Engine.
func (e *OpenAIEngine) Plan(ctx context.Context, req PlanRequest) (string, error) {
	prompt, err := planTemplate.Format(map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"listing":     req.Listing,
	})
	if err != nil {
		return "", fmt.Errorf("engine: rendering plan prompt: %w", err)
	}
	return e.complete(ctx, "plan", prompt)
}

// ProposeFix implements Engine.
func (e *OpenAIEngine) ProposeFix(ctx context.Context, req FixRequest) (string, error) {
	prompt, err := fixTemplate.Format(map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"listing":     req.Listing,
		"filename":    req.Filename,
		"content":     req.Content,
	})
	if err != nil {
		return "", fmt.Errorf("engine: rendering fix prompt: %w", err)
	}
	return e.complete(ctx, "propose_fix", prompt)
}

// Rewrite implements Engine.
func (e *OpenAIEngine) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	prompt, err := rewriteTemplate.Format(map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"listing":     req.Listing,
		"filename":    req.Filename,
		"content":     req.Content,
	})
	if err != nil {
		return "", fmt.Errorf("engine: rendering rewrite prompt: %w", err)
	}
	return e.complete(ctx, "rewrite", prompt)
}

// Review implements Engine.
func (e *OpenAIEngine) Review(ctx context.Context, req ReviewRequest) (string, error) {
	prompt, err := reviewTemplate.Format(map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"files":       renderFiles(req.Files),
	})
	if err != nil {
		return "", fmt.Errorf("engine: rendering review prompt: %w", err)
	}

	response, err := e.complete(ctx, "review", prompt)
	if err != nil {
		return "", err
	}
	if isApproval(response) {
		return "", nil
	}
	return response, nil
}

// complete runs one rate-limited chat completion.
func (e *OpenAIEngine) complete(ctx context.Context, operation, prompt string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("engine.operation", operation),
		attribute.String("engine.model", e.model),
		attribute.Int("engine.prompt_bytes", len(prompt)),
	)

	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("engine: rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPersona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		e.logger.Error("chat completion failed",
			slog.String("operation", operation),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("engine: %s: %w", operation, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("engine: %s: no choices returned", operation)
	}

	e.logger.Debug("chat completion finished",
		slog.String("operation", operation),
		slog.Duration("elapsed", time.Since(started)),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
