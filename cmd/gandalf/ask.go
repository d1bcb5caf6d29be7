package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hpn/gandalf-router/internal/adapter"
)

// AskCmd sends one prompt through the dispatcher and prints the reply.
type AskCmd struct {
	Prompt      []string `arg:"" help:"Prompt text."`
	System      string   `help:"System prompt." short:"s"`
	MaxTokens   int      `help:"Maximum completion tokens." name:"max-tokens"`
	Temperature *float64 `help:"Sampling temperature."`
	Verbose     bool     `help:"Print failover events and the serving provider." short:"v"`
}

func (c *AskCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prompt := strings.TrimSpace(strings.Join(c.Prompt, " "))
	if prompt == "" {
		return errors.New("prompt is empty")
	}

	rt, err := newRuntime(ctx, g, c.Verbose)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.dispatcher.Complete(ctx, c.request(prompt))
	if err != nil {
		return err
	}

	fmt.Fprintln(g.stdout, result.Response.Text())
	if c.Verbose {
		usage := result.Response.Usage
		fmt.Fprintf(g.stderr, "via %s/%s after %d attempt(s), %d prompt + %d completion tokens\n",
			result.Provider, result.Model, result.Attempts, usage.PromptTokens, usage.CompletionTokens)
	}
	return nil
}

func (c *AskCmd) request(prompt string) adapter.OpenAIRequest {
	var req adapter.OpenAIRequest
	if c.System != "" {
		req.Messages = append(req.Messages, adapter.OpenAIMessage{Role: adapter.RoleSystem, Content: c.System})
	}
	req.Messages = append(req.Messages, adapter.OpenAIMessage{Role: adapter.RoleUser, Content: prompt})
	if c.MaxTokens > 0 {
		maxTokens := c.MaxTokens
		req.MaxTokens = &maxTokens
	}
	req.Temperature = c.Temperature
	return req
}
