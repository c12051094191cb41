// Package main is a small CLI for one-shot calls through the engine.
//
// Usage:
//
//	omnillm -provider openai "Capital of France?"
//	omnillm -config omnillm.yaml -provider anthropic -stream "Tell me a story"
//	echo "Summarize this" | omnillm -provider ollama -model llama3.2
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/omnillm/omnillm"
	"github.com/omnillm/omnillm/config"
	"github.com/omnillm/omnillm/schema"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (default: environment only)")
		provider   = flag.String("provider", "openai", "provider tag")
		model      = flag.String("model", "", "model id override")
		system     = flag.String("system", "", "system instructions")
		stream     = flag.Bool("stream", false, "stream the response to stdout")
		showUsage  = flag.Bool("usage", false, "print token usage after the call")
	)
	flag.Parse()

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil || len(data) == 0 {
			fmt.Fprintln(os.Stderr, "usage: omnillm [flags] <prompt> (or pipe the prompt on stdin)")
			os.Exit(2)
		}
		prompt = string(data)
	}

	if err := run(*configPath, *provider, *model, *system, prompt, *stream, *showUsage); err != nil {
		fmt.Fprintf(os.Stderr, "omnillm: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, provider, model, system, prompt string, stream, showUsage bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	client, err := omnillm.New(cfg)
	if err != nil {
		return err
	}

	var promptOpts []schema.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, schema.WithSystem(system))
	}
	msg, err := schema.NewMessage(schema.RoleUser, prompt)
	if err != nil {
		return err
	}
	p, err := schema.NewPrompt([]schema.Message{msg}, promptOpts...)
	if err != nil {
		return err
	}

	var overrides []omnillm.CallOption
	if model != "" {
		overrides = append(overrides, omnillm.WithModel(model))
	}

	if stream {
		err = streamToStdout(ctx, client, provider, p, overrides)
	} else {
		var resp *schema.Response
		resp, err = client.Call(ctx, provider, p, overrides...)
		if err == nil {
			fmt.Println(resp.Message.Content)
			if resp.HitTurnLimit {
				fmt.Fprintln(os.Stderr, "warning: tool loop hit the turn ceiling")
			}
		}
	}
	if err != nil {
		return err
	}

	if showUsage {
		printUsage(client)
	}
	return nil
}

func streamToStdout(ctx context.Context, client *omnillm.Client, provider string, p *schema.Prompt, overrides []omnillm.CallOption) error {
	sink := omnillm.NewChannelSink(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			if ev.Kind == omnillm.EventUpdate && ev.Delta.Text != "" {
				fmt.Print(ev.Delta.Text)
			}
		}
	}()

	_, err := client.Stream(ctx, provider, p, sink, overrides...)
	if err != nil {
		// Failures before the stream opens emit no sink events; the printer
		// goroutine is abandoned with the process.
		return err
	}
	<-done
	fmt.Println()
	return nil
}

func printUsage(client *omnillm.Client) {
	for _, u := range client.Usage() {
		fmt.Fprintf(os.Stderr, "%s/%s: %d calls, %d in / %d out tokens",
			u.Provider, u.Model, u.Calls, u.InputTokens, u.OutputTokens)
		if u.CostUSD > 0 {
			fmt.Fprintf(os.Stderr, ", $%.4f", u.CostUSD)
		}
		if u.EstimatedCalls > 0 {
			fmt.Fprintf(os.Stderr, " (%d estimated)", u.EstimatedCalls)
		}
		fmt.Fprintln(os.Stderr)
	}
}
