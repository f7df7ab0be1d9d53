// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/arbor"
	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/conversation"
	"github.com/poiesic/arbor/core"
	"github.com/poiesic/arbor/enrich"
	"github.com/poiesic/arbor/pipeline"
	"github.com/poiesic/arbor/search"
)

func main() {
	app := &cli.App{
		Name:   "arbor",
		Usage:  "Hash-linked conversation store with streaming chat and function calling",
		Before: setupLogger,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "chat",
				Usage:  "Start an interactive chat session",
				Action: chatCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:  "leaf",
						Usage: "Resume from this leaf message hash",
					},
					&cli.Float64Flag{
						Name:  "temperature",
						Usage: "Sampling temperature for completions",
					},
					&cli.IntFlag{
						Name:  "max-tokens",
						Usage: "Completion length cap in tokens",
					},
				),
			},
			{
				Name:      "search",
				Usage:     "Search stored messages by similarity",
				Action:    searchCommand,
				ArgsUsage: "<query>",
				Flags: append(storeFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of hits",
						Value: 5,
					},
					&cli.BoolFlag{
						Name:  "summaries",
						Usage: "Search over summary embeddings instead of content embeddings",
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Restrict the search to the subtree below this hash",
					},
				),
			},
			{
				Name:      "branches",
				Usage:     "List the direct children of a message",
				Action:    branchesCommand,
				ArgsUsage: "[parent-hash]",
				Flags:     storeFlags(),
			},
			{
				Name:      "pin",
				Usage:     "Pin a message",
				Action:    pinCommand,
				ArgsUsage: "<hash>",
				Flags:     storeFlags(),
			},
			{
				Name:      "unpin",
				Usage:     "Remove a message's pin",
				Action:    unpinCommand,
				ArgsUsage: "<hash>",
				Flags:     storeFlags(),
			},
			{
				Name:   "pins",
				Usage:  "List pinned messages",
				Action: pinsCommand,
				Flags:  storeFlags(),
			},
			{
				Name:   "backfill",
				Usage:  "Fill in missing embeddings and summaries for every message",
				Action: backfillCommand,
				Flags: append(storeFlags(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of messages to embed in each batch",
						Value: 32,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N messages",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "AI service host URL for completion, embedding, and summarization",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "completion-model",
			Usage: "Completion model name",
			Value: "qwen2.5:3b",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "embeddinggemma",
		},
		&cli.StringFlag{
			Name:  "summarizer-model",
			Usage: "Summarizer model name",
			Value: "qwen2.5:3b",
		},
	}
}

func openStore(c *cli.Context) (*arbor.Store, error) {
	config := ai.NewConfig(
		ai.WithHost(c.String("host")),
		ai.WithCompletionModel(c.String("completion-model")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithSummarizerModel(c.String("summarizer-model")),
	)
	store, err := arbor.NewStore(c.String("db"), arbor.WithAIConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func chatCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := store.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to build function engine: %w", err)
	}
	defer engine.Wait()

	conv := conversation.NewConversation(
		conversation.WithModel(c.String("completion-model")),
		conversation.WithTemperature(c.Float64("temperature")),
		conversation.WithMaxTokens(c.Int("max-tokens")),
		conversation.WithFunctions(engine.Registry().Names()),
	)
	defer conv.Close()

	pipeOpts := []pipeline.Option{
		pipeline.WithDispatcher(engine),
		pipeline.WithProducers(store.Producers()),
	}
	if leaf := c.String("leaf"); leaf != "" {
		pipeOpts = append(pipeOpts, pipeline.WithLeaf(core.Hash(leaf)))
	}
	pipe, err := pipeline.New(conv, store.Provider().Completer(), store.MessageRepository(), store.MetadataRepository(), pipeOpts...)
	if err != nil {
		return err
	}
	if err := pipe.Start(ctx); err != nil {
		return err
	}
	defer pipe.Stop()

	user, err := conv.AddParticipant(core.RoleUser)
	if err != nil {
		return err
	}

	events, cancelEvents := conv.SubscribeMessages()
	defer cancelEvents()
	go printEvents(events, user)

	fmt.Fprintln(os.Stderr, "Type a message and press enter. /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			break
		}
		if err := conv.SendMessage(user, line); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "\nleaf: %s\n", pipe.Leaf())
	return scanner.Err()
}

// printEvents renders incoming conversation events, skipping the local
// user's own messages.
func printEvents(events <-chan conversation.MessageEvent, user *conversation.Participant) {
	for event := range events {
		if event.Err != nil {
			fmt.Printf("error: %v\n", event.Err)
			continue
		}
		if event.Participant == user.ID {
			continue
		}
		switch event.Role {
		case core.RoleAssistant:
			fmt.Printf("assistant: %s\n", event.Content)
		case core.RoleSystem:
			fmt.Printf("system: %s\n", event.Content)
		}
	}
}

func searchCommand(c *cli.Context) error {
	ctx := context.Background()
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a query is required")
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	searcher, err := store.NewSearcher()
	if err != nil {
		return err
	}

	var results []*search.Result
	if c.Bool("summaries") || c.String("root") != "" {
		vector, err := store.Provider().Embedder().EmbedText(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		kind := search.KindContent
		if c.Bool("summaries") {
			kind = search.KindSummary
		}
		results, err = searcher.Search(ctx, search.Query{
			Vector: vector,
			Root:   core.Hash(c.String("root")),
			Kind:   kind,
			Limit:  c.Int("limit"),
		})
		if err != nil {
			return err
		}
	} else {
		results, err = searcher.FindSimilar(ctx, query, c.Int("limit"))
		if err != nil {
			return err
		}
	}

	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, result := range results {
		fmt.Printf("%s  %.3f  %s\n", result.Message.Hash.Short(), result.Score, firstLine(result.Message.Content))
	}
	return nil
}

func branchesCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	parent := core.RootHash
	if c.Args().Len() > 0 {
		parent = core.Hash(c.Args().First())
	}
	children, err := store.MessageRepository().DirectChildren(ctx, parent)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		fmt.Println("no children")
		return nil
	}
	for _, child := range children {
		fmt.Printf("%s  %-9s  %s\n", child.Hash.Short(), child.Role, firstLine(child.Content))
	}
	return nil
}

func pinCommand(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("a message hash is required")
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	hash := core.Hash(c.Args().First())
	if _, err := store.MetadataRepository().AddPin(context.Background(), hash, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Printf("pinned %s\n", hash.Short())
	return nil
}

func unpinCommand(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("a message hash is required")
	}
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	hash := core.Hash(c.Args().First())
	if err := store.MetadataRepository().RemovePin(context.Background(), hash); err != nil {
		return err
	}
	fmt.Printf("unpinned %s\n", hash.Short())
	return nil
}

func pinsCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	pins, err := store.MetadataRepository().ListPinned(context.Background())
	if err != nil {
		return err
	}
	if len(pins) == 0 {
		fmt.Println("no pinned messages")
		return nil
	}
	for _, pin := range pins {
		fmt.Printf("%s  pinned %s\n", pin.MessageHash.Short(), pin.RemoteAt.Format(time.RFC3339))
	}
	return nil
}

func backfillCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	enricher, err := store.NewEnricher(
		enrich.WithBatchSize(c.Int("batch-size")),
		enrich.WithRetry(c.Int("max-retries"), c.Duration("retry-delay")),
	)
	if err != nil {
		return err
	}
	defer enricher.Release()

	// Count first so progress has a denominator.
	total := 0
	for visit := range store.MessageRepository().Descendants(ctx, core.RootHash, 0) {
		if visit.Err != nil {
			return fmt.Errorf("counting messages: %w", visit.Err)
		}
		total++
	}

	progress := enrich.NewProgressTracker(os.Stderr, total, c.Int("report-interval"))
	progress.Start()
	stats, err := enricher.BackfillAll(ctx, progress)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	progress.Finish()

	fmt.Fprintf(os.Stderr, "scanned %d, embedded %d, summarized %d in %s\n",
		stats.Scanned, stats.Embedded, stats.Summarized, progress.Elapsed().Round(time.Millisecond))
	return nil
}

func firstLine(content string) string {
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	if len(content) > 72 {
		content = content[:72] + "…"
	}
	return content
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
