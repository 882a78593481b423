// Package main embeds the engine with a console notifier that prints each
// message instead of sending it to Telegram.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/dropwatch"
	"github.com/hedeqiang/dropwatch/event"
	mw "github.com/hedeqiang/dropwatch/middleware"
)

type console struct{}

func (console) Deliver(_ context.Context, text, _ string) error {
	fmt.Println(text)
	fmt.Println()
	return nil
}

func main() {
	// 1. Load dropwatch.yaml (or the defaults) and the .env secrets
	cfg, err := dropwatch.LoadConfig(os.Getenv("DROPWATCH_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	// 2. Optionally restrict the pipeline to a single token
	var only []mw.Middleware
	if t := os.Getenv("DROPWATCH_TOKEN"); t != "" {
		token := event.MustParseAddress(t)
		only = append(only, mw.Func(func(next mw.Handler) mw.Handler {
			return func(lg event.Log) *event.Log {
				if lg.Address != token {
					return nil
				}
				return next(lg)
			}
		}))
	}

	// 3. Build the engine
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	engine, err := dropwatch.New(cfg,
		dropwatch.WithLogger(logger),
		dropwatch.WithNotifier(console{}),
		dropwatch.WithMiddleware(only...),
	)
	if err != nil {
		log.Fatal(err)
	}

	// 4. Run until Ctrl+C or a fatal condition
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("dropwatch is listening... Press Ctrl+C to stop.")
	if err := engine.Run(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Done.")
}
