// Command sioclient walks a Socket.IO server through the test exchange:
// connect the root channel, send mixed data, call "update item", then connect
// /chat and send binary arguments. Server events are printed as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	socketio "github.com/bubblesnake/socketio"
	"github.com/bubblesnake/socketio/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sioclient: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("sioclient", flag.ContinueOnError)
	url := flags.String("url", "http://127.0.0.1:3300", "server URL")
	timeout := flags.Duration("timeout", 10*time.Second, "per-step timeout")
	linger := flags.Duration("linger", 2*time.Second, "how long to keep listening after the walk")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger := logging.New("sioclient", logging.ProfileRuntime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	client, err := socketio.Dial(dialCtx, *url, &socketio.Config{Logger: &logger})
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info().Str("url", *url).Str("eio_sid", client.ID()).Msg("connected")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-client.Done():
			return fmt.Errorf("connection lost")
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		if err := walk(ctx, client, logger, *timeout); err != nil {
			return err
		}
		select {
		case <-time.After(*linger):
		case <-ctx.Done():
		}
		stop()
		return nil
	})

	return g.Wait()
}

func walk(ctx context.Context, client *socketio.Client, logger zerolog.Logger, timeout time.Duration) error {
	root, err := client.Socket("/")
	if err != nil {
		return err
	}
	chat, err := client.Socket("/chat")
	if err != nil {
		return err
	}
	for _, s := range []*socketio.Session{root, chat} {
		s.On("message", printer(logger))
		s.On("hello", printer(logger))
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := client.Connect(stepCtx, "/", nil); err != nil {
		return fmt.Errorf("connect /: %w", err)
	}
	logger.Info().Str("sid", root.ID()).Msg("connected to the root channel")

	if err := root.Emit("message", "Hello from the client!"); err != nil {
		return err
	}
	if err := root.Emit("hello", 1, "2", map[string]any{"3": "4", "5": []byte{6}}); err != nil {
		return err
	}

	future, err := root.Call("update item", 1, map[string]any{"name": "updated"})
	if err != nil {
		return err
	}
	reply, err := future.Wait(stepCtx)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	logger.Info().Interface("reply", reply).Msg("update item acknowledged")

	if _, err := client.Connect(stepCtx, "/chat", nil); err != nil {
		return fmt.Errorf("connect /chat: %w", err)
	}
	logger.Info().Str("sid", chat.ID()).Msg("connected to /chat")

	future, err = chat.Call("hello", 1, true, 3.14, []byte{0xde, 0xad}, []byte{0xbe, 0xef})
	if err != nil {
		return err
	}
	reply, err = future.Wait(stepCtx)
	if err != nil {
		return fmt.Errorf("chat hello: %w", err)
	}
	logger.Info().Interface("reply", reply).Msg("chat hello acknowledged")

	return nil
}

func printer(logger zerolog.Logger) socketio.EventFunc {
	return func(s *socketio.Session, args ...any) {
		logger.Info().Str("channel", s.Channel()).Interface("args", args).Msg("event from server")
	}
}
