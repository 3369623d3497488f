package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/client"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/ordering"
)

const maxReconnectDelay = 30 * time.Second

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream the session as the current participant sees it",
	GroupID: "collab",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := requireSession()
		if err != nil {
			return err
		}
		types, _ := cmd.Flags().GetStringSlice("types")
		reconnect, _ := cmd.Flags().GetBool("reconnect")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		w := &watcher{out: os.Stdout, json: jsonOutput}
		req := &client.StreamRequest{SessionID: sid, ParticipantID: participant, Types: types}
		return w.run(ctx, pvpClient, req, reconnect)
	},
}

// watcher prints a stream and checks sequence continuity when the session
// runs under strict ordering.
type watcher struct {
	out    io.Writer
	json   bool
	view   *ordering.StrictView
	lastID string
}

// run streams until ctx is done. With reconnect set, a dropped stream is
// resumed from the last seen event with exponential backoff.
func (w *watcher) run(ctx context.Context, c client.SessionClient, req *client.StreamRequest, reconnect bool) error {
	delay := time.Second
	for {
		req.LastEventID = w.lastID
		err := c.Stream(ctx, req, w.handle)
		if ctx.Err() != nil {
			return nil
		}
		var apiErr *client.APIError
		if !reconnect || errors.As(err, &apiErr) {
			if errors.Is(err, client.ErrStreamClosed) {
				return nil
			}
			return err
		}
		log.Printf("stream: %v; reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (w *watcher) handle(evt client.Event) error {
	if evt.ID != "" {
		w.lastID = evt.ID
	}
	if evt.Snapshot != nil {
		w.view = nil
		if evt.Snapshot.Session.Config.Ordering == model.OrderingStrict {
			w.view = ordering.NewStrictView(evt.Snapshot.Session.Seq + 1)
		}
		if w.json {
			return writeJSON(w.out, evt.Snapshot)
		}
		printStateTo(w.out, evt.Snapshot)
		return nil
	}

	env := evt.Message
	if env == nil {
		return nil
	}
	if w.view != nil && env.Seq != 0 {
		// Already covered by the snapshot.
		if env.Seq < w.view.Expected() {
			return nil
		}
		if err := w.view.Accept(env.Seq); err != nil {
			fmt.Fprintf(w.out, "warning: %v\n", err)
			w.view = ordering.NewStrictView(env.Seq + 1)
		}
	}
	if w.json {
		return writeJSON(w.out, env)
	}
	printEnvelope(w.out, env)
	return nil
}

func init() {
	watchCmd.Flags().StringSlice("types", nil, "message types to show (supports * and > wildcards)")
	watchCmd.Flags().Bool("reconnect", true, "resume the stream when the connection drops")
}
