package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/client"
	"github.com/agrathwohl/pvp/internal/events"
	"github.com/agrathwohl/pvp/internal/hub"
	"github.com/agrathwohl/pvp/internal/idgen"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/ui"
)

var (
	httpURL     string
	natsURL     string
	authToken   string
	jsonOutput  bool
	participant string
	sessionID   string
	dependsOn   []string

	pvpClient client.SessionClient
)

// defaultParticipant picks the participant id: PVP_PARTICIPANT, then the
// git user name, then $USER.
func defaultParticipant() string {
	if s := os.Getenv("PVP_PARTICIPANT"); s != "" {
		return s
	}
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
		}
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func defaultHTTPURL() string {
	if s := os.Getenv("PVP_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:           "pvp <command>",
	Short:         "Multiplayer sessions for humans and agents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		pvpClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if pvpClient != nil {
			pvpClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "server URL (PVP_HTTP_URL)")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "submit messages over NATS instead of HTTP")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("PVP_AUTH_TOKEN"), "bearer token (PVP_AUTH_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&participant, "as", defaultParticipant(), "participant id to act as (PVP_PARTICIPANT)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", os.Getenv("PVP_SESSION"), "session id (PVP_SESSION)")
	rootCmd.PersistentFlags().StringSliceVar(&dependsOn, "after", nil, "message ids this message depends on")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "collab", Title: "Collaboration:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Sessions
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(configCmd)

	// Collaboration
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(roleCmd)
	rootCmd.AddCommand(interruptCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(journalCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

// requireSession returns the --session value or an error naming the flag.
func requireSession() (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("no session: pass --session or set PVP_SESSION")
	}
	return sessionID, nil
}

// envelope builds an inbound message from the current participant.
func envelope(typ protocol.Type, sid string, payload any) (*protocol.Envelope, error) {
	id, err := idgen.MessageID()
	if err != nil {
		return nil, err
	}
	env := protocol.New(id, typ, sid, participant, time.Now().UTC(), payload)
	env.DependsOn = dependsOn
	return env, nil
}

// submit sends one message to the current session and prints the receipt.
func submit(ctx context.Context, typ protocol.Type, payload any) error {
	sid, err := requireSession()
	if err != nil {
		return err
	}
	return submitTo(ctx, typ, sid, payload)
}

func submitTo(ctx context.Context, typ protocol.Type, sid string, payload any) error {
	env, err := envelope(typ, sid, payload)
	if err != nil {
		return err
	}
	var rc hub.Receipt
	if natsURL != "" {
		rc, err = submitOverNATS(ctx, env)
	} else {
		rc, err = pvpClient.Submit(ctx, env)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", typ, err)
	}
	printReceipt(rc)
	return nil
}

// submitOverNATS publishes env on its inbound subject and waits for the
// server's ack.
func submitOverNATS(ctx context.Context, env *protocol.Envelope) (hub.Receipt, error) {
	pub, err := events.NewNATSPublisher(natsURL)
	if err != nil {
		return hub.Receipt{}, err
	}
	defer pub.Close()
	ack, err := pub.Submit(ctx, env)
	return hub.Receipt{SessionID: ack.SessionID, MessageID: ack.MessageID, Held: ack.Held}, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
