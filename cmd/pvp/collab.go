package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/server"
)

var promptCmd = &cobra.Command{
	Use:     "prompt <text>",
	Short:   "Submit a prompt to the session's agents",
	GroupID: "collab",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, _ := cmd.Flags().GetStringSlice("context")
		return submit(context.Background(), protocol.TypePromptSubmit, protocol.PromptSubmit{
			Content:     strings.Join(args, " "),
			ContextRefs: refs,
		})
	},
}

var contextCmd = &cobra.Command{
	Use:     "context",
	Short:   "Manage shared context",
	GroupID: "collab",
}

var contextAddCmd = &cobra.Command{
	Use:   "add <name> [text]",
	Short: "Add a context item from text or --file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		kind, _ := cmd.Flags().GetString("kind")
		payload := protocol.ContextAdd{Kind: model.ContextKind(kind), Name: args[0]}

		content, ref, err := readContent(ctx, cmd, args[1:])
		if err != nil {
			return err
		}
		payload.Content, payload.ContentRef = content, ref

		vis, err := visibility(cmd)
		if err != nil {
			return err
		}
		payload.Visibility = vis
		return submit(ctx, protocol.TypeContextAdd, payload)
	},
}

var contextUpdateCmd = &cobra.Command{
	Use:   "update <context-id> [text]",
	Short: "Replace a context item's content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		content, ref, err := readContent(ctx, cmd, args[1:])
		if err != nil {
			return err
		}
		return submit(ctx, protocol.TypeContextUpdate, protocol.ContextUpdate{
			ContextID:  args[0],
			Content:    content,
			ContentRef: ref,
		})
	},
}

var contextRemoveCmd = &cobra.Command{
	Use:   "remove <context-id>",
	Short: "Remove a context item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(context.Background(), protocol.TypeContextRemove, protocol.ContextRemove{ContextID: args[0]})
	},
}

var contextFetchCmd = &cobra.Command{
	Use:   "fetch <ref>",
	Short: "Print offloaded content by reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := pvpClient.GetContent(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("fetching content: %w", err)
		}
		_, err = os.Stdout.Write(b)
		return err
	},
}

// readContent takes inline text from args or reads --file. File content
// above the offload threshold is uploaded first and sent by reference.
func readContent(ctx context.Context, cmd *cobra.Command, args []string) (content, ref string, err error) {
	path, _ := cmd.Flags().GetString("file")
	switch {
	case path != "" && len(args) > 0:
		return "", "", fmt.Errorf("pass text or --file, not both")
	case len(args) > 0:
		return args[0], "", nil
	case path == "":
		return "", "", fmt.Errorf("no content: pass text or --file")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", path, err)
	}
	if len(b) <= server.DefaultOffloadThreshold {
		return string(b), "", nil
	}
	ref, err = pvpClient.PutContent(ctx, b)
	if err != nil {
		return "", "", fmt.Errorf("uploading %s: %w", path, err)
	}
	return "", ref, nil
}

// visibility reads --private and --visible-to. Nil means public.
func visibility(cmd *cobra.Command) (*model.Visibility, error) {
	private, _ := cmd.Flags().GetBool("private")
	to, _ := cmd.Flags().GetStringSlice("visible-to")
	if !private && len(to) == 0 {
		return nil, nil
	}
	if private && len(to) > 0 {
		return nil, fmt.Errorf("--private and --visible-to are exclusive")
	}
	if private {
		to = []string{participant}
	}
	return &model.Visibility{Participants: to}, nil
}

var proposeCmd = &cobra.Command{
	Use:     "propose <tool> <category>",
	Short:   "Propose a tool invocation",
	GroupID: "collab",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		argsJSON, _ := cmd.Flags().GetString("args")
		desc, _ := cmd.Flags().GetString("description")
		quorum, _ := cmd.Flags().GetString("quorum")

		payload := protocol.ToolPropose{Tool: args[0], Category: args[1], Description: desc}
		if argsJSON != "" {
			if !json.Valid([]byte(argsJSON)) {
				return fmt.Errorf("--args is not valid JSON")
			}
			payload.Arguments = json.RawMessage(argsJSON)
		}
		if quorum != "" {
			q, err := model.ParseQuorumRule(quorum)
			if err != nil {
				return err
			}
			payload.Quorum = &q
		}
		return submit(context.Background(), protocol.TypeToolPropose, payload)
	},
}

var voteCmd = &cobra.Command{
	Use:       "vote <approve|reject> <gate-id>",
	Short:     "Vote on a pending gate",
	GroupID:   "collab",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"approve", "reject"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var typ protocol.Type
		switch args[0] {
		case "approve", "yes":
			typ = protocol.TypeGateApprove
		case "reject", "no":
			typ = protocol.TypeGateReject
		default:
			return fmt.Errorf("unknown decision %q (must be approve or reject)", args[0])
		}
		comment, _ := cmd.Flags().GetString("comment")
		return submit(context.Background(), typ, protocol.GateVote{GateID: args[1], Comment: comment})
	},
}

var roleCmd = &cobra.Command{
	Use:     "role <participant> <role>...",
	Short:   "Replace a participant's roles",
	GroupID: "collab",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := make([]model.Role, 0, len(args)-1)
		for _, r := range args[1:] {
			roles = append(roles, model.Role(r))
		}
		return submit(context.Background(), protocol.TypeRoleChange, protocol.RoleChange{ParticipantID: args[0], Roles: roles})
	},
}

var interruptCmd = &cobra.Command{
	Use:     "interrupt [target]",
	Short:   "Interrupt the agent or a running tool",
	GroupID: "collab",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		payload := protocol.Interrupt{Reason: reason}
		if len(args) > 0 {
			payload.Target = args[0]
		}
		return submit(context.Background(), protocol.TypeInterrupt, payload)
	},
}

var sendCmd = &cobra.Command{
	Use:     "send <type> [payload-json]",
	Short:   "Send a raw protocol message",
	Long:    sendLong(),
	GroupID: "collab",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ := protocol.Type(args[0])
		if !typ.Inbound() {
			return fmt.Errorf("%q is not an inbound message type", args[0])
		}
		var payload any
		if len(args) > 1 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			payload = json.RawMessage(args[1])
		}
		sid := sessionID
		if typ != protocol.TypeSessionCreate && sid == "" {
			return fmt.Errorf("no session: pass --session or set PVP_SESSION")
		}
		return submitTo(context.Background(), typ, sid, payload)
	},
}

func init() {
	promptCmd.Flags().StringSlice("context", nil, "context item ids the prompt refers to")

	contextAddCmd.Flags().String("kind", string(model.ContextText), "item kind (text, file, note)")
	contextAddCmd.Flags().String("file", "", "read content from a file")
	contextAddCmd.Flags().Bool("private", false, "visible to you only")
	contextAddCmd.Flags().StringSlice("visible-to", nil, "restrict visibility to these participants")
	contextUpdateCmd.Flags().String("file", "", "read content from a file")
	contextCmd.AddCommand(contextAddCmd, contextUpdateCmd, contextRemoveCmd, contextFetchCmd)

	proposeCmd.Flags().String("args", "", "tool arguments as JSON")
	proposeCmd.Flags().String("description", "", "what the tool call is for")
	proposeCmd.Flags().String("quorum", "", "gate quorum override (any:N, all, majority)")

	voteCmd.Flags().String("comment", "", "comment shown with the vote")
	interruptCmd.Flags().String("reason", "", "reason shown to the session")
}
