package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
)

// joinSpec reads the shared --name/--kind/--role flags.
func joinSpec(cmd *cobra.Command) (protocol.JoinSpec, error) {
	name, _ := cmd.Flags().GetString("name")
	kind, _ := cmd.Flags().GetString("kind")
	roleNames, _ := cmd.Flags().GetStringSlice("role")

	spec := protocol.JoinSpec{Name: name, Kind: model.ParticipantKind(kind)}
	if kind != "" && !spec.Kind.IsValid() {
		return protocol.JoinSpec{}, fmt.Errorf("invalid kind %q (must be human or agent)", kind)
	}
	for _, r := range roleNames {
		spec.Roles = append(spec.Roles, model.Role(r))
	}
	return spec, nil
}

func addJoinFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("kind", "human", "participant kind (human or agent)")
	cmd.Flags().StringSlice("role", nil, "roles to request (repeatable)")
}

var createCmd = &cobra.Command{
	Use:     "create [name]",
	Short:   "Create a session and join it",
	GroupID: "sessions",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := joinSpec(cmd)
		if err != nil {
			return err
		}
		patch, err := configPatch(cmd)
		if err != nil {
			return err
		}
		payload := protocol.SessionCreate{Participant: spec}
		if len(args) > 0 {
			payload.Name = args[0]
		}
		if !patch.IsEmpty() {
			payload.Config = &patch
		}
		return submitTo(context.Background(), protocol.TypeSessionCreate, "", payload)
	},
}

var joinCmd = &cobra.Command{
	Use:     "join",
	Short:   "Join a session",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := joinSpec(cmd)
		if err != nil {
			return err
		}
		return submit(context.Background(), protocol.TypeSessionJoin, protocol.SessionJoin{JoinSpec: spec})
	},
}

var leaveCmd = &cobra.Command{
	Use:     "leave [participant]",
	Short:   "Leave a session, or remove another participant",
	GroupID: "sessions",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		payload := protocol.SessionLeave{Reason: reason}
		if len(args) > 0 {
			payload.ParticipantID = args[0]
		}
		return submit(context.Background(), protocol.TypeSessionLeave, payload)
	},
}

var endCmd = &cobra.Command{
	Use:     "end",
	Short:   "End a session",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return submit(context.Background(), protocol.TypeSessionEnd, protocol.SessionEnd{Reason: reason})
	},
}

var forkCmd = &cobra.Command{
	Use:     "fork [name]",
	Short:   "Fork the session into a new one",
	GroupID: "sessions",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload protocol.ForkCreate
		if len(args) > 0 {
			payload.Name = args[0]
		}
		return submit(context.Background(), protocol.TypeForkCreate, payload)
	},
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "List live sessions",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := pvpClient.Sessions(context.Background())
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if jsonOutput {
			return printJSON(sessions)
		}
		printSessionTable(sessions)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:     "state",
	Short:   "Show the session as the current participant sees it",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, err := requireSession()
		if err != nil {
			return err
		}
		st, err := pvpClient.Snapshot(context.Background(), sid, participant)
		if err != nil {
			return fmt.Errorf("reading state: %w", err)
		}
		if jsonOutput {
			return printJSON(st)
		}
		printState(st)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Update session settings",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := configPatch(cmd)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			return fmt.Errorf("nothing to change")
		}
		return submit(context.Background(), protocol.TypeSessionConfigUpdate, protocol.SessionConfigUpdate{Config: patch})
	},
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("require-approval", nil, "action categories that need a gate")
	cmd.Flags().String("quorum", "", "default gate quorum (any:N, all, majority)")
	cmd.Flags().Bool("allow-forks", true, "allow fork.create")
	cmd.Flags().Int("max-participants", 0, "roster limit")
	cmd.Flags().String("ordering", "", "message ordering (causal or strict)")
	cmd.Flags().String("on-timeout", "", "unreachable voter policy (skip or block)")
	cmd.Flags().Int("heartbeat", 0, "heartbeat interval in seconds")
	cmd.Flags().Int("idle-timeout", 0, "seconds without heartbeat before idle")
	cmd.Flags().Int("away-timeout", 0, "seconds without heartbeat before away")
}

// configPatch builds a patch from the config flags the user actually set.
func configPatch(cmd *cobra.Command) (model.SessionConfigPatch, error) {
	var p model.SessionConfigPatch
	f := cmd.Flags()
	if f.Changed("require-approval") {
		v, _ := f.GetStringSlice("require-approval")
		p.RequireApprovalFor = &v
	}
	if f.Changed("quorum") {
		s, _ := f.GetString("quorum")
		q, err := model.ParseQuorumRule(s)
		if err != nil {
			return p, err
		}
		p.DefaultGateQuorum = &q
	}
	if f.Changed("allow-forks") {
		v, _ := f.GetBool("allow-forks")
		p.AllowForks = &v
	}
	if f.Changed("ordering") {
		s, _ := f.GetString("ordering")
		m := model.OrderingMode(s)
		if !m.IsValid() {
			return p, fmt.Errorf("invalid ordering %q", s)
		}
		p.Ordering = &m
	}
	if f.Changed("on-timeout") {
		s, _ := f.GetString("on-timeout")
		tp := model.TimeoutPolicy(s)
		if !tp.IsValid() {
			return p, fmt.Errorf("invalid timeout policy %q", s)
		}
		p.OnParticipantTimeout = &tp
	}
	for flag, dst := range map[string]**int{
		"max-participants": &p.MaxParticipants,
		"heartbeat":        &p.HeartbeatIntervalSeconds,
		"idle-timeout":     &p.IdleTimeoutSeconds,
		"away-timeout":     &p.AwayTimeoutSeconds,
	} {
		if f.Changed(flag) {
			v, _ := f.GetInt(flag)
			*dst = &v
		}
	}
	return p, nil
}

func init() {
	addJoinFlags(createCmd)
	addConfigFlags(createCmd)
	addJoinFlags(joinCmd)
	addConfigFlags(configCmd)
	leaveCmd.Flags().String("reason", "", "reason shown to the session")
	endCmd.Flags().String("reason", "", "reason shown to the session")
}
