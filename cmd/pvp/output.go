package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/agrathwohl/pvp/internal/hub"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/ui"
)

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printReceipt(rc hub.Receipt) {
	if jsonOutput {
		_ = printJSON(rc)
		return
	}
	line := fmt.Sprintf("%s %s", rc.SessionID, ui.RenderMuted(rc.MessageID))
	if rc.Held {
		line += " " + ui.RenderWarn("(held for dependencies)")
	}
	fmt.Println(line)
}

func printSessionTable(sessions []hub.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tPARTICIPANTS\tSEQ\tPARENT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", s.ID, s.Name, s.State, s.Participants, s.Seq, s.ParentID)
	}
	w.Flush()
	fmt.Printf("\n%d sessions\n", len(sessions))
}

func printState(st *protocol.SessionState) {
	printStateTo(os.Stdout, st)
}

func printStateTo(out io.Writer, st *protocol.SessionState) {
	info := st.Session
	title := info.ID
	if info.Name != "" {
		title += " (" + info.Name + ")"
	}
	fmt.Fprintf(out, "%s  %s  seq %d  %s ordering\n", ui.RenderAccent(title), info.State, info.Seq, info.Config.Ordering)
	if info.ParentID != "" {
		fmt.Fprintf(out, "Forked from: %s\n", info.ParentID)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nPARTICIPANT\tKIND\tROLES\tPRESENCE")
	for _, p := range st.Participants {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Kind, joinRoles(p.Roles), p.Presence)
	}
	w.Flush()

	if len(st.Context) > 0 {
		fmt.Fprintln(out, "\nContext:")
		for _, c := range st.Context {
			scope := "public"
			if !c.Visibility.Public {
				scope = "visible to " + strings.Join(c.Visibility.Participants, ", ")
			}
			fmt.Fprintf(out, "  %s  %s %s  %s\n", c.ID, c.Kind, c.Name, ui.RenderMuted(scope))
		}
	}
	for _, g := range st.Gates {
		if g.State != model.GatePending {
			continue
		}
		fmt.Fprintf(out, "\nPending gate %s (%s) for proposal %s, %d votes\n",
			ui.RenderWarn(g.ID), g.Quorum, g.ProposalID, len(g.Votes))
	}
}

func joinRoles(roles []model.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// printEnvelope writes one line per message: time, seq, type, sender and a
// type-specific summary.
func printEnvelope(out io.Writer, env *protocol.Envelope) {
	seq := "-"
	if env.Seq > 0 {
		seq = fmt.Sprintf("#%d", env.Seq)
	}
	width := max(ui.Width()-40, 20)
	fmt.Fprintf(out, "%s %5s %s %s  %s\n",
		ui.RenderMuted(env.Timestamp.Local().Format("15:04:05")),
		seq,
		ui.RenderType(string(env.Type)),
		env.SenderID,
		ui.Truncate(summarize(env), width))
}

// summarize renders the interesting part of a payload. Unknown or
// undecodable payloads fall back to the raw JSON.
func summarize(env *protocol.Envelope) string {
	switch env.Type {
	case protocol.TypePromptSubmitted:
		var p protocol.PromptSubmitted
		if env.Unmarshal(&p) == nil {
			return p.Content
		}
	case protocol.TypeSessionJoined:
		var p protocol.SessionJoined
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s joined as %s", p.Participant.ID, joinRoles(p.Participant.Roles))
		}
	case protocol.TypeSessionLeft:
		var p protocol.SessionLeft
		if env.Unmarshal(&p) == nil {
			return strings.TrimSpace(p.ParticipantID + " left " + p.Reason)
		}
	case protocol.TypePresenceChanged:
		var p protocol.PresenceChanged
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s %s -> %s", p.ParticipantID, p.From, p.To)
		}
	case protocol.TypeRoleChanged:
		var p protocol.RoleChanged
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s %s -> %s", p.ParticipantID, joinRoles(p.Old), joinRoles(p.New))
		}
	case protocol.TypeContextAdded, protocol.TypeContextUpdated:
		var p protocol.ContextAdded
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s %s %s", p.Item.ID, p.Item.Kind, p.Item.Name)
		}
	case protocol.TypeToolProposed:
		var p protocol.ToolProposed
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s [%s] %s", p.Proposal.Tool, p.Proposal.Category, p.Description)
		}
	case protocol.TypeGateRequest:
		var p protocol.GateRequest
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s needs %s from %s for %s", p.Gate.ID, p.Gate.Quorum, strings.Join(p.Eligible, ", "), p.Proposal.Tool)
		}
	case protocol.TypeGateVote:
		var p protocol.GateVoteCast
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s %s %s (%d/%d)", p.VoterID, p.Decision, p.GateID, p.Approvals, p.Rejections)
		}
	case protocol.TypeGateResolved:
		var p protocol.GateResolved
		if env.Unmarshal(&p) == nil {
			state := string(p.State)
			if p.State == model.GateApproved || p.State == model.GateRejected {
				state = ui.RenderDecision(p.State == model.GateApproved)
			}
			return fmt.Sprintf("%s %s", p.GateID, state)
		}
	case protocol.TypeToolExecute:
		var p protocol.ToolExecute
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("run %s (%s)", p.Proposal.Tool, p.Proposal.ID)
		}
	case protocol.TypeForkCreated:
		var p protocol.ForkCreated
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s -> %s", p.ParentID, p.ForkID)
		}
	case protocol.TypeError:
		var p protocol.Error
		if env.Unmarshal(&p) == nil {
			return fmt.Sprintf("%s: %s", p.Code, p.Message)
		}
	}
	return string(env.Payload)
}
