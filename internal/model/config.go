package model

import (
	"fmt"
	"slices"
	"time"
)

// OrderingMode governs how the router sequences and releases messages.
type OrderingMode string

const (
	OrderingCausal OrderingMode = "causal"
	OrderingStrict OrderingMode = "strict"
)

// IsValid checks whether the ordering mode is a known value.
func (m OrderingMode) IsValid() bool {
	switch m {
	case OrderingCausal, OrderingStrict:
		return true
	}
	return false
}

// TimeoutPolicy decides how unreachable participants affect pending gates.
type TimeoutPolicy string

const (
	// TimeoutSkip drops away/disconnected participants from the eligible
	// voter denominator of every pending gate.
	TimeoutSkip TimeoutPolicy = "skip"
	// TimeoutBlock keeps them eligible; the gate waits for their vote or
	// for expiry.
	TimeoutBlock TimeoutPolicy = "block"
)

// IsValid checks whether the timeout policy is a known value.
func (p TimeoutPolicy) IsValid() bool {
	switch p {
	case TimeoutSkip, TimeoutBlock:
		return true
	}
	return false
}

// Well-known action categories.
const (
	CategoryShellExecute = "shell_execute"
	CategoryFileWrite    = "file_write"
	CategoryFileDelete   = "file_delete"
	CategoryGitPush      = "git_push"
	CategoryFileRead     = "file_read"
	CategoryNotebook     = "notebook_execute"
	CategoryNetwork      = "network_request"
)

// SessionConfig is the per-session configuration surface. It is validated
// at creation and only changed through session.config_update.
type SessionConfig struct {
	RequireApprovalFor       []string      `json:"require_approval_for" toml:"require_approval_for"`
	DefaultGateQuorum        QuorumRule    `json:"default_gate_quorum" toml:"default_gate_quorum"`
	AllowForks               bool          `json:"allow_forks" toml:"allow_forks"`
	MaxParticipants          int           `json:"max_participants" toml:"max_participants"`
	Ordering                 OrderingMode  `json:"ordering" toml:"ordering"`
	OnParticipantTimeout     TimeoutPolicy `json:"on_participant_timeout" toml:"on_participant_timeout"`
	HeartbeatIntervalSeconds int           `json:"heartbeat_interval_seconds" toml:"heartbeat_interval_seconds"`
	IdleTimeoutSeconds       int           `json:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	AwayTimeoutSeconds       int           `json:"away_timeout_seconds" toml:"away_timeout_seconds"`
}

// DefaultSessionConfig returns the built-in defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RequireApprovalFor:       []string{CategoryShellExecute, CategoryFileWrite, CategoryFileDelete, CategoryGitPush},
		DefaultGateQuorum:        AnyOf(1),
		AllowForks:               true,
		MaxParticipants:          10,
		Ordering:                 OrderingCausal,
		OnParticipantTimeout:     TimeoutSkip,
		HeartbeatIntervalSeconds: 30,
		IdleTimeoutSeconds:       60,
		AwayTimeoutSeconds:       120,
	}
}

// RequiresApproval reports whether an action in category must pass a gate.
func (c SessionConfig) RequiresApproval(category string) bool {
	return slices.Contains(c.RequireApprovalFor, category)
}

// IdleTimeout returns the idle threshold as a duration.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// AwayTimeout returns the away threshold as a duration.
func (c SessionConfig) AwayTimeout() time.Duration {
	return time.Duration(c.AwayTimeoutSeconds) * time.Second
}

// Clone returns a deep copy of the config.
func (c SessionConfig) Clone() SessionConfig {
	c.RequireApprovalFor = slices.Clone(c.RequireApprovalFor)
	return c
}

// Validate checks the config for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the config is valid.
func (c SessionConfig) Validate() error {
	var ve ValidationError

	if err := c.DefaultGateQuorum.Validate(); err != nil {
		ve.Add("default_gate_quorum", err.Error())
	}
	if c.MaxParticipants < 1 {
		ve.Add("max_participants", fmt.Sprintf("must be at least 1, got %d", c.MaxParticipants))
	}
	if !c.Ordering.IsValid() {
		ve.Add("ordering", fmt.Sprintf("invalid value %q", c.Ordering))
	}
	if !c.OnParticipantTimeout.IsValid() {
		ve.Add("on_participant_timeout", fmt.Sprintf("invalid value %q", c.OnParticipantTimeout))
	}
	if c.HeartbeatIntervalSeconds < 1 {
		ve.Add("heartbeat_interval_seconds", "must be positive")
	}
	if c.IdleTimeoutSeconds < c.HeartbeatIntervalSeconds {
		ve.Add("idle_timeout_seconds", "must be at least heartbeat_interval_seconds")
	}
	if c.AwayTimeoutSeconds <= c.IdleTimeoutSeconds {
		ve.Add("away_timeout_seconds", "must be greater than idle_timeout_seconds")
	}
	for _, cat := range c.RequireApprovalFor {
		if cat == "" {
			ve.Add("require_approval_for", "must not contain empty categories")
			break
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// SessionConfigPatch carries the fields of a session.config_update. Nil
// fields are left unchanged.
type SessionConfigPatch struct {
	RequireApprovalFor       *[]string      `json:"require_approval_for,omitempty"`
	DefaultGateQuorum        *QuorumRule    `json:"default_gate_quorum,omitempty"`
	AllowForks               *bool          `json:"allow_forks,omitempty"`
	MaxParticipants          *int           `json:"max_participants,omitempty"`
	Ordering                 *OrderingMode  `json:"ordering,omitempty"`
	OnParticipantTimeout     *TimeoutPolicy `json:"on_participant_timeout,omitempty"`
	HeartbeatIntervalSeconds *int           `json:"heartbeat_interval_seconds,omitempty"`
	IdleTimeoutSeconds       *int           `json:"idle_timeout_seconds,omitempty"`
	AwayTimeoutSeconds       *int           `json:"away_timeout_seconds,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p SessionConfigPatch) IsEmpty() bool {
	return p == SessionConfigPatch{}
}

// Apply returns a copy of c with the patch applied. c is not modified.
func (p SessionConfigPatch) Apply(c SessionConfig) SessionConfig {
	out := c.Clone()
	if p.RequireApprovalFor != nil {
		out.RequireApprovalFor = slices.Clone(*p.RequireApprovalFor)
	}
	if p.DefaultGateQuorum != nil {
		out.DefaultGateQuorum = *p.DefaultGateQuorum
	}
	if p.AllowForks != nil {
		out.AllowForks = *p.AllowForks
	}
	if p.MaxParticipants != nil {
		out.MaxParticipants = *p.MaxParticipants
	}
	if p.Ordering != nil {
		out.Ordering = *p.Ordering
	}
	if p.OnParticipantTimeout != nil {
		out.OnParticipantTimeout = *p.OnParticipantTimeout
	}
	if p.HeartbeatIntervalSeconds != nil {
		out.HeartbeatIntervalSeconds = *p.HeartbeatIntervalSeconds
	}
	if p.IdleTimeoutSeconds != nil {
		out.IdleTimeoutSeconds = *p.IdleTimeoutSeconds
	}
	if p.AwayTimeoutSeconds != nil {
		out.AwayTimeoutSeconds = *p.AwayTimeoutSeconds
	}
	return out
}
