package model

import (
	"fmt"
	"strconv"
	"strings"
)

// QuorumKind selects how a gate's votes are tallied.
type QuorumKind string

const (
	QuorumAny      QuorumKind = "any"
	QuorumAll      QuorumKind = "all"
	QuorumMajority QuorumKind = "majority"
)

// QuorumRule is the approval policy for a gate. Count applies to QuorumAny only.
//
// The text form is "all", "majority", "any" (count 1) or "any:N".
type QuorumRule struct {
	Kind  QuorumKind `json:"kind"`
	Count int        `json:"count,omitempty"`
}

// AnyOf returns an any(n) rule.
func AnyOf(n int) QuorumRule { return QuorumRule{Kind: QuorumAny, Count: n} }

// All returns the unanimous rule.
func All() QuorumRule { return QuorumRule{Kind: QuorumAll} }

// Majority returns the simple-majority rule.
func Majority() QuorumRule { return QuorumRule{Kind: QuorumMajority} }

// Validate checks the rule is well formed.
func (q QuorumRule) Validate() error {
	switch q.Kind {
	case QuorumAny:
		if q.Count < 1 {
			return fmt.Errorf("any quorum requires count >= 1, got %d", q.Count)
		}
		return nil
	case QuorumAll, QuorumMajority:
		if q.Count != 0 {
			return fmt.Errorf("%s quorum does not take a count", q.Kind)
		}
		return nil
	}
	return fmt.Errorf("unknown quorum kind %q", q.Kind)
}

// String returns the text form of the rule.
func (q QuorumRule) String() string {
	if q.Kind == QuorumAny && q.Count != 1 {
		return "any:" + strconv.Itoa(q.Count)
	}
	return string(q.Kind)
}

// MarshalText implements encoding.TextMarshaler.
func (q QuorumRule) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *QuorumRule) UnmarshalText(b []byte) error {
	rule, err := ParseQuorumRule(string(b))
	if err != nil {
		return err
	}
	*q = rule
	return nil
}

// ParseQuorumRule parses the text form of a quorum rule.
func ParseQuorumRule(s string) (QuorumRule, error) {
	s = strings.TrimSpace(s)
	kind, count, hasCount := strings.Cut(s, ":")
	rule := QuorumRule{Kind: QuorumKind(kind)}
	switch rule.Kind {
	case QuorumAny:
		rule.Count = 1
		if hasCount {
			n, err := strconv.Atoi(count)
			if err != nil {
				return QuorumRule{}, fmt.Errorf("invalid any quorum count %q", count)
			}
			rule.Count = n
		}
	case QuorumAll, QuorumMajority:
		if hasCount {
			return QuorumRule{}, fmt.Errorf("%s quorum does not take a count", kind)
		}
	}
	if err := rule.Validate(); err != nil {
		return QuorumRule{}, err
	}
	return rule, nil
}
