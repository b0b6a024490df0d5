package domain

import (
	"sort"
	"strings"
	"time"
)

// SystemType tags built-in rules. System rules have a fixed canonical
// precedence when ties must be broken.
type SystemType string

const (
	SystemColdEmail    SystemType = "cold_email"
	SystemNewsletter   SystemType = "newsletter"
	SystemNotification SystemType = "notification"
	SystemReceipt      SystemType = "receipt"
	SystemToReply      SystemType = "to_reply"
)

// systemTypeRank is the canonical tie-break sequence for built-in rules.
// User rules (empty SystemType) sort after all system rules.
var systemTypeRank = map[SystemType]int{
	SystemColdEmail:    0,
	SystemNewsletter:   1,
	SystemNotification: 2,
	SystemReceipt:      3,
	SystemToReply:      4,
}

func (t SystemType) rank() int {
	if r, ok := systemTypeRank[t]; ok {
		return r
	}
	return len(systemTypeRank)
}

// ConditionField selects which part of the message a static condition
// inspects.
type ConditionField string

const (
	FieldFrom    ConditionField = "from"
	FieldTo      ConditionField = "to"
	FieldSubject ConditionField = "subject"
	FieldBody    ConditionField = "body"
)

// ConditionMatch selects the comparison used by a static condition.
type ConditionMatch string

const (
	MatchSubstring ConditionMatch = "substring"
	MatchExact     ConditionMatch = "exact"
)

// Condition is one static, cheaply-evaluable predicate on a message.
type Condition struct {
	Field ConditionField `json:"field"`
	Match ConditionMatch `json:"match"`
	Value string         `json:"value"`
}

// Matches evaluates the condition against the message fields,
// case-insensitively.
func (c Condition) Matches(from, to, subject, body string) bool {
	var target string
	switch c.Field {
	case FieldFrom:
		target = from
	case FieldTo:
		target = to
	case FieldSubject:
		target = subject
	case FieldBody:
		target = body
	default:
		return false
	}

	target = strings.ToLower(target)
	value := strings.ToLower(c.Value)

	if c.Match == MatchExact {
		return target == value
	}
	return strings.Contains(target, value)
}

// ConditionOperator composes multiple conditions.
type ConditionOperator string

const (
	OperatorAnd ConditionOperator = "AND"
	OperatorOr  ConditionOperator = "OR"
)

// Rule is a user-defined condition-plus-actions automation unit. Rules
// are soft-disabled rather than deleted so execution history keeps its
// references.
type Rule struct {
	ID        string `json:"id" gorm:"primaryKey"`
	MailboxID string `json:"mailbox_id" gorm:"index;not null"`

	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled" gorm:"default:true"`

	// Instructions is the free-text matching guidance for the
	// classifier ("archive newsletters", "reply to customer emails").
	Instructions string `json:"instructions"`

	Conditions        []Condition       `json:"conditions" gorm:"serializer:json"`
	ConditionOperator ConditionOperator `json:"condition_operator" gorm:"default:AND"`

	// RunOnThreads applies the rule once per thread rather than once
	// per message.
	RunOnThreads bool `json:"run_on_threads"`

	SystemType SystemType `json:"system_type"`

	Actions []Action `json:"actions" gorm:"foreignKey:RuleID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchesStatic evaluates only the static conditions. A rule with no
// conditions always passes: static filtering must over-approximate what
// the classifier could select.
func (r *Rule) MatchesStatic(from, to, subject, body string) bool {
	if len(r.Conditions) == 0 {
		return true
	}

	if r.ConditionOperator == OperatorOr {
		for _, c := range r.Conditions {
			if c.Matches(from, to, subject, body) {
				return true
			}
		}
		return false
	}

	for _, c := range r.Conditions {
		if !c.Matches(from, to, subject, body) {
			return false
		}
	}
	return true
}

// SortRules orders rules by the deterministic tie-break contract:
// enabled before disabled, then canonical system-rule order, then name,
// then instruction text. This order is stable and reproducible for the
// same rule set, and is the order candidates are presented to the
// classifier -- when the model is indifferent, the earliest rule wins.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Enabled != b.Enabled {
			return a.Enabled
		}
		if a.SystemType.rank() != b.SystemType.rank() {
			return a.SystemType.rank() < b.SystemType.rank()
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Instructions < b.Instructions
	})
}
