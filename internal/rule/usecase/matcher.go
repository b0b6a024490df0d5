package usecase

import (
	"strings"

	"mailpilot-backend/internal/rule/domain"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/provider"
)

// SelectCandidates filters a mailbox's enabled rules down to those whose
// static conditions pass the message, in deterministic evaluation order.
// The result over-approximates: a rule that survives here may still be
// rejected by the classifier, but a rule filtered out here can never
// match.
func SelectCandidates(rules []domain.Rule, msg *provider.Message) []domain.Rule {
	from := msg.From
	to := strings.Join(msg.To, ", ")
	subject := msg.Subject
	body := msg.TextBody
	if body == "" {
		body = msg.Snippet
	}

	var candidates []domain.Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.MatchesStatic(from, to, subject, body) {
			candidates = append(candidates, r)
		}
	}
	domain.SortRules(candidates)
	return candidates
}

// ToCandidateRules maps rules into the classifier's input shape,
// preserving order.
func ToCandidateRules(rules []domain.Rule) []ai.CandidateRule {
	out := make([]ai.CandidateRule, 0, len(rules))
	for _, r := range rules {
		types := make([]string, 0, len(r.Actions))
		for _, a := range r.Actions {
			types = append(types, string(a.Type))
		}
		out = append(out, ai.CandidateRule{
			ID:           r.ID,
			Name:         r.Name,
			Instructions: r.Instructions,
			ActionTypes:  types,
		})
	}
	return out
}

// FindRule returns the candidate with the given id, or nil when the
// classifier named a rule outside the candidate set.
func FindRule(rules []domain.Rule, id string) *domain.Rule {
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	return nil
}
