package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	mailboxdomain "mailpilot-backend/internal/mailbox/domain"
	mailboxrepo "mailpilot-backend/internal/mailbox/repository"
	"mailpilot-backend/internal/rule/domain"
	"mailpilot-backend/internal/rule/repository"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/htmltext"
	"mailpilot-backend/pkg/provider"
	"mailpilot-backend/pkg/webhook"
)

// Executor runs a matched rule's actions against the mail provider and
// records per-action outcomes. Actions are independent: a failure is
// recorded and execution moves on, except for auth and rate-limit
// errors which abort the remainder.
type Executor struct {
	executed  repository.ExecutedRuleRepository
	tracking  repository.TrackingRepository
	mailboxes mailboxrepo.MailboxRepository
	webhooks  *webhook.Sender

	// Actions that generate content (drafts, replies) are skipped when
	// the classifier's confidence falls below this minimum.
	draftConfidenceMin float64
}

func NewExecutor(
	executed repository.ExecutedRuleRepository,
	tracking repository.TrackingRepository,
	mailboxes mailboxrepo.MailboxRepository,
	webhooks *webhook.Sender,
	draftConfidenceMin float64,
) *Executor {
	return &Executor{
		executed:           executed,
		tracking:           tracking,
		mailboxes:          mailboxes,
		webhooks:           webhooks,
		draftConfidenceMin: draftConfidenceMin,
	}
}

// Execute records a PENDING execution, runs each action in position
// order, and finalizes the record. The rule's overall status follows its
// primary action: APPLIED when the first action succeeded, ERROR when it
// failed. A rate-limit or auth error is returned to the caller after the
// record is finalized so the pipeline can pause or stop the mailbox.
func (e *Executor) Execute(
	ctx context.Context,
	prov provider.Provider,
	mb *mailboxdomain.Mailbox,
	msg *provider.Message,
	rule *domain.Rule,
	decision *ai.Decision,
) (*domain.ExecutedRule, error) {
	record := &domain.ExecutedRule{
		ID:         uuid.New().String(),
		MailboxID:  mb.ID,
		MessageID:  msg.ID,
		ThreadID:   msg.ThreadID,
		RuleID:     rule.ID,
		Status:     domain.StatusPending,
		Reason:     decision.Explanation,
		Confidence: decision.Confidence,
	}
	for _, a := range rule.Actions {
		record.Actions = append(record.Actions, domain.ExecutedAction{
			ActionID: a.ID,
			Type:     a.Type,
			Position: a.Position,
			Status:   domain.StatusPending,
		})
	}
	if err := e.executed.Create(record); err != nil {
		return nil, err
	}

	args := templateArgs(msg, decision)

	var abort error
	for i := range rule.Actions {
		outcome := &record.Actions[i]
		if abort != nil {
			outcome.Status = domain.StatusSkipped
			outcome.Error = "aborted: " + abort.Error()
			continue
		}
		if rule.Actions[i].NeedsGeneratedContent() && decision.Confidence < e.draftConfidenceMin {
			outcome.Status = domain.StatusSkipped
			outcome.Error = fmt.Sprintf("confidence %.2f below draft minimum %.2f",
				decision.Confidence, e.draftConfidenceMin)
			continue
		}

		providerID, err := e.runAction(ctx, prov, mb, msg, rule, &rule.Actions[i], args, decision)
		outcome.Attempts = provider.Attempts(err)
		if err != nil {
			outcome.Status = domain.StatusError
			outcome.Error = err.Error()
			log.Printf("[Executor] Action %s failed for message %s: %v", rule.Actions[i].Type, msg.ID, err)
			if provider.IsRateLimited(err) || provider.IsAuthError(err) {
				abort = err
			}
			continue
		}
		outcome.Status = domain.StatusApplied
		outcome.ProviderID = providerID
	}

	// Primary-action semantics: the first action decides the record.
	switch {
	case len(record.Actions) == 0:
		record.Status = domain.StatusApplied
	case record.Actions[0].Status == domain.StatusApplied:
		record.Status = domain.StatusApplied
	case record.Actions[0].Status == domain.StatusSkipped:
		// Held back by the confidence gate, not failed.
		record.Status = domain.StatusSkipped
	default:
		record.Status = domain.StatusError
	}

	if err := e.executed.Finalize(record); err != nil {
		log.Printf("[Executor] Failed to finalize execution %s: %v", record.ID, err)
	}

	if abort != nil && provider.IsAuthError(abort) {
		if err := e.mailboxes.SetStatus(mb.ID, mailboxdomain.StatusAuthError); err != nil {
			log.Printf("[Executor] Failed to flag mailbox %s auth error: %v", mb.ID, err)
		}
	}
	return record, abort
}

func (e *Executor) runAction(
	ctx context.Context,
	prov provider.Provider,
	mb *mailboxdomain.Mailbox,
	msg *provider.Message,
	rule *domain.Rule,
	action *domain.Action,
	args map[string]string,
	decision *ai.Decision,
) (string, error) {
	switch action.Type {
	case domain.ActionArchive:
		return "", prov.Archive(ctx, msg.ThreadID)

	case domain.ActionLabel:
		label := domain.RenderTemplate(action.Label, args)
		return "", prov.ApplyLabels(ctx, msg.ID, []string{label}, nil)

	case domain.ActionMoveFolder:
		return "", prov.MoveToFolder(ctx, msg.ID, action.Folder)

	case domain.ActionMarkRead:
		return "", prov.MarkRead(ctx, msg.ID)

	case domain.ActionMarkSpam:
		return "", prov.MarkSpam(ctx, msg.ID)

	case domain.ActionDraftEmail:
		draftID, err := prov.CreateDraft(ctx, replyParams(msg, action, args))
		if err != nil {
			return "", err
		}
		if err := e.tracking.CreateSentDraft(mb.ID, msg.ThreadID, draftID); err != nil {
			log.Printf("[Executor] Failed to track draft %s: %v", draftID, err)
		}
		return draftID, nil

	case domain.ActionReply:
		return "", prov.SendReply(ctx, replyParams(msg, action, args))

	case domain.ActionForward:
		return "", prov.Forward(ctx, provider.ForwardParams{
			MessageID: msg.ID,
			To:        action.To,
			Note:      htmltext.EnforcePlainText(domain.RenderTemplate(action.Content, args)),
		})

	case domain.ActionSendEmail:
		return "", prov.SendEmail(ctx, provider.DraftParams{
			To:      action.To,
			Cc:      action.Cc,
			Subject: domain.RenderTemplate(action.Subject, args),
			Body:    htmltext.EnforcePlainText(domain.RenderTemplate(action.Content, args)),
		})

	case domain.ActionCallWebhook:
		return "", e.webhooks.Send(ctx, action.URL, action.Secret, webhook.Payload{
			Email: webhook.EmailPayload{
				MessageID: msg.ID,
				ThreadID:  msg.ThreadID,
				From:      msg.From,
				Subject:   msg.Subject,
				Snippet:   msg.Snippet,
			},
			ExecutedRule: webhook.RulePayload{
				RuleID: rule.ID,
				Reason: decision.Explanation,
			},
		})

	case domain.ActionTrackThread:
		return "", e.tracking.TrackThread(mb.ID, msg.ThreadID, rule.ID)

	case domain.ActionDigest:
		return "", e.tracking.AddDigestEntry(&domain.DigestEntry{
			MailboxID: mb.ID,
			MessageID: msg.ID,
			From:      msg.From,
			Subject:   msg.Subject,
			Snippet:   msg.Snippet,
		})
	}
	log.Printf("[Executor] Unknown action type %s on rule %s, skipping", action.Type, rule.ID)
	return "", nil
}

// templateArgs merges message placeholders with the classifier's args.
// Model-generated values win only for keys the message doesn't define.
func templateArgs(msg *provider.Message, decision *ai.Decision) map[string]string {
	args := map[string]string{
		"sender":      msg.From,
		"sender_name": msg.FromName,
		"subject":     msg.Subject,
		"snippet":     msg.Snippet,
	}
	for k, v := range decision.ActionArgs {
		if _, reserved := args[k]; !reserved {
			args[k] = htmltext.EnforcePlainText(v)
		}
	}
	return args
}

// replyParams builds draft/reply parameters threaded onto the incoming
// message. Generated content comes from the classifier's "content" arg
// when present, otherwise from the action template.
func replyParams(msg *provider.Message, action *domain.Action, args map[string]string) provider.DraftParams {
	body := action.Content
	if generated, ok := args["content"]; ok && generated != "" {
		body = generated
	}
	body = htmltext.EnforcePlainText(domain.RenderTemplate(body, args))

	return provider.DraftParams{
		ThreadID:        msg.ThreadID,
		SourceMessageID: msg.ID,
		InReplyTo:       msg.RFCMessageID,
		References:      joinReferences(msg.References, msg.RFCMessageID),
		To:              msg.From,
		Subject:         replySubject(msg.Subject),
		Body:            body,
	}
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func joinReferences(references, messageID string) string {
	if messageID == "" {
		return references
	}
	if references == "" {
		return messageID
	}
	return references + " " + messageID
}
