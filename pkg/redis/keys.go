package redis

import "fmt"

var (
	// Processing lock keys
	processingLock string = "pipeline:lock:%s:%s" // mailboxId, messageId

	// Mailbox state keys
	mailboxCooldown string = "mailbox:cooldown:%s" // mailboxId
	mailboxDeferred string = "mailbox:deferred:%s" // mailboxId
	mailboxDigest   string = "mailbox:digest:%s"   // mailboxId

	// Cursor keys
	cursorState string = "cursor:state:%s" // mailboxId
	cursorLock  string = "cursor:lock:%s"  // mailboxId
)

var Keys = &redisKeys{}

type redisKeys struct{}

func (rk *redisKeys) ProcessingLock(mailboxID, messageID string) string {
	return fmt.Sprintf(processingLock, mailboxID, messageID)
}

func (rk *redisKeys) MailboxCooldown(mailboxID string) string {
	return fmt.Sprintf(mailboxCooldown, mailboxID)
}

func (rk *redisKeys) MailboxDeferred(mailboxID string) string {
	return fmt.Sprintf(mailboxDeferred, mailboxID)
}

func (rk *redisKeys) MailboxDigest(mailboxID string) string {
	return fmt.Sprintf(mailboxDigest, mailboxID)
}

func (rk *redisKeys) CursorState(mailboxID string) string {
	return fmt.Sprintf(cursorState, mailboxID)
}

func (rk *redisKeys) CursorLock(mailboxID string) string {
	return fmt.Sprintf(cursorLock, mailboxID)
}
