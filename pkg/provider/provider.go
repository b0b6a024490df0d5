package provider

import "context"

// Provider is the uniform contract over heterogeneous mail back-ends.
// Callers never branch on the concrete provider outside construction.
type Provider interface {
	Kind() Kind

	GetMessage(ctx context.Context, id string) (*Message, error)
	GetThread(ctx context.Context, id string) (*Thread, error)

	// ApplyLabels resolves label/category names to provider ids,
	// creating user labels on demand.
	ApplyLabels(ctx context.Context, messageID string, add, remove []string) error
	Archive(ctx context.Context, threadID string) error
	MoveToFolder(ctx context.Context, messageID, folder string) error
	MarkRead(ctx context.Context, messageID string) error
	MarkSpam(ctx context.Context, messageID string) error
	Trash(ctx context.Context, messageID string) error

	CreateDraft(ctx context.Context, params DraftParams) (string, error)
	SendReply(ctx context.Context, params DraftParams) error
	Forward(ctx context.Context, params ForwardParams) error
	SendEmail(ctx context.Context, params DraftParams) error

	// GetHistorySince lists message ids that arrived after cursor.
	GetHistorySince(ctx context.Context, cursor string) (*Delta, error)
	// Watch (re)establishes the push subscription for this mailbox.
	Watch(ctx context.Context) (*WatchInfo, error)
	StopWatch(ctx context.Context) error

	// IsDraftSent reports whether a previously created draft has been
	// sent (or deleted) by the user since creation.
	IsDraftSent(ctx context.Context, draftID string) (bool, error)
}
