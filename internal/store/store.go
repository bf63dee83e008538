package store

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

// Store is the primary-store interface. Every read is tenant-scoped; no
// operation crosses tenants.
//
// Inserts assign the record's ID and CreatedAt (when zero) on the passed
// struct. Each call uses an independently scoped session; callers never hold
// a transaction across external calls.
type Store interface {
	// Memory logs.
	InsertMemoryLog(ctx context.Context, log *MemoryLog) error
	GetMemoryLog(ctx context.Context, key tenant.Key, id int64) (*MemoryLog, error)
	UpdateMemoryLogEmbedding(ctx context.Context, key tenant.Key, id int64, embedding Vector) error
	DeleteMemoryLog(ctx context.Context, key tenant.Key, id int64) error

	// Mental notes.
	InsertMentalNote(ctx context.Context, note *MentalNote) error
	GetMentalNote(ctx context.Context, key tenant.Key, id int64) (*MentalNote, error)
	UpdateMentalNoteEmbedding(ctx context.Context, key tenant.Key, id int64, embedding Vector) error
	DeleteMentalNote(ctx context.Context, key tenant.Key, id int64) error

	// Conversations.
	InsertConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, key tenant.Key, id int64) (*Conversation, error)
	DeleteConversation(ctx context.Context, key tenant.Key, id int64) error

	// RecentConversations returns up to n conversations ordered by
	// created_at descending.
	RecentConversations(ctx context.Context, key tenant.Key, n int) ([]Conversation, error)

	// CountConversations returns the tenant's total conversation count.
	CountConversations(ctx context.Context, key tenant.Key) (int, error)

	// CountConversationsInSession returns the conversation count within a
	// session; session state for the pipeline.
	CountConversationsInSession(ctx context.Context, key tenant.Key, sessionID string) (int, error)

	// CountConversationsInWindow counts conversations with created_at in
	// the inclusive window. The retrieval time gate uses this so an empty
	// window is detected without an embedding call.
	CountConversationsInWindow(ctx context.Context, key tenant.Key, start, end time.Time) (int, error)

	// CountMemoryLogsInWindow counts memory logs with created_at in the
	// inclusive window; the time gate consults it when the strategy also
	// queries memory logs.
	CountMemoryLogsInWindow(ctx context.Context, key tenant.Key, start, end time.Time) (int, error)

	// Audit logs, append-only.
	InsertICMLog(ctx context.Context, log *ICMLog) error
	InsertRetrievalLog(ctx context.Context, log *RetrievalLog) error
	InsertRequestLog(ctx context.Context, log *RequestLog) error

	Ping(ctx context.Context) error
	Close() error
}
