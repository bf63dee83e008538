package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/semantixd/internal/tenant"
)

// MemoryStore is an in-memory Store for tests and single-process deployments
// without Postgres. Semantics mirror PostgresStore.
type MemoryStore struct {
	mu sync.RWMutex

	nextID        int64
	memoryLogs    map[int64]*MemoryLog
	mentalNotes   map[int64]*MentalNote
	conversations map[int64]*Conversation

	icmLogs       []ICMLog
	retrievalLogs []RetrievalLog
	requestLogs   []RequestLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:        1,
		memoryLogs:    make(map[int64]*MemoryLog),
		mentalNotes:   make(map[int64]*MentalNote),
		conversations: make(map[int64]*Conversation),
	}
}

func (s *MemoryStore) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func matchesTenant(key tenant.Key, userID, projectID string) bool {
	return key.UserID == userID && key.ProjectID == projectID
}

// InsertMemoryLog inserts a memory log and assigns its ID.
func (s *MemoryStore) InsertMemoryLog(ctx context.Context, log *MemoryLog) error {
	if err := validateTenant(log.UserID, log.ProjectID); err != nil {
		return err
	}
	if len(log.RawData) == 0 {
		return fmt.Errorf("%w: raw_data is required", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	log.ID = s.allocID()
	cp := *log
	s.memoryLogs[log.ID] = &cp
	return nil
}

// GetMemoryLog returns a memory log by id, tenant-scoped.
func (s *MemoryStore) GetMemoryLog(ctx context.Context, key tenant.Key, id int64) (*MemoryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.memoryLogs[id]
	if !ok || !matchesTenant(key, log.UserID, log.ProjectID) {
		return nil, ErrNotFound
	}
	cp := *log
	return &cp, nil
}

// UpdateMemoryLogEmbedding backfills the embedding column.
func (s *MemoryStore) UpdateMemoryLogEmbedding(ctx context.Context, key tenant.Key, id int64, embedding Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.memoryLogs[id]
	if !ok || !matchesTenant(key, log.UserID, log.ProjectID) {
		return ErrNotFound
	}
	log.Embedding = embedding
	return nil
}

// DeleteMemoryLog deletes a memory log, tenant-scoped.
func (s *MemoryStore) DeleteMemoryLog(ctx context.Context, key tenant.Key, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.memoryLogs[id]
	if !ok || !matchesTenant(key, log.UserID, log.ProjectID) {
		return ErrNotFound
	}
	delete(s.memoryLogs, id)
	return nil
}

// InsertMentalNote inserts a mental note and assigns its ID.
func (s *MemoryStore) InsertMentalNote(ctx context.Context, note *MentalNote) error {
	if err := validateTenant(note.UserID, note.ProjectID); err != nil {
		return err
	}
	if len(note.RawData) == 0 {
		return fmt.Errorf("%w: raw_data is required", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	note.ID = s.allocID()
	cp := *note
	s.mentalNotes[note.ID] = &cp
	return nil
}

// GetMentalNote returns a mental note by id, tenant-scoped.
func (s *MemoryStore) GetMentalNote(ctx context.Context, key tenant.Key, id int64) (*MentalNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.mentalNotes[id]
	if !ok || !matchesTenant(key, note.UserID, note.ProjectID) {
		return nil, ErrNotFound
	}
	cp := *note
	return &cp, nil
}

// UpdateMentalNoteEmbedding backfills the embedding column.
func (s *MemoryStore) UpdateMentalNoteEmbedding(ctx context.Context, key tenant.Key, id int64, embedding Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.mentalNotes[id]
	if !ok || !matchesTenant(key, note.UserID, note.ProjectID) {
		return ErrNotFound
	}
	note.Embedding = embedding
	return nil
}

// DeleteMentalNote deletes a mental note, tenant-scoped.
func (s *MemoryStore) DeleteMentalNote(ctx context.Context, key tenant.Key, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.mentalNotes[id]
	if !ok || !matchesTenant(key, note.UserID, note.ProjectID) {
		return ErrNotFound
	}
	delete(s.mentalNotes, id)
	return nil
}

// InsertConversation inserts a conversation and assigns its ID.
func (s *MemoryStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	if err := validateTenant(conv.UserID, conv.ProjectID); err != nil {
		return err
	}
	if len(conv.RawData) == 0 {
		return fmt.Errorf("%w: raw_data is required", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.ID = s.allocID()
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

// GetConversation returns a conversation by id, tenant-scoped.
func (s *MemoryStore) GetConversation(ctx context.Context, key tenant.Key, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok || !matchesTenant(key, conv.UserID, conv.ProjectID) {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

// DeleteConversation deletes a conversation, tenant-scoped.
func (s *MemoryStore) DeleteConversation(ctx context.Context, key tenant.Key, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || !matchesTenant(key, conv.UserID, conv.ProjectID) {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) tenantConversations(key tenant.Key) []Conversation {
	out := make([]Conversation, 0)
	for _, conv := range s.conversations {
		if matchesTenant(key, conv.UserID, conv.ProjectID) {
			out = append(out, *conv)
		}
	}
	return out
}

// RecentConversations returns up to n conversations, newest first.
func (s *MemoryStore) RecentConversations(ctx context.Context, key tenant.Key, n int) ([]Conversation, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	convs := s.tenantConversations(key)
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].CreatedAt.After(convs[j].CreatedAt)
		}
		return convs[i].ID > convs[j].ID
	})
	if len(convs) > n {
		convs = convs[:n]
	}
	return convs, nil
}

// CountConversations returns the tenant's total conversation count.
func (s *MemoryStore) CountConversations(ctx context.Context, key tenant.Key) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenantConversations(key)), nil
}

// CountConversationsInSession returns the conversation count within a session.
func (s *MemoryStore) CountConversationsInSession(ctx context.Context, key tenant.Key, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, conv := range s.tenantConversations(key) {
		if conv.SessionID != nil && *conv.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// CountConversationsInWindow counts conversations inside the inclusive window.
func (s *MemoryStore) CountConversationsInWindow(ctx context.Context, key tenant.Key, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, conv := range s.tenantConversations(key) {
		if !conv.CreatedAt.Before(start) && !conv.CreatedAt.After(end) {
			count++
		}
	}
	return count, nil
}

// CountMemoryLogsInWindow counts memory logs inside the inclusive window.
func (s *MemoryStore) CountMemoryLogsInWindow(ctx context.Context, key tenant.Key, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, log := range s.memoryLogs {
		if !matchesTenant(key, log.UserID, log.ProjectID) {
			continue
		}
		if !log.CreatedAt.Before(start) && !log.CreatedAt.After(end) {
			count++
		}
	}
	return count, nil
}

// InsertICMLog appends an ICM log row.
func (s *MemoryStore) InsertICMLog(ctx context.Context, log *ICMLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	log.ID = s.allocID()
	s.icmLogs = append(s.icmLogs, *log)
	return nil
}

// InsertRetrievalLog appends a retrieval log row.
func (s *MemoryStore) InsertRetrievalLog(ctx context.Context, log *RetrievalLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if len(log.Results) == 0 {
		log.Results = []byte("[]")
	}
	log.ID = s.allocID()
	s.retrievalLogs = append(s.retrievalLogs, *log)
	return nil
}

// InsertRequestLog appends a request log row.
func (s *MemoryStore) InsertRequestLog(ctx context.Context, log *RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	log.ID = s.allocID()
	s.requestLogs = append(s.requestLogs, *log)
	return nil
}

// ICMLogs returns a copy of all ICM log rows, optionally filtered by type.
// Test helper; Postgres deployments query the table directly.
func (s *MemoryStore) ICMLogs(icmType string) []ICMLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ICMLog, 0, len(s.icmLogs))
	for _, log := range s.icmLogs {
		if icmType == "" || log.ICMType == icmType {
			out = append(out, log)
		}
	}
	return out
}

// RetrievalLogs returns a copy of all retrieval log rows.
func (s *MemoryStore) RetrievalLogs() []RetrievalLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RetrievalLog(nil), s.retrievalLogs...)
}

// RequestLogs returns a copy of all request log rows.
func (s *MemoryStore) RequestLogs() []RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RequestLog(nil), s.requestLogs...)
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close releases nothing.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
