package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semantixd/internal/logging"
	"github.com/fyrsmithlabs/semantixd/internal/store"
	"github.com/fyrsmithlabs/semantixd/internal/tenant"
	"github.com/fyrsmithlabs/semantixd/internal/vectorstore"
)

// Admin performs record deletion across both stores. The primary row is the
// source of truth: it goes first, and a missing vector record afterwards is
// not an error.
type Admin struct {
	primary store.Store
	vectors vectorstore.Store
	logger  *logging.Logger
}

// NewAdmin creates the admin service.
func NewAdmin(primary store.Store, vectors vectorstore.Store, logger *logging.Logger) *Admin {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Admin{primary: primary, vectors: vectors, logger: logger}
}

// DeleteMemoryLog removes a memory log and its vector record.
func (a *Admin) DeleteMemoryLog(ctx context.Context, key tenant.Key, id int64) error {
	return a.delete(ctx, key, tenant.KindMemory, id, a.primary.DeleteMemoryLog)
}

// DeleteMentalNote removes a mental note and its vector record.
func (a *Admin) DeleteMentalNote(ctx context.Context, key tenant.Key, id int64) error {
	return a.delete(ctx, key, tenant.KindMentalNote, id, a.primary.DeleteMentalNote)
}

// DeleteConversation removes a conversation and its vector record.
func (a *Admin) DeleteConversation(ctx context.Context, key tenant.Key, id int64) error {
	return a.delete(ctx, key, tenant.KindConversation, id, a.primary.DeleteConversation)
}

func (a *Admin) delete(ctx context.Context, key tenant.Key, kind tenant.SourceKind, id int64, primaryDelete func(context.Context, tenant.Key, int64) error) error {
	if err := key.Validate(); err != nil {
		return err
	}

	if err := primaryDelete(ctx, key, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting %s %d: %w", kind, id, err)
	}

	collection, err := tenant.CollectionName(key, kind)
	if err != nil {
		return err
	}
	if err := a.vectors.Delete(ctx, collection, strconv.FormatInt(id, 10)); err != nil {
		// The primary row is gone; the stale vector is logged, not raised.
		a.logger.Warn(ctx, "vector delete failed after primary delete",
			zap.String("source_kind", string(kind)),
			zap.Int64("id", id),
			zap.Error(err))
	}

	a.logger.Info(ctx, "record deleted",
		zap.String("source_kind", string(kind)),
		zap.Int64("id", id))
	return nil
}
