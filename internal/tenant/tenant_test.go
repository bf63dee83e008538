package tenant

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValidate(t *testing.T) {
	assert.NoError(t, Key{UserID: "u", ProjectID: "p"}.Validate())
	assert.ErrorIs(t, Key{UserID: "u"}.Validate(), ErrInvalidTenant)
	assert.ErrorIs(t, Key{ProjectID: "p"}.Validate(), ErrInvalidTenant)
	assert.ErrorIs(t, Key{}.Validate(), ErrInvalidTenant)
}

func TestContextRoundTrip(t *testing.T) {
	key := Key{UserID: "alice", ProjectID: "proj-1"}
	ctx := NewContext(context.Background(), key)

	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFromContextFailClosed(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrMissingTenant)

	ctx := NewContext(context.Background(), Key{UserID: "only-user"})
	_, err = FromContext(ctx)
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestCollectionName(t *testing.T) {
	key := Key{UserID: "alice", ProjectID: "proj-1"}

	name, err := CollectionName(key, KindConversation)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "semantix_conversation_"))
	assert.Len(t, name, len("semantix_conversation_")+16)

	// Deterministic across calls.
	again, err := CollectionName(key, KindConversation)
	require.NoError(t, err)
	assert.Equal(t, name, again)

	// Distinct kinds, distinct collections.
	memName, err := CollectionName(key, KindMemory)
	require.NoError(t, err)
	assert.NotEqual(t, name, memName)

	// Distinct tenants, distinct collections.
	other, err := CollectionName(Key{UserID: "bob", ProjectID: "proj-1"}, KindConversation)
	require.NoError(t, err)
	assert.NotEqual(t, name, other)
}

func TestCollectionNameValidation(t *testing.T) {
	_, err := CollectionName(Key{}, KindMemory)
	assert.ErrorIs(t, err, ErrInvalidTenant)

	_, err = CollectionName(Key{UserID: "u", ProjectID: "p"}, SourceKind("bogus"))
	assert.Error(t, err)
}

func TestAllCollectionNames(t *testing.T) {
	names, err := AllCollectionNames(Key{UserID: "u", ProjectID: "p"})
	require.NoError(t, err)
	assert.Len(t, names, 3)

	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "collection names must be unique")
		seen[n] = true
	}
}
