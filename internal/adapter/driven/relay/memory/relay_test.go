package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextFields(t *testing.T, ch <-chan domain.Fields) domain.Fields {
	t.Helper()
	select {
	case f, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func nextChange(t *testing.T, ch <-chan domain.DocumentChange) domain.DocumentChange {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
		return domain.DocumentChange{}
	}
}

func TestRelayCreateGetAndMerge(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	defer r.Close()

	id, err := r.CreateDocument(ctx, "calls")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	f, err := r.GetDocument(ctx, "calls", id)
	require.NoError(t, err)
	assert.Equal(t, domain.Fields{}, f)

	require.NoError(t, r.SetDocument(ctx, "calls", id, domain.Fields{"offer": "O1"}, false))
	require.NoError(t, r.SetDocument(ctx, "calls", id, domain.Fields{"answer": "A1"}, true))

	f, err = r.GetDocument(ctx, "calls", id)
	require.NoError(t, err)
	assert.Equal(t, domain.Fields{"offer": "O1", "answer": "A1"}, f)

	require.NoError(t, r.SetDocument(ctx, "calls", id, domain.Fields{"answer": "A2"}, false))
	f, err = r.GetDocument(ctx, "calls", id)
	require.NoError(t, err)
	assert.Equal(t, domain.Fields{"answer": "A2"}, f)
}

func TestRelayGetMissingDocumentReturnsNil(t *testing.T) {
	r := NewRelay()
	f, err := r.GetDocument(context.Background(), "calls", "missing")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestRelayReturnedFieldsAreCopies(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	id, err := r.CreateDocument(ctx, "calls")
	require.NoError(t, err)
	require.NoError(t, r.SetDocument(ctx, "calls", id, domain.Fields{"offer": map[string]any{"sdp": "O1"}}, false))

	f, err := r.GetDocument(ctx, "calls", id)
	require.NoError(t, err)
	f["offer"].(map[string]any)["sdp"] = "mutated"

	f, err = r.GetDocument(ctx, "calls", id)
	require.NoError(t, err)
	assert.Equal(t, "O1", f["offer"].(map[string]any)["sdp"])
}

func TestRelayAddToMissingParentFails(t *testing.T) {
	r := NewRelay()
	_, err := r.AddToSubcollection(context.Background(), "calls", "missing", "offerCandidates", domain.Fields{"candidate": "c"})
	assert.True(t, errors.Is(err, domain.ErrDocumentNotFound))
}

func TestRelayDocumentSubscriptionDeliversCurrentThenUpdates(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	id, err := r.CreateDocument(ctx, "calls")
	require.NoError(t, err)
	require.NoError(t, r.SetDocument(ctx, "calls", id, domain.Fields{"offer": "O1"}, false))

	sub, err := r.OnDocumentChange(ctx, "calls", id)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, domain.Fields{"offer": "O1"}, nextFields(t, sub.Events()))

	require.NoError(t, r.SetDocument(ctx, "calls", id, domain.Fields{"answer": "A1"}, true))
	assert.Equal(t, domain.Fields{"offer": "O1", "answer": "A1"}, nextFields(t, sub.Events()))
}

func TestRelaySubcollectionSubscriptionReplaysExistingInOrder(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	id, err := r.CreateDocument(ctx, "calls")
	require.NoError(t, err)

	first, err := r.AddToSubcollection(ctx, "calls", id, "offerCandidates", domain.Fields{"candidate": "c1"})
	require.NoError(t, err)

	sub, err := r.OnSubcollectionChange(ctx, "calls", id, "offerCandidates")
	require.NoError(t, err)
	defer sub.Close()

	second, err := r.AddToSubcollection(ctx, "calls", id, "offerCandidates", domain.Fields{"candidate": "c2"})
	require.NoError(t, err)
	_, err = r.AddToSubcollection(ctx, "calls", id, "answerCandidates", domain.Fields{"candidate": "other"})
	require.NoError(t, err)

	c := nextChange(t, sub.Events())
	assert.Equal(t, domain.ChangeAdded, c.Type)
	assert.Equal(t, first, c.ID)
	assert.Equal(t, "c1", c.Fields["candidate"])

	c = nextChange(t, sub.Events())
	assert.Equal(t, second, c.ID)
	assert.Equal(t, "c2", c.Fields["candidate"])

	select {
	case c := <-sub.Events():
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayCloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	r := NewRelay()
	id, err := r.CreateDocument(ctx, "calls")
	require.NoError(t, err)
	sub, err := r.OnDocumentChange(ctx, "calls", id)
	require.NoError(t, err)
	nextFields(t, sub.Events())

	require.NoError(t, r.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Error(t, sub.Err())

	_, err = r.CreateDocument(ctx, "calls")
	assert.Error(t, err)
}
