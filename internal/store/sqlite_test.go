package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLite, conversationID string) {
	t.Helper()
	err := s.CreateConversation(context.Background(), conversationID, []types.Participant{
		{UserID: "coach_1", Role: types.RoleCoach, DisplayName: "Dana"},
		{UserID: "client_1", Role: types.RoleClient, DisplayName: "Sam"},
	})
	require.NoError(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening applies no migrations twice.
	s, err = Open(path, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestIsParticipant(t *testing.T) {
	s := openTestStore(t)
	seedConversation(t, s, "conv_1")
	ctx := context.Background()

	member, err := s.IsParticipant(ctx, "conv_1", "coach_1")
	require.NoError(t, err)
	assert.True(t, member)

	member, err = s.IsParticipant(ctx, "conv_1", "stranger")
	require.NoError(t, err)
	assert.False(t, member)

	member, err = s.IsParticipant(ctx, "conv_missing", "coach_1")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestParticipants(t *testing.T) {
	s := openTestStore(t)
	seedConversation(t, s, "conv_1")

	participants, err := s.Participants(context.Background(), "conv_1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "client_1", participants[0].UserID)
	assert.Equal(t, "coach_1", participants[1].UserID)
}

func TestParticipantsMissingConversation(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Participants(context.Background(), "conv_missing")
	assert.ErrorIs(t, err, interfaces.ErrConversationNotFound)
}

func TestInsertAndRecentMessages(t *testing.T) {
	s := openTestStore(t)
	seedConversation(t, s, "conv_1")
	ctx := context.Background()
	sender := types.Identity{UserID: "coach_1", Role: types.RoleCoach, DisplayName: "Dana"}

	for i := 0; i < 5; i++ {
		msg, err := s.InsertMessage(ctx, "conv_1", sender, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
		// Distinct created_at values keep the replay order deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := s.RecentMessages(ctx, "conv_1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "message 2", msgs[0].Content)
	assert.Equal(t, "message 4", msgs[2].Content)

	msgs, err = s.RecentMessages(ctx, "conv_other", 3)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTouchConversation(t *testing.T) {
	s := openTestStore(t)
	seedConversation(t, s, "conv_1")

	assert.NoError(t, s.TouchConversation(context.Background(), "conv_1"))
}

func seedProgram(t *testing.T, s *SQLite) *types.Enrollment {
	t.Helper()
	ctx := context.Background()
	seedConversation(t, s, "conv_1")
	require.NoError(t, s.CreateTemplate(ctx, "tpl_1", "Starter Program"))
	require.NoError(t, s.CreateTemplateElement(ctx, &types.TemplateElement{
		ID: "el_1", TemplateID: "tpl_1", Week: 1, DayOfWeek: 1,
		Kind: types.ElementKindMessage, Title: "Welcome", Body: "Glad to have you.",
	}))
	enrollment := &types.Enrollment{
		ID: "enr_1", ClientID: "client_1", CoachID: "coach_1",
		TemplateID: "tpl_1", ConversationID: "conv_1",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Active: true,
	}
	require.NoError(t, s.CreateEnrollment(ctx, enrollment))
	return enrollment
}

func TestActiveEnrollments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProgram(t, s)
	require.NoError(t, s.CreateEnrollment(ctx, &types.Enrollment{
		ID: "enr_2", ClientID: "client_1", CoachID: "coach_1",
		TemplateID: "tpl_1", ConversationID: "conv_1",
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Active: false,
	}))

	enrollments, err := s.ActiveEnrollments(ctx)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, "enr_1", enrollments[0].ID)
	assert.Equal(t, 2024, enrollments[0].StartDate.Year())
}

func TestElementsFor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProgram(t, s)

	elements, err := s.ElementsFor(ctx, "tpl_1", 1, 1)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "Welcome", elements[0].Title)

	// A rest day on an existing template is empty, not an error.
	elements, err = s.ElementsFor(ctx, "tpl_1", 1, 2)
	require.NoError(t, err)
	assert.Empty(t, elements)

	_, err = s.ElementsFor(ctx, "tpl_missing", 1, 1)
	assert.ErrorIs(t, err, interfaces.ErrTemplateNotFound)
}

func TestClaimDeliveryOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProgram(t, s)

	claimed, err := s.ClaimDelivery(ctx, "enr_1", "el_1", 1)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimDelivery(ctx, "enr_1", "el_1", 1)
	require.NoError(t, err)
	assert.False(t, claimed)

	// A different program day is a distinct claim.
	claimed, err = s.ClaimDelivery(ctx, "enr_1", "el_1", 8)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimDeliveryConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedProgram(t, s)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimDelivery(ctx, "enr_1", "el_1", 1)
			assert.NoError(t, err)
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestWriteAfterCloseFails(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.InsertMessage(context.Background(), "conv_1", types.Identity{UserID: "u"}, "hi")
	assert.ErrorIs(t, err, ErrClosed)

	// Double close is safe.
	assert.NoError(t, s.Close())
}
