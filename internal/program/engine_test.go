package program

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachline/pkg/types"
)

// Mock store covering the delivery surface of the Store interface.
type mockStore struct {
	mu          sync.Mutex
	enrollments []*types.Enrollment
	elements    map[string][]*types.TemplateElement
	claims      map[string]struct{}

	failElements bool
	failClaim    bool
}

func newMockStore() *mockStore {
	return &mockStore{
		elements: make(map[string][]*types.TemplateElement),
		claims:   make(map[string]struct{}),
	}
}

func elementKey(templateID string, week, dayOfWeek int) string {
	return fmt.Sprintf("%s/%d/%d", templateID, week, dayOfWeek)
}

func (m *mockStore) IsParticipant(context.Context, string, string) (bool, error) {
	return true, nil
}

func (m *mockStore) Participants(context.Context, string) ([]types.Participant, error) {
	return nil, nil
}

func (m *mockStore) InsertMessage(_ context.Context, conversationID string, sender types.Identity, content string) (*types.Message, error) {
	return &types.Message{ID: "msg_1", ConversationID: conversationID, SenderID: sender.UserID, Content: content}, nil
}

func (m *mockStore) TouchConversation(context.Context, string) error { return nil }

func (m *mockStore) RecentMessages(context.Context, string, int) ([]*types.Message, error) {
	return nil, nil
}

func (m *mockStore) ActiveEnrollments(context.Context) ([]*types.Enrollment, error) {
	return m.enrollments, nil
}

func (m *mockStore) ElementsFor(_ context.Context, templateID string, week, dayOfWeek int) ([]*types.TemplateElement, error) {
	if m.failElements {
		return nil, errors.New("element lookup failed")
	}
	return m.elements[elementKey(templateID, week, dayOfWeek)], nil
}

func (m *mockStore) ClaimDelivery(_ context.Context, enrollmentID, elementID string, programDay int) (bool, error) {
	if m.failClaim {
		return false, errors.New("claim failed")
	}
	key := fmt.Sprintf("%s/%s/%d", enrollmentID, elementID, programDay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.claims[key]; exists {
		return false, nil
	}
	m.claims[key] = struct{}{}
	return true, nil
}

func (m *mockStore) Close() error { return nil }

type mockSender struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (m *mockSender) DeliverSystemMessage(_ context.Context, conversationID string, sender types.Identity, content string) (*types.Message, error) {
	if m.fail {
		return nil, errors.New("delivery failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, content)
	return &types.Message{ID: fmt.Sprintf("msg_%d", len(m.messages)), ConversationID: conversationID, SenderID: sender.UserID, Content: content}, nil
}

func (m *mockSender) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

type mockTaskCreator struct {
	mu    sync.Mutex
	specs []types.TaskSpec
	fail  bool
}

func (m *mockTaskCreator) CreateTask(_ context.Context, clientID, coachID string, spec types.TaskSpec) (*types.Task, error) {
	if m.fail {
		return nil, errors.New("task creation failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs = append(m.specs, spec)
	return &types.Task{ID: "task_1", ClientID: clientID, CoachID: coachID, Title: spec.Title}, nil
}

func testEnrollment() *types.Enrollment {
	return &types.Enrollment{
		ID:             "enr_1",
		ClientID:       "client_1",
		CoachID:        "coach_1",
		TemplateID:     "tpl_1",
		ConversationID: "conv_1",
		StartDate:      date(2024, 1, 1),
		Active:         true,
	}
}

func TestDeliverDaySendsOneCombinedMessage(t *testing.T) {
	store := newMockStore()
	store.elements[elementKey("tpl_1", 2, 1)] = []*types.TemplateElement{
		{ID: "el_1", Kind: types.ElementKindMessage, Title: "Check in", Body: "How did last week go?"},
		{ID: "el_2", Kind: types.ElementKindTask, Title: "Log your meals", Body: "Every meal this week."},
	}
	sender := &mockSender{}
	tasks := &mockTaskCreator{}
	engine := NewEngine(store, sender, tasks)

	report, err := engine.DeliverDay(context.Background(), testEnrollment(), 8)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 1, report.TasksCreated)
	assert.NotEmpty(t, report.MessageID)

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Day 8")
	assert.Contains(t, sent[0], "Check in")
	assert.Contains(t, sent[0], "Task: Log your meals")

	require.Len(t, tasks.specs, 1)
	assert.Equal(t, "Log your meals", tasks.specs[0].Title)
}

func TestDeliverDaySecondRunIsNoOp(t *testing.T) {
	store := newMockStore()
	store.elements[elementKey("tpl_1", 1, 1)] = []*types.TemplateElement{
		{ID: "el_1", Kind: types.ElementKindMessage, Title: "Welcome"},
	}
	sender := &mockSender{}
	engine := NewEngine(store, sender, &mockTaskCreator{})

	first, err := engine.DeliverDay(context.Background(), testEnrollment(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Claimed)

	second, err := engine.DeliverDay(context.Background(), testEnrollment(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Claimed)
	assert.Equal(t, 1, second.Skipped)

	assert.Len(t, sender.sent(), 1)
}

func TestDeliverDayConcurrentRunsDeliverOnce(t *testing.T) {
	store := newMockStore()
	store.elements[elementKey("tpl_1", 1, 1)] = []*types.TemplateElement{
		{ID: "el_1", Kind: types.ElementKindMessage, Title: "Welcome"},
	}
	sender := &mockSender{}
	engine := NewEngine(store, sender, &mockTaskCreator{})

	const runs = 10
	var wg sync.WaitGroup
	wg.Add(runs)
	for i := 0; i < runs; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.DeliverDay(context.Background(), testEnrollment(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, sender.sent(), 1)
}

func TestDeliverDayElementFailureAbortsBeforeClaiming(t *testing.T) {
	store := newMockStore()
	store.failElements = true
	sender := &mockSender{}
	engine := NewEngine(store, sender, &mockTaskCreator{})

	_, err := engine.DeliverDay(context.Background(), testEnrollment(), 1)
	require.Error(t, err)
	assert.Empty(t, sender.sent())
	assert.Empty(t, store.claims)
}

func TestDeliverDayTaskFailureDoesNotFailDelivery(t *testing.T) {
	store := newMockStore()
	store.elements[elementKey("tpl_1", 1, 1)] = []*types.TemplateElement{
		{ID: "el_1", Kind: types.ElementKindTask, Title: "Plan workouts"},
	}
	sender := &mockSender{}
	tasks := &mockTaskCreator{fail: true}
	engine := NewEngine(store, sender, tasks)

	report, err := engine.DeliverDay(context.Background(), testEnrollment(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 0, report.TasksCreated)
	assert.Len(t, sender.sent(), 1)
}

func TestDeliverDayEmptySchedule(t *testing.T) {
	store := newMockStore()
	sender := &mockSender{}
	engine := NewEngine(store, sender, &mockTaskCreator{})

	report, err := engine.DeliverDay(context.Background(), testEnrollment(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	assert.Empty(t, sender.sent())
}

func TestRunOnceSkipsFutureEnrollments(t *testing.T) {
	store := newMockStore()
	started := testEnrollment()
	notStarted := testEnrollment()
	notStarted.ID = "enr_2"
	notStarted.StartDate = date(2024, 3, 1)
	store.enrollments = []*types.Enrollment{started, notStarted}
	store.elements[elementKey("tpl_1", 2, 1)] = []*types.TemplateElement{
		{ID: "el_1", Kind: types.ElementKindMessage, Title: "Check in"},
	}

	sender := &mockSender{}
	engine := NewEngine(store, sender, &mockTaskCreator{})
	engine.now = func() time.Time { return date(2024, 1, 8) }

	require.NoError(t, engine.RunOnce(context.Background()))

	// Only the started enrollment lands on day 8 (week 2, day 1).
	require.Len(t, sender.sent(), 1)
	assert.Contains(t, sender.sent()[0], "Day 8")
	_, claimed := store.claims["enr_1/el_1/8"]
	assert.True(t, claimed)
}

func TestRunOnceContinuesPastFailingEnrollment(t *testing.T) {
	store := newMockStore()
	healthy := testEnrollment()
	store.enrollments = []*types.Enrollment{healthy}
	store.elements[elementKey("tpl_1", 1, 1)] = []*types.TemplateElement{
		{ID: "el_1", Kind: types.ElementKindMessage, Title: "Welcome"},
	}

	sender := &mockSender{fail: true}
	engine := NewEngine(store, sender, &mockTaskCreator{})
	engine.now = func() time.Time { return date(2024, 1, 1) }

	// Delivery failures are logged per enrollment; the run itself succeeds.
	assert.NoError(t, engine.RunOnce(context.Background()))
}
