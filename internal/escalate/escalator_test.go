package escalate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachline/pkg/types"
)

type mockChannel struct {
	mu     sync.Mutex
	alerts []types.EscalationContext
	fired  chan struct{}
}

func newMockChannel() *mockChannel {
	return &mockChannel{fired: make(chan struct{}, 16)}
}

func (m *mockChannel) SendEscalatedAlert(_ context.Context, _ types.Participant, alert types.EscalationContext) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	m.fired <- struct{}{}
	return nil
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

func (m *mockChannel) waitFired(t *testing.T) {
	t.Helper()
	select {
	case <-m.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("escalation did not fire in time")
	}
}

func recipient() types.Participant {
	return types.Participant{UserID: "user_b", Role: types.RoleClient, DisplayName: "B"}
}

func alertFor(messageID string) types.EscalationContext {
	return types.EscalationContext{MessageID: messageID, ConversationID: "conv_1", SenderName: "A", Preview: "hi"}
}

func TestArmThenFire(t *testing.T) {
	channel := newMockChannel()
	e := NewEscalator(channel, 10*time.Millisecond)
	defer e.Stop()

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))
	assert.Equal(t, 1, e.Pending())

	channel.waitFired(t)
	assert.Equal(t, 1, channel.count())
	assert.Equal(t, 0, e.Pending())
}

func TestCancelPreventsFiring(t *testing.T) {
	channel := newMockChannel()
	e := NewEscalator(channel, 30*time.Millisecond)
	defer e.Stop()

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))
	e.Cancel("msg_1")
	assert.Equal(t, 0, e.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, channel.count())
}

func TestRearmWhileArmedRejected(t *testing.T) {
	channel := newMockChannel()
	e := NewEscalator(channel, time.Hour)
	defer e.Stop()

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))
	assert.ErrorIs(t, e.Arm("msg_1", recipient(), alertFor("msg_1")), ErrAlreadyArmed)
	assert.Equal(t, 1, e.Pending())
}

func TestCancelUnknownIsNoOp(t *testing.T) {
	e := NewEscalator(newMockChannel(), time.Hour)
	defer e.Stop()

	e.Cancel("never_armed")
	assert.Equal(t, 0, e.Pending())
}

func TestCancelAfterFireIsNoOp(t *testing.T) {
	channel := newMockChannel()
	e := NewEscalator(channel, 10*time.Millisecond)
	defer e.Stop()

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))
	channel.waitFired(t)

	e.Cancel("msg_1")
	assert.Equal(t, 1, channel.count())
}

// Racing Cancel against the timer callback must resolve to exactly one
// outcome per message: either the alert went out or it never will.
func TestCancelFireRaceExactlyOneOutcome(t *testing.T) {
	const rounds = 200

	var fired atomic.Int32
	channel := &countingChannel{fired: &fired}

	for i := 0; i < rounds; i++ {
		e := NewEscalator(channel, time.Millisecond)
		require.NoError(t, e.Arm("msg", recipient(), alertFor("msg")))

		time.Sleep(time.Millisecond)
		before := fired.Load()
		e.Cancel("msg")
		e.Stop()

		// If the callback won, exactly one alert was recorded; if Cancel
		// won, none was and none ever will be.
		after := fired.Load()
		assert.LessOrEqual(t, after-before, int32(1))
	}
}

type countingChannel struct {
	fired *atomic.Int32
}

func (c *countingChannel) SendEscalatedAlert(context.Context, types.Participant, types.EscalationContext) error {
	c.fired.Add(1)
	return nil
}

// A stale timer callback (its entry already replaced after a cancel and
// re-arm) must not evict the current entry when it cleans up.
func TestStaleFireLeavesReArmedEntry(t *testing.T) {
	channel := newMockChannel()
	e := NewEscalator(channel, time.Hour)
	defer e.Stop()

	stale := &pending{recipient: recipient(), alert: alertFor("msg_1")}
	stale.timer = time.AfterFunc(time.Hour, func() {})
	defer stale.timer.Stop()

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))

	e.fire("msg_1", stale)
	channel.waitFired(t)

	// The current entry survives and stays cancelable.
	assert.Equal(t, 1, e.Pending())
	e.Cancel("msg_1")
	assert.Equal(t, 0, e.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, channel.count())
}

func TestStopCancelsAllPending(t *testing.T) {
	channel := newMockChannel()
	e := NewEscalator(channel, 50*time.Millisecond)

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))
	require.NoError(t, e.Arm("msg_2", recipient(), alertFor("msg_2")))
	e.Stop()
	assert.Equal(t, 0, e.Pending())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, channel.count())
}

func TestFailingChannelDoesNotPanic(t *testing.T) {
	e := NewEscalator(failingChannel{}, 5*time.Millisecond)
	defer e.Stop()

	require.NoError(t, e.Arm("msg_1", recipient(), alertFor("msg_1")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, e.Pending())
}

type failingChannel struct{}

func (failingChannel) SendEscalatedAlert(context.Context, types.Participant, types.EscalationContext) error {
	return assert.AnError
}
