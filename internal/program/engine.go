// Package program delivers scheduled program content into coach-client
// conversations, at most once per (enrollment, element, day). The
// conditional delivery-record insert is the idempotency guard: an element
// is claimed before anything is sent, the same atomic-claim idiom the
// escalation timers use, so overlapping scheduler runs cannot double
// deliver.
package program

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coachline/internal/logging"
	"coachline/internal/metrics"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// MessageSender is the relay surface the engine delivers through.
type MessageSender interface {
	DeliverSystemMessage(ctx context.Context, conversationID string, sender types.Identity, content string) (*types.Message, error)
}

// DayReport summarizes one DeliverDay invocation.
type DayReport struct {
	EnrollmentID string
	ProgramDay   int
	Claimed      int
	Skipped      int
	TasksCreated int
	MessageID    string
}

// Engine computes program days and delivers each day's content elements
// exactly once per enrollment.
type Engine struct {
	store  interfaces.Store
	sender MessageSender
	tasks  interfaces.TaskCreator
	now    func() time.Time
}

// NewEngine wires the delivery engine.
func NewEngine(store interfaces.Store, sender MessageSender, tasks interfaces.TaskCreator) *Engine {
	return &Engine{store: store, sender: sender, tasks: tasks, now: time.Now}
}

// DeliverDay resolves the elements scheduled for the enrollment's program
// day, claims each through the conditional delivery-record insert, and
// delivers the claimed elements as one combined message through the
// relay's persistence+broadcast path.
//
// Element resolution failure aborts before any delivery. A message that
// persists but whose task creation fails still counts as delivered: the
// claim is already recorded and a human can create the task manually.
func (e *Engine) DeliverDay(ctx context.Context, enrollment *types.Enrollment, programDay int) (*DayReport, error) {
	report := &DayReport{EnrollmentID: enrollment.ID, ProgramDay: programDay}
	if programDay < 1 {
		return report, nil
	}

	week, dayOfWeek := Coordinate(programDay)
	elements, err := e.store.ElementsFor(ctx, enrollment.TemplateID, week, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("element resolution failed: %w", err)
	}
	if len(elements) == 0 {
		return report, nil
	}

	// Claim before sending. A false claim means another run already
	// delivered the element; that is the expected skip signal, not an
	// error.
	var claimed []*types.TemplateElement
	for _, element := range elements {
		ok, err := e.store.ClaimDelivery(ctx, enrollment.ID, element.ID, programDay)
		if err != nil {
			return nil, fmt.Errorf("delivery claim failed: %w", err)
		}
		if !ok {
			report.Skipped++
			continue
		}
		claimed = append(claimed, element)
	}
	report.Claimed = len(claimed)
	if len(claimed) == 0 {
		return report, nil
	}

	content := composeDayMessage(programDay, claimed)
	msg, err := e.sender.DeliverSystemMessage(ctx, enrollment.ConversationID, types.Identity{
		UserID:      enrollment.CoachID,
		Role:        types.RoleCoach,
		DisplayName: "Program",
	}, content)
	if err != nil {
		// Claims are already recorded; a rerun will not re-attempt these
		// elements. Surface the error so the run is visible in logs.
		return report, fmt.Errorf("program message delivery failed: %w", err)
	}
	report.MessageID = msg.ID
	metrics.ProgramDeliveriesTotal.Add(float64(len(claimed)))

	for _, element := range claimed {
		if element.Kind != types.ElementKindTask {
			continue
		}
		if _, err := e.tasks.CreateTask(ctx, enrollment.ClientID, enrollment.CoachID, types.TaskSpec{
			Title: element.Title,
			Notes: element.Body,
		}); err != nil {
			logging.Error().
				Err(err).
				Str("enrollment_id", enrollment.ID).
				Str("element_id", element.ID).
				Msg("task creation failed")
			continue
		}
		report.TasksCreated++
	}

	return report, nil
}

// RunOnce delivers today's content for every active enrollment.
// Per-enrollment failures are logged and the run continues.
func (e *Engine) RunOnce(ctx context.Context) error {
	enrollments, err := e.store.ActiveEnrollments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active enrollments: %w", err)
	}

	today := e.now()
	for _, enrollment := range enrollments {
		programDay := ComputeProgramDay(enrollment.StartDate, today)
		if programDay < 1 {
			continue
		}
		report, err := e.DeliverDay(ctx, enrollment, programDay)
		if err != nil {
			logging.Error().
				Err(err).
				Str("enrollment_id", enrollment.ID).
				Int("program_day", programDay).
				Msg("program delivery failed")
			continue
		}
		if report.Claimed > 0 {
			logging.Info().
				Str("enrollment_id", enrollment.ID).
				Int("program_day", programDay).
				Int("elements", report.Claimed).
				Int("tasks", report.TasksCreated).
				Msg("program day delivered")
		}
	}
	return nil
}

func composeDayMessage(programDay int, elements []*types.TemplateElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Day %d of your program:\n", programDay)
	for _, element := range elements {
		b.WriteString("\n")
		if element.Kind == types.ElementKindTask {
			fmt.Fprintf(&b, "Task: %s\n", element.Title)
		} else {
			fmt.Fprintf(&b, "%s\n", element.Title)
		}
		if element.Body != "" {
			b.WriteString(element.Body)
			b.WriteString("\n")
		}
	}
	return b.String()
}
