package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/lock"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/scheduler"
	"github.com/dripflow/dripflow/pkg/tracking"
)

const (
	leadLockTTL  = 30 * time.Second
	saveAttempts = 3
	saveBackoff  = 50 * time.Millisecond
)

// CompletionMonitor is notified after every terminal lead transition so the
// campaign can be flipped to completed once no lead is still active.
type CompletionMonitor interface {
	CheckCompletion(ctx context.Context, campaignID string) error
}

// Engine is the directed-graph interpreter. Given a lead and its campaign's
// validated graph, it runs nodes until the lead pauses, completes or fails,
// and reacts to the three resume triggers: a durable timer firing, an
// external tracking event, and a dispatch acknowledgement.
//
// Every entry point acquires the lead's execution lock, reloads the lead
// fresh from persistence and rebuilds the graph, so no in-memory state is
// trusted across a suspension or a process restart. A resume that finds the
// lead in a state inconsistent with its expectation returns OutcomeStale and
// changes nothing; that is how the event/timer race resolves to exactly one
// winner.
type Engine struct {
	persistence persistence.Persistence
	tracker     *tracking.Store
	scheduler   scheduler.Scheduler
	publisher   eventbus.EventPublisher
	locker      lock.Locker
	monitor     CompletionMonitor
	logger      *slog.Logger
	workerID    string
	now         func() time.Time
}

func NewEngine(
	p persistence.Persistence,
	tracker *tracking.Store,
	sched scheduler.Scheduler,
	publisher eventbus.EventPublisher,
	locker lock.Locker,
	monitor CompletionMonitor,
	logger *slog.Logger,
	workerID string,
) *Engine {
	return &Engine{
		persistence: p,
		tracker:     tracker,
		scheduler:   sched,
		publisher:   publisher,
		locker:      locker,
		monitor:     monitor,
		logger:      logger.With("module", "flow_engine", "worker_id", workerID),
		workerID:    workerID,
		now:         time.Now,
	}
}

// Run drives a pending or running lead forward until it pauses, completes or
// fails. Terminal and paused leads are left untouched.
func (e *Engine) Run(ctx context.Context, leadID string) (Outcome, error) {
	return e.withLead(ctx, leadID, func(ctx context.Context, lead *models.Lead, g *Graph) (Outcome, error) {
		if lead.IsTerminal() {
			e.logger.InfoContext(ctx, "Ignoring run for terminal lead", "lead_id", lead.ID, "status", lead.Status)

			return OutcomeStale, nil
		}

		if lead.Status == models.LeadStatusPaused {
			// A paused lead is woken by its own trigger, never by run.
			return OutcomeStale, nil
		}

		if lead.Status == models.LeadStatusPending {
			if err := lead.Start(e.now().UTC()); err != nil {
				return OutcomeStale, nil
			}

			e.journal(ctx, lead, nil, "lead started")
		}

		return e.execute(ctx, lead, g)
	})
}

// ResumeByTimer is invoked when a wait or condition-timeout deadline fires.
// The timer id must still match the lead's armed timer: a resume carrying a
// canceled or superseded timer is stale and changes nothing, which is the
// losing side of the event/timer race.
func (e *Engine) ResumeByTimer(ctx context.Context, leadID, timerID string) (Outcome, error) {
	return e.withLead(ctx, leadID, func(ctx context.Context, lead *models.Lead, g *Graph) (Outcome, error) {
		if lead.IsTerminal() {
			e.logger.InfoContext(ctx, "Ignoring timer resume for terminal lead", "lead_id", lead.ID)

			return OutcomeStale, nil
		}

		if lead.Status != models.LeadStatusPaused {
			return OutcomeStale, nil
		}

		if lead.ScheduledTimerID == "" || (timerID != "" && lead.ScheduledTimerID != timerID) {
			e.logger.InfoContext(ctx, "Stale timer resume",
				"lead_id", lead.ID,
				"timer_id", timerID,
				"armed_timer_id", lead.ScheduledTimerID)

			return OutcomeStale, nil
		}

		next := g.Node(lead.NextNode)
		if next == nil {
			return e.failLead(ctx, lead, fmt.Sprintf("stored next node %q missing from graph", lead.NextNode))
		}

		now := e.now().UTC()

		if current := g.Node(lead.CurrentNode); current != nil && current.Kind == models.NodeKindWait {
			lead.MarkWaitCompleted(current.ID)
		}

		if err := lead.Resume(now); err != nil {
			return OutcomeStale, nil
		}

		lead.CurrentNode = next.ID
		lead.AppendPath(next.ID)
		e.journal(ctx, lead, next, "resumed by timer")

		return e.execute(ctx, lead, g)
	})
}

// ResumeByEvent is invoked after the tracking bridge consumed a waiting
// event for the given condition node. It revokes the pending timeout timer
// (best-effort), redirects the lead onto the condition's yes branch, and
// clears the completion ledger for the subgraph being re-entered so its
// nodes are not skipped as already done from the abandoned timeout pass.
func (e *Engine) ResumeByEvent(ctx context.Context, leadID, conditionNodeID string) (Outcome, error) {
	return e.withLead(ctx, leadID, func(ctx context.Context, lead *models.Lead, g *Graph) (Outcome, error) {
		if lead.IsTerminal() {
			e.logger.InfoContext(ctx, "Ignoring event resume for terminal lead", "lead_id", lead.ID)

			return OutcomeStale, nil
		}

		if lead.Status != models.LeadStatusPaused {
			return OutcomeStale, nil
		}

		cond := g.Node(conditionNodeID)
		if cond == nil || cond.Kind != models.NodeKindCondition {
			return OutcomeStale, nil
		}

		if !lead.HasCompleted(conditionNodeID) {
			// The condition was never armed for this lead, or an earlier
			// event already switched the branch.
			return OutcomeStale, nil
		}

		reachable := g.Reachable(conditionNodeID)
		if lead.CurrentNode != conditionNodeID && !reachable[lead.CurrentNode] {
			e.logger.InfoContext(ctx, "Stale event resume, lead moved past condition",
				"lead_id", lead.ID,
				"condition_node_id", conditionNodeID,
				"current_node", lead.CurrentNode)

			return OutcomeStale, nil
		}

		if lead.ScheduledTimerID != "" {
			result, err := e.scheduler.Cancel(ctx, lead.ScheduledTimerID)
			if err != nil {
				e.logger.ErrorContext(ctx, "Failed to cancel timer", "timer_id", lead.ScheduledTimerID, "error", err)
			}

			if result != scheduler.CancelRevoked {
				// The timer may still fire; the staleness check above will
				// discard its resume because the timer handle is cleared.
				e.logger.InfoContext(ctx, "Timer cancellation not confirmed", "timer_id", lead.ScheduledTimerID)
			}
		}

		if err := e.tracker.ClearWaiting(ctx, lead.ID, conditionNodeID); err != nil {
			e.logger.ErrorContext(ctx, "Failed to disarm condition node", "error", err)
		}

		yes, ok := g.Successor(conditionNodeID, models.BranchYes)
		if !ok {
			return e.failLead(ctx, lead, fmt.Sprintf("condition node %q lost its yes branch", conditionNodeID))
		}

		lead.ClearLedger(reachable)

		now := e.now().UTC()
		if err := lead.Resume(now); err != nil {
			return OutcomeStale, nil
		}

		lead.CurrentNode = yes.ID
		lead.AppendPath("branch:yes:" + conditionNodeID)
		lead.AppendPath(yes.ID)
		e.journal(ctx, lead, cond, "event won against timeout, switching to yes branch")

		return e.execute(ctx, lead, g)
	})
}

// HandleDispatchCompleted resumes a lead paused on an outbound dispatch
// acknowledgement.
func (e *Engine) HandleDispatchCompleted(ctx context.Context, leadID, nodeID string) (Outcome, error) {
	return e.withLead(ctx, leadID, func(ctx context.Context, lead *models.Lead, g *Graph) (Outcome, error) {
		if lead.IsTerminal() || lead.Status != models.LeadStatusPaused {
			return OutcomeStale, nil
		}

		if lead.CurrentNode != nodeID || lead.ScheduledTimerID != "" {
			return OutcomeStale, nil
		}

		next := g.Node(lead.NextNode)
		if next == nil {
			return e.failLead(ctx, lead, fmt.Sprintf("stored next node %q missing from graph", lead.NextNode))
		}

		if err := lead.Resume(e.now().UTC()); err != nil {
			return OutcomeStale, nil
		}

		lead.CurrentNode = next.ID
		lead.AppendPath(next.ID)
		e.journal(ctx, lead, next, "dispatch acknowledged")

		return e.execute(ctx, lead, g)
	})
}

// HandleDispatchFailed marks a lead failed after the dispatch subsystem gave
// up on its message.
func (e *Engine) HandleDispatchFailed(ctx context.Context, leadID, nodeID, reason string) (Outcome, error) {
	return e.withLead(ctx, leadID, func(ctx context.Context, lead *models.Lead, _ *Graph) (Outcome, error) {
		if lead.IsTerminal() {
			return OutcomeStale, nil
		}

		if lead.CurrentNode != nodeID {
			return OutcomeStale, nil
		}

		return e.failLead(ctx, lead, fmt.Sprintf("dispatch failed: %s", reason))
	})
}

type leadFunc func(ctx context.Context, lead *models.Lead, g *Graph) (Outcome, error)

// withLead is the shared entry-point prologue: locate the lead, take its
// execution lock, then reload it and its graph fresh under the lock.
func (e *Engine) withLead(ctx context.Context, leadID string, fn leadFunc) (Outcome, error) {
	lead, err := e.persistence.Leads().GetByID(ctx, leadID)
	if err != nil {
		return OutcomeStale, err
	}

	release, ok, err := e.locker.Acquire(ctx, lock.LeadKey(lead.CampaignID, lead.ID), leadLockTTL)
	if err != nil {
		return OutcomeStale, err
	}

	if !ok {
		e.logger.InfoContext(ctx, "Lead locked by another worker", "lead_id", leadID)

		return OutcomeSkipped, nil
	}

	defer release(ctx)

	lead, err = e.persistence.Leads().GetByID(ctx, leadID)
	if err != nil {
		return OutcomeStale, err
	}

	campaign, err := e.persistence.Campaigns().GetByID(ctx, lead.CampaignID)
	if err != nil {
		return OutcomeStale, err
	}

	g, err := Load(campaign)
	if err != nil {
		return OutcomeStale, err
	}

	return fn(ctx, lead, g)
}

// execute is the interpreter loop: run the current node, advance, repeat
// until the lead pauses, completes or fails. Nodes already in the completion
// ledger are advanced past without re-running their side effects, which
// makes replay after a crash safe.
func (e *Engine) execute(ctx context.Context, lead *models.Lead, g *Graph) (Outcome, error) {
	armedCondition := ""

	for {
		node := g.Node(lead.CurrentNode)
		if node == nil {
			return e.failLead(ctx, lead, fmt.Sprintf("current node %q missing from graph", lead.CurrentNode))
		}

		// Nodes already in the ledger are advanced past without re-running
		// side effects. Condition nodes are exempt: their handler is
		// side-effect-idempotent and knows which branch to take.
		if lead.HasCompleted(node.ID) &&
			node.Kind != models.NodeKindEnd && node.Kind != models.NodeKindCondition {
			if outcome, done := e.advance(ctx, lead, g, node, models.BranchDefault); done {
				return outcome, nil
			}

			continue
		}

		switch node.Kind {
		case models.NodeKindStart:
			lead.MarkCompleted(node.ID)

			if outcome, done := e.advance(ctx, lead, g, node, models.BranchDefault); done {
				return outcome, nil
			}

		case models.NodeKindAction:
			return e.executeAction(ctx, lead, g, node)

		case models.NodeKindWait:
			return e.executeWait(ctx, lead, g, node, armedCondition)

		case models.NodeKindCondition:
			branch, err := e.executeCondition(ctx, lead, g, node)
			if err != nil {
				return e.failLead(ctx, lead, err.Error())
			}

			if branch == models.BranchNo {
				armedCondition = node.ID
			}

			if outcome, done := e.advance(ctx, lead, g, node, branch); done {
				return outcome, nil
			}

		case models.NodeKindEnd:
			return e.executeEnd(ctx, lead, node)
		}
	}
}

// advance moves the cursor to the node's successor on the given branch. The
// second return is true when the loop must stop (the lead failed).
func (e *Engine) advance(ctx context.Context, lead *models.Lead, g *Graph, node *models.Node, branch models.Branch) (Outcome, bool) {
	next, ok := g.Successor(node.ID, branch)
	if !ok || next == nil {
		outcome, _ := e.failLead(ctx, lead, fmt.Sprintf("node %q has no %s successor", node.ID, branch))

		return outcome, true
	}

	lead.CurrentNode = next.ID
	lead.AppendPath(next.ID)

	return OutcomeAdvanced, false
}

// executeAction pauses the lead and requests the outbound dispatch. The
// pause, the sent-message ledger entry and the cursor are all persisted
// before the dispatch request is published: a crash between the save and the
// publish leaves a paused lead for the recovery path, never a duplicate
// send.
func (e *Engine) executeAction(ctx context.Context, lead *models.Lead, g *Graph, node *models.Node) (Outcome, error) {
	if lead.HasSentMessage(node.ID) {
		// Replay or a branch rejoin: the message went out once already.
		lead.MarkCompleted(node.ID)

		if outcome, done := e.advance(ctx, lead, g, node, models.BranchDefault); done {
			return outcome, nil
		}

		return e.execute(ctx, lead, g)
	}

	next, ok := g.Successor(node.ID, models.BranchDefault)
	if !ok || next == nil {
		return e.failLead(ctx, lead, fmt.Sprintf("action node %q has no successor", node.ID))
	}

	now := e.now().UTC()
	lead.MarkMessageSent(node.ID, now)

	if err := lead.Pause(next.ID, nil, "", now); err != nil {
		return OutcomeStale, nil
	}

	e.journal(ctx, lead, node, "message dispatch requested")

	if err := e.saveLead(ctx, lead); err != nil {
		return OutcomeStale, err
	}

	event := events.MessageDispatchRequested{
		BaseEvent: e.baseEvent(events.MessageDispatchRequestedEvent, lead.CampaignID),
		LeadID:    lead.ID,
		NodeID:    node.ID,
		Recipient: lead.Email,
		Subject:   personalize(node.ConfigString("subject"), lead),
		Body:      personalize(node.ConfigString("body"), lead),
	}

	if err := e.publisher.Publish(ctx, lead.ID, event); err != nil {
		// The ledger already records the send, so a later replay will not
		// dispatch twice; the recovery sweep or a manual retry re-publishes.
		e.logger.ErrorContext(ctx, "Failed to publish dispatch request",
			"lead_id", lead.ID,
			"node_id", node.ID,
			"error", err)

		return OutcomePaused, err
	}

	return OutcomePaused, nil
}

// executeWait arms a durable timer and pauses the lead. When the wait node
// heads a condition's no branch, the timer doubles as that condition's
// timeout and is tagged accordingly.
func (e *Engine) executeWait(ctx context.Context, lead *models.Lead, g *Graph, node *models.Node, armedCondition string) (Outcome, error) {
	amount, _ := node.ConfigInt("amount")

	duration, err := models.ParseDuration(amount, models.DurationUnit(node.ConfigString("unit")))
	if err != nil {
		return e.failLead(ctx, lead, NewConfigurationError(node.ID, err.Error()).Error())
	}

	next, ok := g.Successor(node.ID, models.BranchDefault)
	if !ok || next == nil {
		return e.failLead(ctx, lead, fmt.Sprintf("wait node %q has no successor", node.ID))
	}

	now := e.now().UTC()
	eta := now.Add(duration)

	kind := models.TimerKindWait
	if armedCondition != "" {
		kind = models.TimerKindTimeout
	}

	timer := &models.Timer{
		ID:         uuid.New().String(),
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
		NodeID:     node.ID,
		Kind:       kind,
		FireAt:     eta,
	}

	if err := lead.Pause(next.ID, &eta, timer.ID, now); err != nil {
		return OutcomeStale, nil
	}

	e.journal(ctx, lead, node, "paused for timer", "fire_at", eta, "timer_kind", kind)

	if err := e.saveLead(ctx, lead); err != nil {
		return OutcomeStale, err
	}

	if err := e.scheduler.Schedule(ctx, timer); err != nil {
		// The lead stays paused with its deadline persisted; the recovery
		// sweep picks it up once the deadline passes.
		e.logger.ErrorContext(ctx, "Failed to schedule timer",
			"lead_id", lead.ID,
			"timer_id", timer.ID,
			"error", err)
	}

	return OutcomePaused, nil
}

// executeCondition decides the branch to take. A signal that already arrived
// short-circuits to yes. Otherwise the event race is armed and execution
// continues down the no branch, whose leading wait node carries the timeout.
func (e *Engine) executeCondition(ctx context.Context, lead *models.Lead, g *Graph, node *models.Node) (models.Branch, error) {
	kind := models.EventKind(node.ConfigString("event"))
	if !kind.Valid() {
		return "", NewConfigurationError(node.ID, fmt.Sprintf("unknown event kind %q", node.ConfigString("event")))
	}

	targetURL := node.ConfigString("target_url")

	occurred, err := e.tracker.HasAlreadyOccurred(ctx, lead.ID, lead.CampaignID, kind, targetURL)
	if err != nil {
		return "", err
	}

	lead.MarkCompleted(node.ID)

	if occurred {
		e.journal(ctx, lead, node, "event already observed, taking yes branch")

		return models.BranchYes, nil
	}

	_, err = e.tracker.RecordWaiting(ctx, lead, node.ID, kind, targetURL, e.precedingActionNode(g, node.ID))
	if err != nil {
		return "", err
	}

	e.journal(ctx, lead, node, "event race armed, entering timeout path")

	return models.BranchNo, nil
}

func (e *Engine) executeEnd(ctx context.Context, lead *models.Lead, node *models.Node) (Outcome, error) {
	lead.MarkCompleted(node.ID)

	if err := lead.Complete(e.now().UTC()); err != nil {
		return OutcomeStale, nil
	}

	e.journal(ctx, lead, node, "lead completed")

	if err := e.saveLead(ctx, lead); err != nil {
		return OutcomeStale, err
	}

	if err := e.monitor.CheckCompletion(ctx, lead.CampaignID); err != nil {
		e.logger.ErrorContext(ctx, "Completion check failed", "campaign_id", lead.CampaignID, "error", err)
	}

	return OutcomeCompleted, nil
}

func (e *Engine) failLead(ctx context.Context, lead *models.Lead, message string) (Outcome, error) {
	e.logger.ErrorContext(ctx, "Lead failed", "lead_id", lead.ID, "reason", message)

	if err := lead.Fail(message, e.now().UTC()); err != nil {
		return OutcomeStale, nil
	}

	e.journal(ctx, lead, nil, "lead failed", "reason", message)

	if err := e.saveLead(ctx, lead); err != nil {
		return OutcomeFailed, err
	}

	if err := e.monitor.CheckCompletion(ctx, lead.CampaignID); err != nil {
		e.logger.ErrorContext(ctx, "Completion check failed", "campaign_id", lead.CampaignID, "error", err)
	}

	return OutcomeFailed, nil
}

// precedingActionNode finds the action node feeding a condition via the
// reverse index, so the waiting event can reference the message it tracks.
func (e *Engine) precedingActionNode(g *Graph, nodeID string) string {
	for _, pred := range g.Predecessors(nodeID) {
		if pred.Kind == models.NodeKindAction {
			return pred.ID
		}
	}

	return ""
}

// saveLead persists the lead, retrying transient failures a bounded number
// of times. A version conflict is not retried here: the engine holds the
// lead's execution lock, so a conflict means an out-of-band writer moved the
// lead and this pass must abort.
func (e *Engine) saveLead(ctx context.Context, lead *models.Lead) error {
	var err error

	for attempt := 1; attempt <= saveAttempts; attempt++ {
		err = e.persistence.Leads().Save(ctx, lead)
		if err == nil {
			return nil
		}

		if persistence.IsVersionConflict(err) {
			return err
		}

		time.Sleep(time.Duration(attempt) * saveBackoff)
	}

	return fmt.Errorf("failed to save lead %s after %d attempts: %w", lead.ID, saveAttempts, err)
}

func (e *Engine) journal(ctx context.Context, lead *models.Lead, node *models.Node, message string, details ...any) {
	entry := &models.JournalEntry{
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
		Timestamp:  e.now().UTC(),
		Message:    message,
	}

	if node != nil {
		entry.NodeID = node.ID
		entry.NodeKind = node.Kind
	}

	if len(details) > 0 {
		entry.Details = make(map[string]any, len(details)/2)
		for i := 0; i+1 < len(details); i += 2 {
			if key, ok := details[i].(string); ok {
				entry.Details[key] = details[i+1]
			}
		}
	}

	if err := e.persistence.Journal().Append(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "Failed to append journal entry", "lead_id", lead.ID, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, campaignID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  e.now().UTC(),
		CampaignID: campaignID,
		WorkerID:   e.workerID,
	}
}

// personalize substitutes the contact placeholders an action node's subject
// and body may carry.
func personalize(text string, lead *models.Lead) string {
	replacer := strings.NewReplacer(
		"{{name}}", lead.Name,
		"{{email}}", lead.Email,
	)

	return replacer.Replace(text)
}
