package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dripflow/dripflow/pkg/dispatch"
	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/flow"
	"github.com/dripflow/dripflow/pkg/lock"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/scheduler"
	"github.com/dripflow/dripflow/pkg/services"
	"github.com/dripflow/dripflow/pkg/tracking"
)

// sweepSchedule runs the stuck-lead recovery sweep every ten minutes.
const sweepSchedule = "*/10 * * * *"

// WorkerManager subscribes to the event bus and routes each event to the
// flow engine, the tracking bridge or the dispatch subsystem. It also hosts
// the durable timer poller and the recovery sweep.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *flow.Engine
	tracker     *tracking.Store
	scheduler   *scheduler.DurableScheduler
	sweep       *scheduler.RecoverySweep
	dispatcher  dispatch.Dispatcher
}

func NewWorkerManager(
	id string,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	locker lock.Locker,
	dispatcher dispatch.Dispatcher,
	logger *slog.Logger,
) *WorkerManager {
	tracker := tracking.NewStore(p.WaitingEvents(), logger)
	timerScheduler := scheduler.NewDurableScheduler(p.Timers(), eventBus, logger)
	monitor := services.NewCompletionMonitor(p, eventBus, logger)
	engine := flow.NewEngine(p, tracker, timerScheduler, eventBus, locker, monitor, logger, id)

	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "dripflow-worker", "worker_id", id),
		persistence: p,
		eventBus:    eventBus,
		engine:      engine,
		tracker:     tracker,
		scheduler:   timerScheduler,
		sweep:       scheduler.NewRecoverySweep(p.Leads(), p.Timers(), eventBus, logger),
		dispatcher:  dispatcher,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	handlers := map[events.EventType]eventbus.EventHandler{
		events.LeadRunRequestedEvent:         w.handleLeadRunRequested,
		events.LeadResumeDueEvent:            w.handleLeadResumeDue,
		events.TrackingSignalReceivedEvent:   w.handleTrackingSignal,
		events.MessageDispatchRequestedEvent: w.handleDispatchRequested,
		events.MessageDispatchCompletedEvent: w.handleDispatchCompleted,
		events.MessageDispatchFailedEvent:    w.handleDispatchFailed,
	}

	for eventType, handler := range handlers {
		err := w.eventBus.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	err := w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = w.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	err = w.sweep.Start(ctx, sweepSchedule)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	w.sweep.Stop(ctx)

	err = w.scheduler.Stop(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
	}

	return nil
}

func (w *WorkerManager) handleLeadRunRequested(ctx context.Context, event any) error {
	runEvent, ok := event.(*events.LeadRunRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for LeadRunRequested")

		return nil
	}

	logger := w.logger.With("lead_id", runEvent.LeadID, "campaign_id", runEvent.CampaignID)
	logger.InfoContext(ctx, "Processing lead run request")

	outcome, err := w.engine.Run(ctx, runEvent.LeadID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to run lead", "error", err)

		return err
	}

	return w.requeueIfSkipped(ctx, logger, outcome)
}

func (w *WorkerManager) handleLeadResumeDue(ctx context.Context, event any) error {
	resumeEvent, ok := event.(*events.LeadResumeDue)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for LeadResumeDue")

		return nil
	}

	logger := w.logger.With(
		"lead_id", resumeEvent.LeadID,
		"timer_id", resumeEvent.TimerID,
		"node_id", resumeEvent.NodeID,
	)
	logger.InfoContext(ctx, "Processing timer resume", "kind", resumeEvent.Kind)

	outcome, err := w.engine.ResumeByTimer(ctx, resumeEvent.LeadID, resumeEvent.TimerID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resume lead by timer", "error", err)

		return err
	}

	return w.requeueIfSkipped(ctx, logger, outcome)
}

// handleTrackingSignal consumes the oldest matching waiting event and, when
// one exists, redirects the lead through the condition's yes branch. A signal
// with nothing waiting is a duplicate or late delivery and is dropped.
func (w *WorkerManager) handleTrackingSignal(ctx context.Context, event any) error {
	signal, ok := event.(*events.TrackingSignalReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TrackingSignalReceived")

		return nil
	}

	logger := w.logger.With(
		"lead_id", signal.LeadID,
		"campaign_id", signal.CampaignID,
		"kind", signal.Kind,
	)
	logger.InfoContext(ctx, "Processing tracking signal")

	waiting, err := w.tracker.ConsumeOldest(ctx, signal.LeadID, signal.CampaignID, signal.Kind, signal.TargetURL)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to consume waiting event", "error", err)

		return err
	}

	if waiting == nil {
		logger.InfoContext(ctx, "No lead waiting on signal, ignoring")

		return nil
	}

	outcome, err := w.engine.ResumeByEvent(ctx, signal.LeadID, waiting.ConditionNodeID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resume lead by event", "error", err)

		return err
	}

	return w.requeueIfSkipped(ctx, logger, outcome)
}

// handleDispatchRequested performs the actual send and reports the result
// back onto the bus. The engine only moves the lead past the action node when
// the completion event arrives.
func (w *WorkerManager) handleDispatchRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.MessageDispatchRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for MessageDispatchRequested")

		return nil
	}

	logger := w.logger.With(
		"lead_id", request.LeadID,
		"node_id", request.NodeID,
		"recipient", request.Recipient,
	)
	logger.InfoContext(ctx, "Dispatching message")

	err := w.dispatcher.Dispatch(ctx, &dispatch.Message{
		LeadID:     request.LeadID,
		CampaignID: request.CampaignID,
		NodeID:     request.NodeID,
		Recipient:  request.Recipient,
		Subject:    request.Subject,
		Body:       request.Body,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Message dispatch failed", "error", err)

		failed := events.MessageDispatchFailed{
			BaseEvent: events.NewBaseEvent(events.MessageDispatchFailedEvent, request.CampaignID),
			LeadID:    request.LeadID,
			NodeID:    request.NodeID,
			Error:     err.Error(),
		}
		failed.WorkerID = w.id

		return w.eventBus.Publish(ctx, request.LeadID, failed)
	}

	completed := events.MessageDispatchCompleted{
		BaseEvent: events.NewBaseEvent(events.MessageDispatchCompletedEvent, request.CampaignID),
		LeadID:    request.LeadID,
		NodeID:    request.NodeID,
	}
	completed.WorkerID = w.id

	return w.eventBus.Publish(ctx, request.LeadID, completed)
}

func (w *WorkerManager) handleDispatchCompleted(ctx context.Context, event any) error {
	ack, ok := event.(*events.MessageDispatchCompleted)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for MessageDispatchCompleted")

		return nil
	}

	logger := w.logger.With("lead_id", ack.LeadID, "node_id", ack.NodeID)
	logger.InfoContext(ctx, "Processing dispatch acknowledgement")

	outcome, err := w.engine.HandleDispatchCompleted(ctx, ack.LeadID, ack.NodeID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to process dispatch acknowledgement", "error", err)

		return err
	}

	return w.requeueIfSkipped(ctx, logger, outcome)
}

func (w *WorkerManager) handleDispatchFailed(ctx context.Context, event any) error {
	failure, ok := event.(*events.MessageDispatchFailed)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for MessageDispatchFailed")

		return nil
	}

	logger := w.logger.With("lead_id", failure.LeadID, "node_id", failure.NodeID)
	logger.InfoContext(ctx, "Processing dispatch failure", "dispatch_error", failure.Error)

	outcome, err := w.engine.HandleDispatchFailed(ctx, failure.LeadID, failure.NodeID, failure.Error)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to process dispatch failure", "error", err)

		return err
	}

	return w.requeueIfSkipped(ctx, logger, outcome)
}

// requeueIfSkipped turns a lock-contention outcome into a handler error so
// the bus redelivers the message and the lead is retried once the current
// holder releases the lock.
func (w *WorkerManager) requeueIfSkipped(ctx context.Context, logger *slog.Logger, outcome flow.Outcome) error {
	if outcome == flow.OutcomeSkipped {
		logger.InfoContext(ctx, "Lead locked by another worker, requeueing")

		return flow.ErrLeadLocked
	}

	return nil
}
