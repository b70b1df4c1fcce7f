package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"develevate/internal/common/mq"
	"develevate/internal/execution/service"
	appErr "develevate/pkg/errors"
)

// RunEventType identifies run events on the queue.
type RunEventType string

const RunEventFinished RunEventType = "finished"

// RunEvent is published once per run when it reaches Done or Failed.
type RunEvent struct {
	Type      RunEventType     `json:"type"`
	Run       service.Snapshot `json:"run"`
	CreatedAt int64            `json:"created_at"`
}

// MQRunEventPublisher publishes finished runs to a message queue.
type MQRunEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQRunEventPublisher creates a new MQ run event publisher.
func NewMQRunEventPublisher(producer mq.Producer, topic string) *MQRunEventPublisher {
	return &MQRunEventPublisher{producer: producer, topic: topic}
}

// OnTransition publishes terminal snapshots and ignores the rest.
func (p *MQRunEventPublisher) OnTransition(ctx context.Context, snap service.Snapshot) error {
	if !snap.State.IsTerminal() {
		return nil
	}
	return p.PublishFinished(ctx, snap)
}

// PublishFinished publishes a run-finished event.
func (p *MQRunEventPublisher) PublishFinished(ctx context.Context, snap service.Snapshot) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("run event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("run event topic is required")
	}
	if snap.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	event := RunEvent{
		Type:      RunEventFinished,
		Run:       snap,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = snap.RunID
	message.SetHeader("session_id", snap.SessionID)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish run event failed")
	}
	return nil
}

// HistoryRecorder consumes run-finished events into the session history.
type HistoryRecorder struct {
	runs *RunRepository
}

// NewHistoryRecorder creates a new recorder.
func NewHistoryRecorder(runs *RunRepository) *HistoryRecorder {
	return &HistoryRecorder{runs: runs}
}

// HandleMessage is an mq.HandlerFunc.
func (h *HistoryRecorder) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event RunEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode run event failed")
	}
	if event.Type != RunEventFinished {
		return appErr.New(appErr.InvalidParams).WithMessage("run event type is invalid")
	}
	if !event.Run.State.IsTerminal() {
		return appErr.New(appErr.InvalidParams).WithMessage("run event is not terminal")
	}
	if err := h.runs.Save(ctx, event.Run); err != nil {
		return err
	}
	return h.runs.AppendHistory(ctx, event.Run.SessionID, event.Run.RunID)
}

// Subscribe feeds topic into the recorder under consumer group group.
func (h *HistoryRecorder) Subscribe(ctx context.Context, consumer mq.Consumer, topic, group string) error {
	if consumer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("message consumer is not configured")
	}
	return consumer.Subscribe(ctx, topic, h.HandleMessage, &mq.SubscribeOptions{ConsumerGroup: group})
}
