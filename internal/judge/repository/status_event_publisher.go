package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenaoj/internal/common/mq"
	"arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
)

// StatusEventPublisher publishes terminal status events for downstream consumers.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, sub *model.Submission, contestID string) error
}

// MQStatusEventPublisher publishes status events to a message queue.
type MQStatusEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQStatusEventPublisher creates a new MQ status event publisher.
func NewMQStatusEventPublisher(producer mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{producer: producer, topic: topic}
}

// PublishFinalStatus publishes a final status event keyed by submission id.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, sub *model.Submission, contestID string) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := model.StatusEvent{
		SubmissionID: sub.ID,
		ProblemID:    sub.ProblemID,
		SubmitterID:  sub.SubmitterID,
		ContestID:    contestID,
		Status:       sub.Status,
		Verdict:      sub.Verdict,
		Error:        sub.Error,
		TotalTests:   sub.TotalTests,
		Passed:       countPassed(sub.Results),
		CreatedAt:    sub.CreatedAt.Unix(),
		FinishedAt:   time.Now().Unix(),
	}
	if !sub.FinishedAt.IsZero() {
		event.FinishedAt = sub.FinishedAt.Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(sub.ID, payload)
	message.SetHeader("status", string(sub.Status))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "publish status event failed")
	}
	return nil
}
