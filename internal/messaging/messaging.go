// Package messaging hands rendered notifications to the outbound queue.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"report-dispatcher/internal/recipe"
)

// Envelope is the wire form of a queued notification.
type Envelope struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	Address    string    `json:"address"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func newEnvelope(n recipe.Notification, now time.Time) Envelope {
	return Envelope{
		ID:         uuid.New().String(),
		Channel:    string(n.Channel),
		Address:    n.Address,
		Subject:    n.Subject,
		Body:       n.Body,
		EnqueuedAt: now.UTC(),
	}
}

// SQSAPI is the subset of the SQS client the enqueuer calls.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSEnqueuer sends notifications to an SQS queue.
type SQSEnqueuer struct {
	client   SQSAPI
	queueURL string
	now      func() time.Time
}

// NewSQSEnqueuer builds an enqueuer for queueURL.
func NewSQSEnqueuer(client SQSAPI, queueURL string) *SQSEnqueuer {
	return &SQSEnqueuer{client: client, queueURL: queueURL, now: time.Now}
}

// Enqueue sends n as one SQS message with a channel attribute.
func (e *SQSEnqueuer) Enqueue(ctx context.Context, n recipe.Notification) error {
	env := newEnvelope(n, e.now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = e.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(env.Channel)},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// RedisEnqueuer appends notifications to a Redis list.
type RedisEnqueuer struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisEnqueuer builds an enqueuer pushing onto key.
func NewRedisEnqueuer(client *redis.Client, key string) *RedisEnqueuer {
	if key == "" {
		key = "notifications:outbound"
	}
	return &RedisEnqueuer{client: client, key: key, now: time.Now}
}

// Enqueue RPUSHes n onto the list.
func (e *RedisEnqueuer) Enqueue(ctx context.Context, n recipe.Notification) error {
	body, err := json.Marshal(newEnvelope(n, e.now()))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := e.client.RPush(ctx, e.key, body).Err(); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}
