package aws

import (
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// defaultGroupID is the FIFO message group used when a message names none.
const defaultGroupID = "default"

// Message is one queue message. DedupID and GroupID only apply to FIFO queues.
type Message struct {
	Body       string
	DedupID    string
	GroupID    string
	Attributes map[string]string
}

// Publisher sends messages to one SQS queue.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Publish sends m. Empty attribute values are skipped since SQS rejects them.
func (p *Publisher) Publish(ctx context.Context, m Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    sdkaws.String(p.QueueURL),
		MessageBody: sdkaws.String(m.Body),
	}
	if p.fifo {
		group := m.GroupID
		if group == "" {
			group = defaultGroupID
		}
		input.MessageGroupId = sdkaws.String(group)
		if m.DedupID != "" {
			input.MessageDeduplicationId = sdkaws.String(m.DedupID)
		}
	}
	for k, v := range m.Attributes {
		if v == "" {
			continue
		}
		if input.MessageAttributes == nil {
			input.MessageAttributes = make(map[string]sqstypes.MessageAttributeValue, len(m.Attributes))
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    sdkaws.String("String"),
			StringValue: sdkaws.String(v),
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("publish to %s: %w", p.QueueURL, err)
	}
	return nil
}
