package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"lovia/src/types"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends each topic to a queue of the same name.
type SQSPublisher struct {
	client sqsAPI
	env    string
	urls   sync.Map
}

func NewSQSPublisher(client *sqs.Client, env string) *SQSPublisher {
	return &SQSPublisher{client: client, env: env}
}

func (s *SQSPublisher) Name() string {
	return "sqs"
}

// QueueName maps a topic such as payment.paid to PaymentPaid, suffixed with
// the environment outside production.
func QueueName(topic, env string) string {
	var sb strings.Builder
	for _, part := range strings.FieldsFunc(topic, func(r rune) bool { return r == '.' || r == '-' || r == '_' }) {
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	if env != "" && env != string(types.Production) {
		sb.WriteString("_")
		sb.WriteString(env)
	}
	return sb.String()
}

func (s *SQSPublisher) queueURL(ctx context.Context, topic string) (*string, error) {
	if u, ok := s.urls.Load(topic); ok {
		return u.(*string), nil
	}
	qname := QueueName(topic, s.env)
	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(qname),
	})
	if err != nil {
		log.Printf("Failed to retrieve queue URL for %s: %s\n", qname, err.Error())
		return nil, err
	}
	s.urls.Store(topic, out.QueueUrl)
	return out.QueueUrl, nil
}

func (s *SQSPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	qurl, err := s.queueURL(ctx, topic)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    qurl,
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"topic": {DataType: aws.String("String"), StringValue: aws.String(topic)},
		},
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", topic, err)
	}
	log.Printf("[SQS] Sent %s message: %s\n", topic, aws.ToString(out.MessageId))
	return nil
}
