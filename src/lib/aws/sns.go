package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"lovia/src/types"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher fans payment events out through one SNS topic per event.
// Topic ARNs are built from a prefix such as
// arn:aws:sns:ap-northeast-1:123456789012 and the queue-style name.
type SNSPublisher struct {
	client    snsAPI
	arnPrefix string
	env       string
}

func NewSNSPublisher(client *sns.Client, arnPrefix, env string) *SNSPublisher {
	return &SNSPublisher{client: client, arnPrefix: strings.TrimSuffix(arnPrefix, ":"), env: env}
}

func (s *SNSPublisher) Name() string {
	return "sns"
}

func (s *SNSPublisher) TopicArn(topic string) string {
	return fmt.Sprintf("%s:%s", s.arnPrefix, QueueName(topic, s.env))
}

func (s *SNSPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	topicArn := s.TopicArn(topic)
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicArn),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"topic": {DataType: aws.String("String"), StringValue: aws.String(topic)},
		},
	})
	if err != nil {
		log.Printf("Error publishing to topic [%s]: %s\n", topicArn, err.Error())
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	log.Printf("[SNS] Published %s message: %s\n", topic, aws.ToString(out.MessageId))
	return nil
}
