package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"lovia/src/types"
	"os"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

func GetKafkaProducerConfig(clientId string) kafka.ConfigMap {
	return kafka.ConfigMap{
		"bootstrap.servers": os.Getenv("KAFKA_BROKER"),
		"client.id":         clientId,
		"acks":              "all",
	}
}

// KafkaPublisher lazily creates one producer and reuses it for every event.
type KafkaPublisher struct {
	clientId string
	mu       sync.Mutex
	producer *kafka.Producer
}

func NewKafkaPublisher(clientId string) *KafkaPublisher {
	return &KafkaPublisher{clientId: clientId}
}

func (k *KafkaPublisher) Name() string {
	return "kafka"
}

func (k *KafkaPublisher) getProducer() (*kafka.Producer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.producer != nil {
		return k.producer, nil
	}
	cfg := GetKafkaProducerConfig(k.clientId)
	p, err := kafka.NewProducer(&cfg)
	if err != nil {
		log.Printf("[Kafka] Error creating producer: %s\n", err.Error())
		return nil, err
	}
	go func() {
		for e := range p.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				log.Printf("[Kafka] Delivery failed for %s: %s\n", *m.TopicPartition.Topic, m.TopicPartition.Error.Error())
			}
		}
	}()
	k.producer = p
	return p, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	p, err := k.getProducer()
	if err != nil {
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
	}, nil); err != nil {
		return fmt.Errorf("produce %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.producer != nil {
		k.producer.Flush(5000)
		k.producer.Close()
		k.producer = nil
	}
}

func KafkaCreateTopics(topics ...string) ([]kafka.TopicResult, error) {
	a, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": os.Getenv("KAFKA_BROKER"),
	})
	if err != nil {
		log.Printf("Error on AdminClient: %s\n", err.Error())
		return nil, err
	}
	defer a.Close()
	topicsDef := []kafka.TopicSpecification{}
	for _, topic := range topics {
		topicsDef = append(topicsDef, kafka.TopicSpecification{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
	}
	result, err := a.CreateTopics(context.Background(), topicsDef)
	if err != nil {
		log.Printf("Error creating topics: %s\n", err.Error())
		return nil, err
	}
	return result, nil
}
