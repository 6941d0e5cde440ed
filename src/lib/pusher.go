package lib

import (
	"context"
	"fmt"
	"lovia/src/types"
	"os"

	"github.com/pusher/pusher-http-go/v5"
)

type pusherAPI interface {
	Trigger(channel string, eventName string, data interface{}) error
}

// PusherPublisher tells the browser waiting on a result page that its order
// was paid. Channels are public, so only the order reference and status leave
// the server.
type PusherPublisher struct {
	client pusherAPI
}

// NewPusherPublisher returns nil when PUSHER_APP_ID is unset.
func NewPusherPublisher() *PusherPublisher {
	if os.Getenv("PUSHER_APP_ID") == "" {
		return nil
	}
	return &PusherPublisher{client: &pusher.Client{
		AppID:   os.Getenv("PUSHER_APP_ID"),
		Key:     os.Getenv("PUSHER_KEY"),
		Secret:  os.Getenv("PUSHER_SECRET"),
		Cluster: os.Getenv("PUSHER_CLUSTER"),
		Secure:  true,
	}}
}

func (p *PusherPublisher) Name() string {
	return "pusher"
}

func OrderChannel(orderUUID string) string {
	return fmt.Sprintf("order-%s", orderUUID)
}

func (p *PusherPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	if topic != TopicPaymentPaid {
		return nil
	}
	orderUUID, _ := payload["order_uuid"].(string)
	if orderUUID == "" {
		return fmt.Errorf("pusher: %s payload has no order_uuid", topic)
	}
	data := map[string]any{
		"order_uuid": orderUUID,
		"status":     string(types.ORDER_PAID),
	}
	if method, ok := payload["payment_method"]; ok {
		data["payment_method"] = method
	}
	return p.client.Trigger(OrderChannel(orderUUID), topic, data)
}
