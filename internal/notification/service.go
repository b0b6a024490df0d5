package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"mailpilot-backend/internal/pipeline/usecase"
)

type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Service pulls Gmail push notifications from Pub/Sub and feeds them to
// the dispatcher. This is the deployment mode where the process is not
// publicly reachable; the push webhook endpoint covers the other mode.
type Service struct {
	pubsubClient *pubsub.Client
	dispatcher   *usecase.Dispatcher
	projectID    string
	topicName    string
	subName      string

	// Deduplication: track last historyId per account to avoid waking
	// the pipeline for redeliveries.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(projectID, topicName, credentialsFile string, dispatcher *usecase.Dispatcher) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:  client,
		dispatcher:    dispatcher,
		projectID:     projectID,
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		lastHistoryID: make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	// Ensure subscription exists
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(msg)
		// Ack regardless: the pipeline replays from its own cursor, so a
		// dropped wake-up is recovered by the next notification.
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}
	if notification.EmailAddress == "" {
		return
	}

	s.mu.Lock()
	lastHID, seen := s.lastHistoryID[notification.EmailAddress]
	if seen && notification.HistoryID <= lastHID {
		s.mu.Unlock()
		log.Printf("[PubSub] Skipping duplicate notification for %s (historyId %d <= last %d)",
			notification.EmailAddress, notification.HistoryID, lastHID)
		return
	}
	s.lastHistoryID[notification.EmailAddress] = notification.HistoryID
	s.mu.Unlock()

	log.Printf("[PubSub] Received notification for: %s (historyId: %d)", notification.EmailAddress, notification.HistoryID)
	s.dispatcher.Notify(notification.EmailAddress)
}
