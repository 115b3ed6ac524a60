package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agri-auth/internal/bucketing"
	"agri-auth/internal/client"
	"agri-auth/internal/config"
	"agri-auth/internal/model"
)

const insertEventQuery = `
    INSERT INTO auth_events (
        event_id, event_type, event_bucket, date_bucket, phone_hash,
        farmer_id, provider, ip_address, device_info, outcome, occurred_at
    )`

// Publisher fans auth events out to the Kafka stream and the ClickHouse audit
// table. Both sinks are best effort: a publish failure is logged and dropped,
// never surfaced to the login path.
type Publisher struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	bucketing  *bucketing.BucketingManager
	topic      string
	logger     *zap.Logger
}

func NewPublisher(cfg *config.Config, producer *client.KafkaProducer, ch *client.ClickHouseClient, bm *bucketing.BucketingManager, logger *zap.Logger) *Publisher {
	return &Publisher{
		producer:   producer,
		clickhouse: ch,
		bucketing:  bm,
		topic:      cfg.Kafka.Topic,
		logger:     logger,
	}
}

// Publish records an auth event. Runs sinks inline with a short timeout;
// callers on the hot path should invoke it in a goroutine.
func (p *Publisher) Publish(ctx context.Context, event *model.AuthEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.publishKafka(ctx, event)
	p.insertClickhouse(ctx, event)
}

// PublishAsync fires Publish on a fresh goroutine detached from the request
// context, so a cancelled request cannot lose the event.
func (p *Publisher) PublishAsync(event *model.AuthEvent) {
	go p.Publish(context.Background(), event)
}

func (p *Publisher) publishKafka(ctx context.Context, event *model.AuthEvent) {
	if p.producer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode auth event", zap.Error(err))
		return
	}

	err = p.producer.ProduceMessage(ctx, p.topic, []byte(event.PhoneHash), payload, map[string]string{
		"event_type": event.EventType,
	})
	if err != nil {
		p.logger.Warn("auth event not published to kafka",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

func (p *Publisher) insertClickhouse(ctx context.Context, event *model.AuthEvent) {
	if p.clickhouse == nil {
		return
	}

	row := []interface{}{
		event.EventID,
		event.EventType,
		p.bucketing.GetEventBucket(event.PhoneHash),
		p.bucketing.GetDateBucket(),
		event.PhoneHash,
		event.FarmerID,
		event.Provider,
		event.IPAddress,
		event.DeviceInfo,
		event.Outcome,
		event.OccurredAt,
	}

	if err := p.clickhouse.BatchInsert(ctx, insertEventQuery, [][]interface{}{row}); err != nil {
		p.logger.Warn("auth event not written to clickhouse",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

// Event helpers keep call sites terse.

func OTPSent(phoneHash, provider, ip string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "otp_sent", PhoneHash: phoneHash, Provider: provider, IPAddress: ip}
}

func OTPVerified(phoneHash, farmerID, outcome string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "otp_verified", PhoneHash: phoneHash, FarmerID: farmerID, Outcome: outcome}
}

func LoginSucceeded(phoneHash, farmerID, ip, device string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "login_succeeded", PhoneHash: phoneHash, FarmerID: farmerID, IPAddress: ip, DeviceInfo: device}
}

func SignupCompleted(phoneHash, farmerID string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "signup_completed", PhoneHash: phoneHash, FarmerID: farmerID}
}

func ProfileUpdated(farmerID string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "profile_updated", FarmerID: farmerID}
}

func LoggedOut(farmerID string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "logged_out", FarmerID: farmerID}
}

func RateLimited(phoneHash, ip string) *model.AuthEvent {
	return &model.AuthEvent{EventType: "rate_limited", PhoneHash: phoneHash, IPAddress: ip}
}
