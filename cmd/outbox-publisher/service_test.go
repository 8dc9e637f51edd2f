package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/idempotency"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
	"github.com/evpool/evpool-backend/pkg/outbox/registry"
	"github.com/evpool/evpool-backend/pkg/redis"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			totalChangedRow(t, "event-one", 0),
			totalChangedRow(t, "event-two", 0),
		},
	}
	br := &fakeBroker{errs: []error{errors.New("transient"), nil}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, br, &fakeRegistry{resolved: totalChangedResolved()}, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestServiceProcessBatchPublishesEnvelopeOnChannel(t *testing.T) {
	event := totalChangedRow(t, "published", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	br := &fakeBroker{}
	service := newTestService(t, repo, br, &fakeRegistry{resolved: totalChangedResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(br.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(br.sent))
	}
	if br.sent[0].channel != "evpool.ledger" {
		t.Fatalf("unexpected channel %q", br.sent[0].channel)
	}
	if !bytes.Equal(br.sent[0].payload, event.Payload) {
		t.Fatalf("published payload differs from stored envelope")
	}
}

func TestServiceSkipsPublishWhenAlreadyDelivered(t *testing.T) {
	event := totalChangedRow(t, "redelivered", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	br := &fakeBroker{}
	service := newTestService(t, repo, br, &fakeRegistry{resolved: totalChangedResolved()}, &fakeDLQRepo{}, nil)

	claimed, err := service.guard.Claim(context.Background(), "evpool.ledger", event.ID)
	if err != nil || !claimed {
		t.Fatalf("pre-claim failed: claimed=%v err=%v", claimed, err)
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(br.sent) != 0 {
		t.Fatalf("expected no publish for a delivered event, got %d", len(br.sent))
	}
	if len(repo.published) != 1 || repo.published[0] != event.ID {
		t.Fatalf("expected row marked published")
	}
}

func TestServiceReleasesClaimAfterFailedPublish(t *testing.T) {
	event := totalChangedRow(t, "retry", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	br := &fakeBroker{errs: []error{errors.New("connection reset")}}
	service := newTestService(t, repo, br, &fakeRegistry{resolved: totalChangedResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	claimed, err := service.guard.Claim(context.Background(), "evpool.ledger", event.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected claim released after failed publish")
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := totalChangedRow(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakeBroker{}, reg, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := totalChangedRow(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	br := &fakeBroker{errs: []error{errors.New("transient")}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, br, &fakeRegistry{resolved: totalChangedResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestNewServiceReportsEveryMissingDependency(t *testing.T) {
	_, err := NewService(ServiceParams{})
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"config is required", "broker is required", "delivery guard is required"} {
		if !bytes.Contains([]byte(err.Error()), []byte(want)) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestRegistryResolvesStoredEnvelope(t *testing.T) {
	reg, err := registry.NewEventRegistry(config.NotifyConfig{LedgerChannel: "ledger", VehicleChannel: "vehicles"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	resolved, err := reg.Resolve(totalChangedRow(t, "resolve", 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Channel != "ledger" {
		t.Fatalf("unexpected channel %q", resolved.Descriptor.Channel)
	}
	payload, ok := resolved.Payload.(*payloads.TotalChangedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.NewTotalCents != 150000 {
		t.Fatalf("unexpected total %d", payload.NewTotalCents)
	}
}

func newTestService(t *testing.T, repo outboxRepository, br broker, reg registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})

	mr := miniredis.RunT(t)
	store := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	guard, err := idempotency.NewGuard(store, time.Hour)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            &fakeDB{},
		Broker:        br,
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
		Guard:         guard,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func totalChangedRow(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	data, err := json.Marshal(payloads.TotalChangedEvent{
		NewTotalCents: 150000,
		Cause:         enums.CausePaymentConfirmed,
		AmountCents:   50000,
	})
	if err != nil {
		tb.Fatalf("marshal payload: %v", err)
	}
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventTotalChanged,
		AggregateType: enums.AggregatePayment,
		AggregateID:   "42",
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

func totalChangedResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventTotalChanged,
			AggregateType: enums.AggregatePayment,
			Channel:       "evpool.ledger",
		},
		Payload: &payloads.TotalChangedEvent{},
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	channel string
	payload []byte
}

type fakeBroker struct {
	errs []error
	sent []sentMessage
}

func (f *fakeBroker) Ping(context.Context) error {
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return 0, err
	}
	f.sent = append(f.sent, sentMessage{channel: channel, payload: payload})
	return 1, nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeDeadLetters struct {
	rows   []models.OutboxDLQ
	counts map[enums.OutboxDLQErrorReason]int64
	filter outbox.DLQFilter
}

func (f *fakeDeadLetters) List(_ context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error) {
	f.filter = filter
	return f.rows, nil
}

func (f *fakeDeadLetters) CountByReason(context.Context) (map[enums.OutboxDLQErrorReason]int64, error) {
	return f.counts, nil
}

func TestWriteDeadLettersPrintsSummaryAndRows(t *testing.T) {
	msg := "max publish attempts reached: timeout"
	reader := &fakeDeadLetters{
		rows: []models.OutboxDLQ{{
			EventID:      uuid.New(),
			EventType:    enums.EventTotalChanged,
			AggregateID:  "42",
			ErrorReason:  enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage: &msg,
			AttemptCount: 10,
			FailedAt:     time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
			Payload:      json.RawMessage(`{"version":1}`),
		}},
		counts: map[enums.OutboxDLQErrorReason]int64{enums.OutboxDLQReasonMaxAttempts: 1},
	}

	var buf bytes.Buffer
	filter := outbox.DLQFilter{Reason: enums.OutboxDLQReasonMaxAttempts, Limit: 5}
	if err := writeDeadLetters(context.Background(), &buf, reader, filter); err != nil {
		t.Fatalf("write dead letters: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# max_attempts: 1", "# non_retryable: 0", `"aggregate_id":"42"`, "2026-09-01T12:00:00Z", msg} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if reader.filter != filter {
		t.Fatalf("filter not forwarded: %+v", reader.filter)
	}
}

type fakePending struct {
	rows  []models.OutboxEvent
	limit int
}

func (f *fakePending) ListUnpublished(limit int) ([]models.OutboxEvent, error) {
	f.limit = limit
	return f.rows, nil
}

func TestWritePendingPrintsBacklog(t *testing.T) {
	lastErr := "publish: connection refused"
	reader := &fakePending{rows: []models.OutboxEvent{{
		ID:           uuid.New(),
		EventType:    enums.EventVehicleBought,
		AggregateID:  "veh-1",
		AttemptCount: 3,
		LastError:    &lastErr,
		CreatedAt:    time.Date(2026, 9, 2, 8, 30, 0, 0, time.UTC),
	}}}

	var buf bytes.Buffer
	if err := writePending(&buf, reader, 20); err != nil {
		t.Fatalf("write pending: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# pending: 1", `"aggregate_id":"veh-1"`, `"attempt_count":3`, lastErr, "2026-09-02T08:30:00Z"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if reader.limit != 20 {
		t.Fatalf("limit not forwarded: %d", reader.limit)
	}
}
