package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/finance-core/payment-service/domain/entities"
	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Models lists the tables this context owns, for migration wiring.
func Models() []any {
	return []any{&paymentModel{}, &outboxModel{}}
}

func (r *Repository) SavePayment(ctx context.Context, record entities.PaymentRecord) error {
	row := paymentModelFromEntity(record)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("payments_repo_save_failed", create.Error,
			"reference", row.Reference,
		)
	}
	return nil
}

func (r *Repository) GetPayment(ctx context.Context, reference string) (entities.PaymentRecord, error) {
	var row paymentModel
	err := r.db.WithContext(ctx).
		Where("reference = ?", strings.TrimSpace(reference)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.PaymentRecord{}, domainerrors.ErrPaymentNotFound
		}
		return entities.PaymentRecord{}, r.logError("payments_repo_get_failed", err,
			"reference", strings.TrimSpace(reference),
		)
	}
	return row.toEntity(), nil
}

// ResolvePayment is the exactly-once gate: the UPDATE only matches while the
// record is still pending, so of N racing verifications one observes
// RowsAffected=1 and performs the side effects.
func (r *Repository) ResolvePayment(
	ctx context.Context,
	reference string,
	status entities.PaymentStatus,
	at time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&paymentModel{}).
		Where("reference = ?", strings.TrimSpace(reference)).
		Where("status = ?", string(entities.PaymentPending)).
		Updates(map[string]any{
			"status":      string(status),
			"resolved_at": at.UTC(),
			"updated_at":  at.UTC(),
		})
	if result.Error != nil {
		return false, r.logError("payments_repo_resolve_failed", result.Error,
			"reference", strings.TrimSpace(reference),
			"status", string(status),
		)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) ScheduleRetry(
	ctx context.Context,
	reference string,
	attempts int,
	nextAttemptAt time.Time,
	needsAttention bool,
) error {
	result := r.db.WithContext(ctx).
		Model(&paymentModel{}).
		Where("reference = ?", strings.TrimSpace(reference)).
		Where("status = ?", string(entities.PaymentPending)).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt.UTC(),
			"needs_attention": needsAttention,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return r.logError("payments_repo_schedule_retry_failed", result.Error,
			"reference", strings.TrimSpace(reference),
		)
	}
	return nil
}

func (r *Repository) ListDuePayments(ctx context.Context, now time.Time, limit int) ([]entities.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []paymentModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.PaymentPending)).
		Where("needs_attention = ?", false).
		Where("next_attempt_at <= ?", now.UTC()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("payments_repo_list_due_failed", err)
	}
	items := make([]entities.PaymentRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// ActivatePoll flips the poll live in the shared polls table. Idempotent:
// re-activating an active poll matches zero rows and succeeds.
func (r *Repository) ActivatePoll(ctx context.Context, pollID string) error {
	result := r.db.WithContext(ctx).
		Table("polls").
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("active = ?", false).
		Updates(map[string]any{
			"active":     true,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return r.logError("payments_repo_activate_poll_failed", result.Error,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("payments_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("payments_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("payments_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("payments_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "finance-core/payment-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("payment repository operation failed", fields...)
	return err
}

type paymentModel struct {
	Reference      string     `gorm:"column:reference;primaryKey"`
	PollID         string     `gorm:"column:poll_id"`
	OwnerID        string     `gorm:"column:owner_id"`
	Amount         float64    `gorm:"column:amount"`
	Currency       string     `gorm:"column:currency"`
	Email          string     `gorm:"column:email"`
	Status         string     `gorm:"column:status"`
	CheckoutURL    string     `gorm:"column:checkout_url"`
	Attempts       int        `gorm:"column:attempts"`
	NextAttemptAt  time.Time  `gorm:"column:next_attempt_at"`
	NeedsAttention bool       `gorm:"column:needs_attention"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at"`
}

func (paymentModel) TableName() string {
	return "payments"
}

func paymentModelFromEntity(record entities.PaymentRecord) paymentModel {
	row := paymentModel{
		Reference:      strings.TrimSpace(record.Reference),
		PollID:         strings.TrimSpace(record.PollID),
		OwnerID:        strings.TrimSpace(record.OwnerID),
		Amount:         record.Amount,
		Currency:       strings.TrimSpace(record.Currency),
		Email:          strings.TrimSpace(record.Email),
		Status:         string(record.Status),
		CheckoutURL:    strings.TrimSpace(record.CheckoutURL),
		Attempts:       record.Attempts,
		NextAttemptAt:  record.NextAttemptAt.UTC(),
		NeedsAttention: record.NeedsAttention,
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
	if record.ResolvedAt != nil {
		resolvedAt := record.ResolvedAt.UTC()
		row.ResolvedAt = &resolvedAt
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m paymentModel) toEntity() entities.PaymentRecord {
	record := entities.PaymentRecord{
		Reference:      m.Reference,
		PollID:         m.PollID,
		OwnerID:        m.OwnerID,
		Amount:         m.Amount,
		Currency:       m.Currency,
		Email:          m.Email,
		Status:         entities.PaymentStatus(m.Status),
		CheckoutURL:    m.CheckoutURL,
		Attempts:       m.Attempts,
		NextAttemptAt:  m.NextAttemptAt.UTC(),
		NeedsAttention: m.NeedsAttention,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	if m.ResolvedAt != nil {
		resolvedAt := m.ResolvedAt.UTC()
		record.ResolvedAt = &resolvedAt
	}
	return record
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "payment_outbox"
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.PaymentRepository = (*Repository)(nil)
var _ ports.PollActivator = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
