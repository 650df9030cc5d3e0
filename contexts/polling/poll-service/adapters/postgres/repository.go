package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/polling/poll-service/domain/entities"
	domainerrors "agora/contexts/polling/poll-service/domain/errors"
	"agora/contexts/polling/poll-service/ports"

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
	return []any{&pollModel{}, &optionModel{}, &outboxModel{}}
}

func (r *Repository) SavePoll(ctx context.Context, poll entities.Poll, options []entities.Option) error {
	row := pollModelFromEntity(poll)
	optionRows := make([]optionModel, 0, len(options))
	for _, option := range options {
		optionRows = append(optionRows, optionModelFromEntity(option))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "poll_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"question":   row.Question,
				"is_public":  row.Public,
				"start_at":   row.StartAt,
				"end_at":     row.EndAt,
				"updated_at": row.UpdatedAt,
			}),
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		if len(optionRows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "option_id"}},
				DoNothing: true,
			}).Create(&optionRows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return r.logError("polls_repo_save_poll_failed", err,
			"poll_id", strings.TrimSpace(poll.PollID),
		)
	}
	return nil
}

func (r *Repository) GetPoll(ctx context.Context, pollID string) (entities.Poll, []entities.Option, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, nil, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, nil, r.logError("polls_repo_get_poll_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}

	var optionRows []optionModel
	if err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Order("position ASC").
		Find(&optionRows).Error; err != nil {
		return entities.Poll{}, nil, r.logError("polls_repo_get_options_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	options := make([]entities.Option, 0, len(optionRows))
	for _, optionRow := range optionRows {
		options = append(options, optionRow.toEntity())
	}
	return row.toEntity(), options, nil
}

func (r *Repository) ListPolls(ctx context.Context, filter ports.ListFilter) ([]entities.Poll, error) {
	tx := r.db.WithContext(ctx).Model(&pollModel{})
	if strings.TrimSpace(filter.OwnerID) != "" {
		tx = tx.Where("owner_id = ?", strings.TrimSpace(filter.OwnerID))
	}
	if strings.TrimSpace(filter.OrganizationID) != "" {
		tx = tx.Where("organization_id = ?", strings.TrimSpace(filter.OrganizationID))
	}
	if filter.PublicOnly {
		tx = tx.Where("is_public = ?", true)
	}
	if filter.State != "" {
		tx = tx.Where("state = ?", string(filter.State))
	}

	var rows []pollModel
	if err := tx.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, r.logError("polls_repo_list_polls_failed", err)
	}
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) TransitionPoll(
	ctx context.Context,
	pollID string,
	from entities.LifecycleState,
	to entities.LifecycleState,
	at time.Time,
) (bool, error) {
	updates := map[string]any{
		"state":      string(to),
		"updated_at": at.UTC(),
	}
	if to == entities.StateClosed {
		// Manual close pins end_at to the close moment, like the original.
		updates["end_at"] = at.UTC()
	}
	result := r.db.WithContext(ctx).
		Model(&pollModel{}).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("state = ?", string(from)).
		Updates(updates)
	if result.Error != nil {
		return false, r.logError("polls_repo_transition_failed", result.Error,
			"poll_id", strings.TrimSpace(pollID),
			"from_state", string(from),
			"to_state", string(to),
		)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) ListDuePolls(
	ctx context.Context,
	to entities.LifecycleState,
	now time.Time,
	limit int,
) ([]entities.Poll, error) {
	if limit <= 0 {
		limit = 100
	}
	tx := r.db.WithContext(ctx).Model(&pollModel{})
	switch to {
	case entities.StateOpen:
		tx = tx.Where("state = ?", string(entities.StateScheduled)).
			Where("start_at <= ?", now.UTC()).
			Where("end_at > ?", now.UTC())
	case entities.StateClosed:
		tx = tx.Where("state IN ?", []string{
			string(entities.StateScheduled),
			string(entities.StateOpen),
		}).Where("end_at <= ?", now.UTC())
	default:
		return nil, domainerrors.ErrTransitionRejected
	}

	var rows []pollModel
	if err := tx.Order("end_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, r.logError("polls_repo_list_due_failed", err, "to_state", string(to))
	}
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) CountVotes(ctx context.Context, pollID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Table("votes").
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Count(&count).Error; err != nil {
		return 0, r.logError("polls_repo_count_votes_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return count, nil
}

func (r *Repository) DeletePoll(ctx context.Context, pollID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("poll_id = ?", strings.TrimSpace(pollID)).
			Delete(&optionModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("poll_id = ?", strings.TrimSpace(pollID)).
			Delete(&pollModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrPollNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrPollNotFound) {
			return err
		}
		return r.logError("polls_repo_delete_poll_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("polls_repo_append_outbox_marshal_failed", err,
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
		return r.logError("polls_repo_append_outbox_insert_failed", create.Error,
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
		return nil, r.logError("polls_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("polls_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrTransitionRejected
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "polling/poll-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("poll repository operation failed", fields...)
	return err
}

type pollModel struct {
	PollID          string    `gorm:"column:poll_id;primaryKey"`
	Question        string    `gorm:"column:question"`
	CategoryID      string    `gorm:"column:category_id"`
	OwnerID         string    `gorm:"column:owner_id"`
	OrganizationID  *string   `gorm:"column:organization_id"`
	Public          bool      `gorm:"column:is_public"`
	Monetized       bool      `gorm:"column:monetized"`
	Active          bool      `gorm:"column:active"`
	State           string    `gorm:"column:state"`
	StartAt         time.Time `gorm:"column:start_at"`
	EndAt           time.Time `gorm:"column:end_at"`
	AllowAnonymous  bool      `gorm:"column:allow_anonymous"`
	OneVotePerVoter bool      `gorm:"column:one_vote_per_voter"`
	IPVoteLimit     int       `gorm:"column:ip_vote_limit"`
	IPWindowSeconds int64     `gorm:"column:ip_window_seconds"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) pollModel {
	row := pollModel{
		PollID:          strings.TrimSpace(poll.PollID),
		Question:        strings.TrimSpace(poll.Question),
		CategoryID:      strings.TrimSpace(poll.CategoryID),
		OwnerID:         strings.TrimSpace(poll.OwnerID),
		Public:          poll.Public,
		Monetized:       poll.Monetized,
		Active:          poll.Active,
		State:           string(poll.State),
		StartAt:         poll.StartAt.UTC(),
		EndAt:           poll.EndAt.UTC(),
		AllowAnonymous:  poll.Restriction.AllowAnonymous,
		OneVotePerVoter: poll.Restriction.OneVotePerVoter,
		IPVoteLimit:     poll.Restriction.IPVoteLimit,
		IPWindowSeconds: int64(poll.Restriction.IPWindow / time.Second),
		CreatedAt:       poll.CreatedAt.UTC(),
		UpdatedAt:       poll.UpdatedAt.UTC(),
	}
	if strings.TrimSpace(poll.OrganizationID) != "" {
		orgID := strings.TrimSpace(poll.OrganizationID)
		row.OrganizationID = &orgID
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m pollModel) toEntity() entities.Poll {
	orgID := ""
	if m.OrganizationID != nil {
		orgID = strings.TrimSpace(*m.OrganizationID)
	}
	return entities.Poll{
		PollID:         m.PollID,
		Question:       m.Question,
		CategoryID:     m.CategoryID,
		OwnerID:        m.OwnerID,
		OrganizationID: orgID,
		Public:         m.Public,
		Monetized:      m.Monetized,
		Active:         m.Active,
		State:          entities.LifecycleState(m.State),
		StartAt:        m.StartAt.UTC(),
		EndAt:          m.EndAt.UTC(),
		Restriction: entities.RestrictionConfig{
			AllowAnonymous:  m.AllowAnonymous,
			OneVotePerVoter: m.OneVotePerVoter,
			IPVoteLimit:     m.IPVoteLimit,
			IPWindow:        time.Duration(m.IPWindowSeconds) * time.Second,
		},
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type optionModel struct {
	OptionID  string `gorm:"column:option_id;primaryKey"`
	PollID    string `gorm:"column:poll_id"`
	Label     string `gorm:"column:label"`
	Position  int    `gorm:"column:position"`
	VoteCount int64  `gorm:"column:vote_count"`
}

func (optionModel) TableName() string {
	return "poll_options"
}

func optionModelFromEntity(option entities.Option) optionModel {
	return optionModel{
		OptionID:  strings.TrimSpace(option.OptionID),
		PollID:    strings.TrimSpace(option.PollID),
		Label:     strings.TrimSpace(option.Label),
		Position:  option.Position,
		VoteCount: option.VoteCount,
	}
}

func (m optionModel) toEntity() entities.Option {
	return entities.Option{
		OptionID:  m.OptionID,
		PollID:    m.PollID,
		Label:     m.Label,
		Position:  m.Position,
		VoteCount: m.VoteCount,
	}
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
	return "poll_outbox"
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.PollRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
