package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/polling/vote-engine/domain/entities"
	domainerrors "agora/contexts/polling/vote-engine/domain/errors"
	"agora/contexts/polling/vote-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"

	uniqueViolationCode = "23505"
)

// Repository implements the vote ledger on Postgres. Votes, the option
// counters and the poll read model share one database, so CastVote can hold
// everything in a single transaction.
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

// Models lists the tables this context owns, for migration wiring. The polls
// and poll_options tables are read models owned by the poll context.
func Models() []any {
	return []any{&voteModel{}, &outboxModel{}, &dedupModel{}}
}

func (r *Repository) GetPollProjection(ctx context.Context, pollID string) (ports.PollProjection, error) {
	var row pollReadModel
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.PollProjection{}, domainerrors.ErrPollNotFound
		}
		return ports.PollProjection{}, r.logError("votes_repo_get_poll_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return row.toProjection(), nil
}

// CastVote appends the vote and bumps the option counter atomically. The poll
// row is locked and its window re-checked first, so a close that commits
// before this transaction wins and the vote is rejected. The unique index on
// (poll_id, unique_key) turns a concurrent duplicate into exactly one winner.
func (r *Repository) CastVote(
	ctx context.Context,
	vote entities.Vote,
	enforceUnique bool,
	now time.Time,
) (entities.Tally, error) {
	var tally entities.Tally
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pollRow pollReadModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("poll_id = ?", strings.TrimSpace(vote.PollID)).
			First(&pollRow).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrPollNotFound
			}
			return err
		}
		if !pollRow.toProjection().Open(now) {
			return domainerrors.ErrPollNotOpen
		}

		row := voteModelFromEntity(vote, enforceUnique)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDuplicateVote
			}
			return err
		}

		result := tx.Model(&optionReadModel{}).
			Where("option_id = ?", strings.TrimSpace(vote.OptionID)).
			Where("poll_id = ?", strings.TrimSpace(vote.PollID)).
			UpdateColumn("vote_count", gorm.Expr("vote_count + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Rolls the vote insert back too.
			return domainerrors.ErrOptionNotFound
		}

		loaded, err := loadTally(tx, strings.TrimSpace(vote.PollID))
		if err != nil {
			return err
		}
		tally = loaded
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrPollNotFound) ||
			errors.Is(err, domainerrors.ErrPollNotOpen) ||
			errors.Is(err, domainerrors.ErrOptionNotFound) ||
			errors.Is(err, domainerrors.ErrDuplicateVote) {
			return entities.Tally{}, err
		}
		return entities.Tally{}, r.logError("votes_repo_cast_vote_failed", err,
			"poll_id", strings.TrimSpace(vote.PollID),
			"option_id", strings.TrimSpace(vote.OptionID),
		)
	}
	return tally, nil
}

func (r *Repository) HasVoted(ctx context.Context, pollID string, voterKey string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&voteModel{}).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("voter_key = ?", strings.TrimSpace(voterKey)).
		Count(&count).Error; err != nil {
		return false, r.logError("votes_repo_has_voted_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return count > 0, nil
}

func (r *Repository) CountRecentByAddress(
	ctx context.Context,
	pollID string,
	address string,
	since time.Time,
) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&voteModel{}).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("ip_address = ?", strings.TrimSpace(address)).
		Where("created_at >= ?", since.UTC()).
		Count(&count).Error; err != nil {
		return 0, r.logError("votes_repo_count_recent_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return int(count), nil
}

func (r *Repository) GetTally(ctx context.Context, pollID string) (entities.Tally, error) {
	tally, err := loadTally(r.db.WithContext(ctx), strings.TrimSpace(pollID))
	if err != nil {
		return entities.Tally{}, r.logError("votes_repo_get_tally_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return tally, nil
}

// RecomputeTally resets each option counter to the ledger count in one
// statement, then returns the corrected tally.
func (r *Repository) RecomputeTally(ctx context.Context, pollID string) (entities.Tally, error) {
	var tally entities.Tally
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&optionReadModel{}).
			Where("poll_id = ?", strings.TrimSpace(pollID)).
			UpdateColumn("vote_count", gorm.Expr(
				"(SELECT COUNT(*) FROM votes WHERE votes.option_id = poll_options.option_id)",
			))
		if result.Error != nil {
			return result.Error
		}
		loaded, err := loadTally(tx, strings.TrimSpace(pollID))
		if err != nil {
			return err
		}
		tally = loaded
		return nil
	})
	if err != nil {
		return entities.Tally{}, r.logError("votes_repo_recompute_tally_failed", err,
			"poll_id", strings.TrimSpace(pollID),
		)
	}
	return tally, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("votes_repo_append_outbox_marshal_failed", err,
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
		return r.logError("votes_repo_append_outbox_insert_failed", create.Error,
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
		return nil, r.logError("votes_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("votes_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := dedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("votes_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	return create.RowsAffected == 0, nil
}

func loadTally(tx *gorm.DB, pollID string) (entities.Tally, error) {
	var rows []optionReadModel
	if err := tx.
		Where("poll_id = ?", pollID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return entities.Tally{}, err
	}
	counts := make([]entities.OptionCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, entities.OptionCount{
			OptionID: row.OptionID,
			Label:    row.Label,
			Position: row.Position,
			Count:    row.VoteCount,
		})
	}
	return entities.Tally{PollID: pollID, Counts: counts}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "polling/vote-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("vote repository operation failed", fields...)
	return err
}

type voteModel struct {
	VoteID    string    `gorm:"column:vote_id;primaryKey"`
	PollID    string    `gorm:"column:poll_id;uniqueIndex:idx_votes_poll_unique_key,priority:1"`
	OptionID  string    `gorm:"column:option_id"`
	VoterKey  string    `gorm:"column:voter_key"`
	UniqueKey *string   `gorm:"column:unique_key;uniqueIndex:idx_votes_poll_unique_key,priority:2"`
	UserID    *string   `gorm:"column:user_id"`
	IPAddress string    `gorm:"column:ip_address"`
	UserAgent string    `gorm:"column:user_agent"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (voteModel) TableName() string {
	return "votes"
}

// voteModelFromEntity sets unique_key only when the one-vote rule applies.
// NULL keys never collide under the unique index, so unrestricted polls keep
// accepting repeat votes from the same voter.
func voteModelFromEntity(vote entities.Vote, enforceUnique bool) voteModel {
	row := voteModel{
		VoteID:    strings.TrimSpace(vote.VoteID),
		PollID:    strings.TrimSpace(vote.PollID),
		OptionID:  strings.TrimSpace(vote.OptionID),
		VoterKey:  strings.TrimSpace(vote.VoterKey),
		IPAddress: strings.TrimSpace(vote.Address),
		UserAgent: strings.TrimSpace(vote.UserAgent),
		CreatedAt: vote.CreatedAt.UTC(),
	}
	if enforceUnique {
		key := row.VoterKey
		row.UniqueKey = &key
	}
	if strings.TrimSpace(vote.UserID) != "" {
		userID := strings.TrimSpace(vote.UserID)
		row.UserID = &userID
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

// pollReadModel maps the polls table owned by poll-service; the vote engine
// reads it and never writes.
type pollReadModel struct {
	PollID          string    `gorm:"column:poll_id;primaryKey"`
	OwnerID         string    `gorm:"column:owner_id"`
	Active          bool      `gorm:"column:active"`
	State           string    `gorm:"column:state"`
	StartAt         time.Time `gorm:"column:start_at"`
	EndAt           time.Time `gorm:"column:end_at"`
	AllowAnonymous  bool      `gorm:"column:allow_anonymous"`
	OneVotePerVoter bool      `gorm:"column:one_vote_per_voter"`
	IPVoteLimit     int       `gorm:"column:ip_vote_limit"`
	IPWindowSeconds int64     `gorm:"column:ip_window_seconds"`
}

func (pollReadModel) TableName() string {
	return "polls"
}

func (m pollReadModel) toProjection() ports.PollProjection {
	return ports.PollProjection{
		PollID:          m.PollID,
		OwnerID:         m.OwnerID,
		State:           m.State,
		StartAt:         m.StartAt.UTC(),
		EndAt:           m.EndAt.UTC(),
		Active:          m.Active,
		AllowAnonymous:  m.AllowAnonymous,
		OneVotePerVoter: m.OneVotePerVoter,
		IPVoteLimit:     m.IPVoteLimit,
		IPWindow:        time.Duration(m.IPWindowSeconds) * time.Second,
	}
}

type optionReadModel struct {
	OptionID  string `gorm:"column:option_id;primaryKey"`
	PollID    string `gorm:"column:poll_id"`
	Label     string `gorm:"column:label"`
	Position  int    `gorm:"column:position"`
	VoteCount int64  `gorm:"column:vote_count"`
}

func (optionReadModel) TableName() string {
	return "poll_options"
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
	return "vote_outbox"
}

type dedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (dedupModel) TableName() string {
	return "vote_event_dedup"
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ ports.PollReader = (*Repository)(nil)
var _ ports.VoteLedger = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
