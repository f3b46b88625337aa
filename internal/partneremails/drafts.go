// Package partneremails turns partner payments into editable invoice drafts
// and sends them.
package partneremails

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"referly/internal/mailer"
	"referly/internal/models"
	"referly/internal/partners"
	"referly/internal/timeframe"
)

var (
	ErrDraftNotFound = errors.New("draft not found")
	// ErrDraftSent is returned for any change to a draft that was already sent.
	ErrDraftSent   = errors.New("draft already sent")
	ErrNoData      = errors.New("draft has no data to send")
	ErrNoRecipient = errors.New("partner has no e-mail address")
	ErrSendFailed  = errors.New("failed to send draft")
)

// DraftStatus is the lifecycle state of a draft.
type DraftStatus string

const (
	StatusDraft  DraftStatus = "draft"
	StatusNoData DraftStatus = "no_data"
	StatusSent   DraftStatus = "sent"
	StatusError  DraftStatus = "error"
)

// Draft is the invoice notice of one partner for one pay period.
type Draft struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	PartnerID   uint   `gorm:"not null;uniqueIndex:idx_draft_partner_period" json:"partnerId"`
	PeriodStart string `gorm:"size:10;not null;uniqueIndex:idx_draft_partner_period" json:"periodStart"`
	PeriodEnd   string `gorm:"size:10;not null;uniqueIndex:idx_draft_partner_period" json:"periodEnd"`
	Domain      string `gorm:"size:255" json:"domain"`
	PartnerName string `gorm:"size:255" json:"partnerName"`
	Recipient   string `gorm:"size:255" json:"recipient"`
	Subject     string `gorm:"size:255" json:"subject"`
	Body        string `gorm:"type:text" json:"body"`

	ActiveDays           int    `json:"activeDays"`
	InactiveDays         int    `json:"inactiveDays"`
	TotalDays            int    `json:"totalDays"`
	PaymentAmount        int64  `json:"paymentAmount"`
	DailyRate            int64  `json:"dailyRate"`
	PaymentStatus        string `gorm:"size:20" json:"paymentStatus"`
	InactiveDaysOverride *int   `json:"inactiveDaysOverride,omitempty"`
	HasData              bool   `json:"hasData"`

	Status       DraftStatus `gorm:"size:20;not null;index" json:"status"`
	ErrorMessage string      `gorm:"type:text" json:"errorMessage,omitempty"`
	SentAt       *time.Time  `json:"sentAt,omitempty"`
	BatchID      string      `gorm:"size:36;index" json:"batchId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Draft) TableName() string {
	return "partner_email_drafts"
}

// editableColumns are rewritten by generate and update; lifecycle columns are
// handled separately.
var editableColumns = []string{
	"domain", "partner_name", "recipient", "subject", "body",
	"active_days", "inactive_days", "total_days", "payment_amount", "daily_rate",
	"payment_status", "inactive_days_override", "has_data", "status", "error_message",
	"updated_at",
}

// Options configure a Service.
type Options struct {
	// SendDelay is the pause between two sends of one batch.
	SendDelay time.Duration
}

// Service runs the draft workflow.
type Service struct {
	db         *gorm.DB
	logger     *slog.Logger
	calculator *partners.Calculator
	renderer   *Renderer
	sender     mailer.Sender
	opts       Options
}

// NewService wires a draft service.
func NewService(db *gorm.DB, logger *slog.Logger, calculator *partners.Calculator, renderer *Renderer, sender mailer.Sender, opts Options) *Service {
	return &Service{
		db:         db,
		logger:     logger,
		calculator: calculator,
		renderer:   renderer,
		sender:     sender,
		opts:       opts,
	}
}

// GenerateResult summarizes one GenerateDrafts run.
type GenerateResult struct {
	Start   string  `json:"periodStart"`
	End     string  `json:"periodEnd"`
	Created int     `json:"created"`
	Updated int     `json:"updated"`
	Skipped int     `json:"skipped"`
	Drafts  []Draft `json:"drafts"`
}

// GenerateDrafts creates or refreshes the draft of every partner for period.
// Sent drafts are left untouched; an existing inactive-days override is kept.
// Deactivated partners get no draft.
func (s *Service) GenerateDrafts(ctx context.Context, period timeframe.PayPeriod) (*GenerateResult, error) {
	db := s.db.WithContext(ctx)
	list, err := partners.List(db)
	if err != nil {
		return nil, err
	}

	result := &GenerateResult{Start: period.StartKey(), End: period.EndKey(), Drafts: []Draft{}}
	for i := range list {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		partner := &list[i]
		if partner.EffectiveStatus() == partners.StatusInactive {
			continue
		}

		draft, err := s.findDraft(db, partner.ID, result.Start, result.End)
		if err != nil {
			return nil, err
		}
		if draft != nil && draft.Status == StatusSent {
			result.Skipped++
			result.Drafts = append(result.Drafts, *draft)
			continue
		}

		existing := draft != nil
		if draft == nil {
			draft = &Draft{PartnerID: partner.ID, PeriodStart: result.Start, PeriodEnd: result.End}
		}
		if err := s.fill(ctx, draft, partner, period, true, true); err != nil {
			return nil, err
		}
		draft.Status = StatusDraft
		if !draft.HasData {
			draft.Status = StatusNoData
		}
		draft.ErrorMessage = ""

		if existing {
			if err := s.saveUnsent(ctx, draft); err != nil {
				if errors.Is(err, ErrDraftSent) {
					result.Skipped++
					continue
				}
				return nil, err
			}
			result.Updated++
		} else {
			if err := models.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
				return tx.Create(draft).Error
			}); err != nil {
				return nil, fmt.Errorf("failed to create draft for partner %d: %w", partner.ID, err)
			}
			result.Created++
		}
		result.Drafts = append(result.Drafts, *draft)
	}

	s.logger.Info("Generated partner e-mail drafts",
		slog.String("period", period.Label()),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

// fill recomputes the payment figures of draft and optionally re-renders its text.
func (s *Service) fill(ctx context.Context, draft *Draft, partner *partners.Partner, period timeframe.PayPeriod, subject, body bool) error {
	payment, err := s.calculator.CalculatePayment(ctx, partner, period.Start, period.End, draft.InactiveDaysOverride)
	if err != nil {
		return err
	}

	draft.Domain = partner.Domain
	draft.PartnerName = partner.Name
	draft.Recipient = partner.Email
	draft.ActiveDays = payment.DaysActive
	draft.InactiveDays = payment.InactiveDays
	draft.TotalDays = payment.TotalDays
	draft.PaymentAmount = payment.Amount
	draft.DailyRate = payment.DailyRate
	draft.PaymentStatus = string(payment.Status)
	draft.HasData = payment.HasData()

	renderedSubject, renderedBody, err := s.renderer.render(partner, payment)
	if err != nil {
		return err
	}
	if subject {
		draft.Subject = renderedSubject
	}
	if body {
		draft.Body = renderedBody
	}
	return nil
}

func (s *Service) findDraft(db *gorm.DB, partnerID uint, start, end string) (*Draft, error) {
	var draft Draft
	err := db.Where("partner_id = ? AND period_start = ? AND period_end = ?", partnerID, start, end).
		Limit(1).Find(&draft).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if draft.ID == 0 {
		return nil, nil
	}
	return &draft, nil
}

// saveUnsent writes the editable columns unless the draft has been sent meanwhile.
func (s *Service) saveUnsent(ctx context.Context, draft *Draft) error {
	return models.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		result := tx.Model(&Draft{}).
			Where("id = ? AND status <> ?", draft.ID, StatusSent).
			Select(editableColumns).
			Updates(draft)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDraftSent
		}
		return nil
	})
}

// ListDrafts returns the drafts of period ordered by partner.
func (s *Service) ListDrafts(ctx context.Context, period timeframe.PayPeriod) ([]Draft, error) {
	var drafts []Draft
	err := s.db.WithContext(ctx).
		Where("period_start = ? AND period_end = ?", period.StartKey(), period.EndKey()).
		Order("partner_id ASC").
		Find(&drafts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// GetDraft loads one draft.
func (s *Service) GetDraft(ctx context.Context, id uint) (*Draft, error) {
	var draft Draft
	if err := s.db.WithContext(ctx).First(&draft, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to load draft %d: %w", id, err)
	}
	return &draft, nil
}

// DraftUpdate holds the fields an operator may change. Nil fields are left as
// they are; a nil Subject or Body is re-rendered from the new figures.
type DraftUpdate struct {
	InactiveDays *int    `json:"inactiveDays"`
	Subject      *string `json:"subject"`
	Body         *string `json:"body"`
}

// UpdateDraft applies an operator edit, recomputing the amount from the
// inactive-days override. The draft returns to the draft state.
func (s *Service) UpdateDraft(ctx context.Context, id uint, update DraftUpdate) (*Draft, error) {
	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.Status == StatusSent {
		return nil, ErrDraftSent
	}

	partner, err := partners.Get(s.db.WithContext(ctx), draft.PartnerID)
	if err != nil {
		return nil, err
	}
	period, err := draftPeriod(draft, s.calculator)
	if err != nil {
		return nil, err
	}

	if update.InactiveDays != nil {
		override := *update.InactiveDays
		draft.InactiveDaysOverride = &override
	}
	if err := s.fill(ctx, draft, partner, period, update.Subject == nil, update.Body == nil); err != nil {
		return nil, err
	}
	if update.Subject != nil {
		draft.Subject = *update.Subject
	}
	if update.Body != nil {
		draft.Body = *update.Body
	}
	draft.Status = StatusDraft
	draft.ErrorMessage = ""

	if err := s.saveUnsent(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

func draftPeriod(draft *Draft, calculator *partners.Calculator) (timeframe.PayPeriod, error) {
	loc := calculator.Location()
	start, err := timeframe.ParseDate(draft.PeriodStart, loc)
	if err != nil {
		return timeframe.PayPeriod{}, err
	}
	end, err := timeframe.ParseDate(draft.PeriodEnd, loc)
	if err != nil {
		return timeframe.PayPeriod{}, err
	}
	return timeframe.PayPeriod{Start: start, End: end}, nil
}

// validate checks that draft can be sent.
func validate(draft *Draft) error {
	switch {
	case draft.Status == StatusSent:
		return ErrDraftSent
	case !draft.HasData:
		return ErrNoData
	case draft.Recipient == "":
		return ErrNoRecipient
	}
	return nil
}

// SendDraft sends one draft. A delivery failure moves the draft to the error
// state and is reported as ErrSendFailed.
func (s *Service) SendDraft(ctx context.Context, id uint) (*Draft, error) {
	draft, err := s.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validate(draft); err != nil {
		return draft, err
	}
	return draft, s.deliver(ctx, draft, "")
}

func (s *Service) deliver(ctx context.Context, draft *Draft, batchID string) error {
	sendErr := s.sender.Send(ctx, mailer.Message{To: draft.Recipient, Subject: draft.Subject, Body: draft.Body})

	now := time.Now().UTC()
	updates := map[string]any{"updated_at": now, "batch_id": batchID}
	if sendErr != nil {
		updates["status"] = StatusError
		updates["error_message"] = sendErr.Error()
	} else {
		updates["status"] = StatusSent
		updates["error_message"] = ""
		updates["sent_at"] = now
	}

	err := models.PerformWrite(s.logger, s.db.WithContext(context.WithoutCancel(ctx)), func(tx *gorm.DB) error {
		return tx.Model(&Draft{}).Where("id = ? AND status <> ?", draft.ID, StatusSent).Updates(updates).Error
	})
	if err != nil {
		s.logger.Error("Failed to record draft send outcome",
			slog.Uint64("draft_id", uint64(draft.ID)),
			slog.Any("error", err))
	}

	draft.Status = updates["status"].(DraftStatus)
	draft.ErrorMessage = updates["error_message"].(string)
	draft.BatchID = batchID
	if sendErr != nil {
		s.logger.Warn("Partner e-mail failed",
			slog.Uint64("draft_id", uint64(draft.ID)),
			slog.String("recipient", draft.Recipient),
			slog.Any("error", sendErr))
		return fmt.Errorf("%w: %v", ErrSendFailed, sendErr)
	}
	draft.SentAt = &now
	return err
}

// BatchItem is a draft left out of or failed in a batch.
type BatchItem struct {
	ID     uint   `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult reports the outcome of a batch send.
type BatchResult struct {
	BatchID string      `json:"batchId"`
	Sent    []uint      `json:"sent"`
	Skipped []BatchItem `json:"skipped"`
	Failed  []BatchItem `json:"failed"`
}

// SendBatch validates every draft before sending any, then sends the valid
// ones one at a time with the configured delay between them. A failed send
// does not stop the batch; cancelling ctx does, reporting the unsent rest as
// skipped.
func (s *Service) SendBatch(ctx context.Context, ids []uint) (*BatchResult, error) {
	result := &BatchResult{
		BatchID: uuid.NewString(),
		Sent:    []uint{},
		Skipped: []BatchItem{},
		Failed:  []BatchItem{},
	}

	var drafts []Draft
	if len(ids) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&drafts).Error; err != nil {
			return nil, fmt.Errorf("failed to load drafts: %w", err)
		}
	}
	byID := make(map[uint]*Draft, len(drafts))
	for i := range drafts {
		byID[drafts[i].ID] = &drafts[i]
	}

	var valid []*Draft
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		draft, ok := byID[id]
		if !ok {
			result.Failed = append(result.Failed, BatchItem{ID: id, Reason: ErrDraftNotFound.Error()})
			continue
		}
		switch err := validate(draft); {
		case err == nil:
			valid = append(valid, draft)
		case errors.Is(err, ErrNoRecipient):
			result.Failed = append(result.Failed, BatchItem{ID: id, Reason: err.Error()})
		default:
			result.Skipped = append(result.Skipped, BatchItem{ID: id, Reason: err.Error()})
		}
	}

	for i, draft := range valid {
		if i > 0 && !s.wait(ctx) {
			for _, rest := range valid[i:] {
				result.Skipped = append(result.Skipped, BatchItem{ID: rest.ID, Reason: ctx.Err().Error()})
			}
			break
		}
		if err := s.deliver(ctx, draft, result.BatchID); err != nil {
			result.Failed = append(result.Failed, BatchItem{ID: draft.ID, Reason: err.Error()})
			continue
		}
		result.Sent = append(result.Sent, draft.ID)
	}

	s.logger.Info("Partner e-mail batch finished",
		slog.String("batch_id", result.BatchID),
		slog.Int("sent", len(result.Sent)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("failed", len(result.Failed)))
	return result, ctx.Err()
}

// wait sleeps for the send delay, returning false if ctx ends first.
func (s *Service) wait(ctx context.Context) bool {
	if s.opts.SendDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.opts.SendDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
