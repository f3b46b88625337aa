package partneremails_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"referly/internal/mailer"
	"referly/internal/models"
	"referly/internal/partneremails"
	"referly/internal/partners"
	"referly/internal/testsupport"
	"referly/internal/timeframe"
)

var period = timeframe.PayPeriod{
	Start: time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
}

type fixture struct {
	service  *partneremails.Service
	recorder *mailer.Recorder
}

func setup(t *testing.T, delay time.Duration) fixture {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	clock, _ := testsupport.NewClock(time.Date(2025, 1, 21, 1, 0, 0, 0, time.UTC))
	logger := testsupport.GetLogger()

	renderer, err := partneremails.NewRenderer("ja", "¥")
	require.NoError(t, err)
	recorder := &mailer.Recorder{}
	calculator := partners.NewCalculator(db, logger, clock, 21)
	service := partneremails.NewService(db, logger, calculator, renderer, recorder, partneremails.Options{SendDelay: delay})
	return fixture{service: service, recorder: recorder}
}

func activeDates(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = timeframe.DateKey(period.Start.AddDate(0, 0, i))
	}
	return keys
}

func draftFor(t *testing.T, result *partneremails.GenerateResult, partnerID uint) partneremails.Draft {
	t.Helper()
	for _, d := range result.Drafts {
		if d.PartnerID == partnerID {
			return d
		}
	}
	t.Fatalf("no draft for partner %d", partnerID)
	return partneremails.Draft{}
}

func TestGenerateDrafts(t *testing.T) {
	f := setup(t, 0)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	active := testsupport.CreatePartner(t, db, partners.Partner{
		Domain: "blog.example", Name: "Blog", Email: "blog@example.com", MonthlyAmount: 10000,
		BankInfo: datatypes.NewJSONType(partners.BankInfo{BankName: "Mizuho", AccountNumber: "7654321"}),
	})
	quiet := testsupport.CreatePartner(t, db, partners.Partner{Domain: "quiet.example", Status: partners.StatusPending})
	testsupport.CreatePartner(t, db, partners.Partner{Domain: "gone.example", Status: partners.StatusInactive})
	testsupport.SeedActiveDays(t, db, "blog.example", activeDates(28)...)

	result, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	require.Len(t, result.Drafts, 2)

	draft := draftFor(t, result, active.ID)
	assert.Equal(t, partneremails.StatusDraft, draft.Status)
	assert.Equal(t, int64(9044), draft.PaymentAmount)
	assert.Equal(t, 28, draft.ActiveDays)
	assert.Equal(t, 3, draft.InactiveDays)
	assert.Equal(t, "blog@example.com", draft.Recipient)
	assert.Contains(t, draft.Subject, "2024-12-21 ~ 2025-01-20")
	assert.Contains(t, draft.Body, "¥9,044")
	assert.Contains(t, draft.Body, "Mizuho")

	noData := draftFor(t, result, quiet.ID)
	assert.Equal(t, partneremails.StatusNoData, noData.Status)
	assert.False(t, noData.HasData)

	again, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 2, again.Updated)

	listed, err := f.service.ListDrafts(ctx, period)
	require.NoError(t, err)
	assert.Len(t, listed, 2, "one draft per partner and period")
}

func TestUpdateDraftAppliesOverride(t *testing.T) {
	f := setup(t, 0)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	partner := testsupport.CreatePartner(t, db, partners.Partner{Domain: "o.example", Email: "o@example.com", MonthlyAmount: 10000})
	result, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	draft := draftFor(t, result, partner.ID)
	assert.Equal(t, int64(0), draft.PaymentAmount)

	three := 3
	updated, err := f.service.UpdateDraft(ctx, draft.ID, partneremails.DraftUpdate{InactiveDays: &three})
	require.NoError(t, err)
	assert.Equal(t, int64(9044), updated.PaymentAmount)
	assert.Equal(t, 28, updated.ActiveDays)
	assert.Equal(t, partneremails.StatusDraft, updated.Status)
	assert.True(t, updated.HasData)

	subject := "Custom subject"
	updated, err = f.service.UpdateDraft(ctx, draft.ID, partneremails.DraftUpdate{Subject: &subject})
	require.NoError(t, err)
	assert.Equal(t, "Custom subject", updated.Subject)
	assert.Equal(t, int64(9044), updated.PaymentAmount, "the override survives later edits")

	regenerated, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, int64(9044), draftFor(t, regenerated, partner.ID).PaymentAmount, "the override survives regeneration")

	tooMany := 40
	_, err = f.service.UpdateDraft(ctx, draft.ID, partneremails.DraftUpdate{InactiveDays: &tooMany})
	assert.ErrorIs(t, err, partners.ErrInvalidOverride)

	_, err = f.service.UpdateDraft(ctx, 9999, partneremails.DraftUpdate{})
	assert.ErrorIs(t, err, partneremails.ErrDraftNotFound)
}

func TestSentDraftsAreImmutable(t *testing.T) {
	f := setup(t, 0)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	partner := testsupport.CreatePartner(t, db, partners.Partner{Domain: "s.example", Email: "s@example.com", MonthlyAmount: 10000})
	testsupport.SeedActiveDays(t, db, "s.example", activeDates(31)...)
	result, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	draft := draftFor(t, result, partner.ID)

	sent, err := f.service.SendDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, partneremails.StatusSent, sent.Status)
	require.Len(t, f.recorder.Messages(), 1)
	assert.Equal(t, "s@example.com", f.recorder.Messages()[0].To)

	zero := 31
	_, err = f.service.UpdateDraft(ctx, draft.ID, partneremails.DraftUpdate{InactiveDays: &zero})
	assert.ErrorIs(t, err, partneremails.ErrDraftSent)

	_, err = f.service.SendDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, partneremails.ErrDraftSent)
	assert.Len(t, f.recorder.Messages(), 1, "no second delivery")

	regenerated, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 1, regenerated.Skipped)

	stored, err := f.service.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, partneremails.StatusSent, stored.Status)
	assert.Equal(t, int64(10000), stored.PaymentAmount)
	assert.NotNil(t, stored.SentAt)
}

func TestSendDraftValidation(t *testing.T) {
	f := setup(t, 0)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	noEmail := testsupport.CreatePartner(t, db, partners.Partner{Domain: "ne.example", MonthlyAmount: 10000})
	noData := testsupport.CreatePartner(t, db, partners.Partner{Domain: "nd.example", Email: "nd@example.com", Status: partners.StatusPending})
	testsupport.SeedActiveDays(t, db, "ne.example", activeDates(5)...)

	result, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)

	_, err = f.service.SendDraft(ctx, draftFor(t, result, noEmail.ID).ID)
	assert.ErrorIs(t, err, partneremails.ErrNoRecipient)
	_, err = f.service.SendDraft(ctx, draftFor(t, result, noData.ID).ID)
	assert.ErrorIs(t, err, partneremails.ErrNoData)
	assert.Empty(t, f.recorder.Messages())
}

func TestSendFailureIsRetryable(t *testing.T) {
	f := setup(t, 0)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	partner := testsupport.CreatePartner(t, db, partners.Partner{Domain: "r.example", Email: "r@example.com", MonthlyAmount: 10000})
	testsupport.SeedActiveDays(t, db, "r.example", activeDates(2)...)
	result, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	id := draftFor(t, result, partner.ID).ID

	f.recorder.Fail = func(mailer.Message) error { return errors.New("relay unavailable") }
	draft, err := f.service.SendDraft(ctx, id)
	assert.ErrorIs(t, err, partneremails.ErrSendFailed)
	assert.Equal(t, partneremails.StatusError, draft.Status)

	stored, err := f.service.GetDraft(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, partneremails.StatusError, stored.Status)
	assert.Equal(t, "relay unavailable", stored.ErrorMessage)

	f.recorder.Fail = nil
	draft, err = f.service.SendDraft(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, partneremails.StatusSent, draft.Status)
	assert.Empty(t, draft.ErrorMessage)
}

func TestSendBatch(t *testing.T) {
	f := setup(t, time.Millisecond)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	ok := testsupport.CreatePartner(t, db, partners.Partner{Domain: "ok.example", Email: "ok@example.com", MonthlyAmount: 10000, Order: 1})
	bounce := testsupport.CreatePartner(t, db, partners.Partner{Domain: "bounce.example", Email: "bounce@example.com", MonthlyAmount: 10000, Order: 2})
	noEmail := testsupport.CreatePartner(t, db, partners.Partner{Domain: "ne.example", MonthlyAmount: 10000, Order: 3})
	noData := testsupport.CreatePartner(t, db, partners.Partner{Domain: "nd.example", Email: "nd@example.com", Status: partners.StatusPending, Order: 4})
	for _, date := range activeDates(10) {
		testsupport.SeedDaily(t, db, date, map[string]models.Counts{
			"ok.example":     {Views: 1},
			"bounce.example": {Views: 1},
			"ne.example":     {Views: 1},
		})
	}

	result, err := f.service.GenerateDrafts(ctx, period)
	require.NoError(t, err)
	f.recorder.Fail = func(msg mailer.Message) error {
		if msg.To == "bounce@example.com" {
			return errors.New("mailbox full")
		}
		return nil
	}

	ids := []uint{
		draftFor(t, result, ok.ID).ID,
		draftFor(t, result, bounce.ID).ID,
		draftFor(t, result, noEmail.ID).ID,
		draftFor(t, result, noData.ID).ID,
		4242,
	}
	batch, err := f.service.SendBatch(ctx, ids)
	require.NoError(t, err)
	assert.NotEmpty(t, batch.BatchID)
	assert.Equal(t, []uint{ids[0]}, batch.Sent)
	assert.Len(t, batch.Skipped, 1)
	assert.Equal(t, ids[3], batch.Skipped[0].ID)
	require.Len(t, batch.Failed, 3)

	failed := map[uint]string{}
	for _, item := range batch.Failed {
		failed[item.ID] = item.Reason
	}
	assert.Contains(t, failed[ids[1]], "mailbox full")
	assert.Contains(t, failed[ids[2]], partneremails.ErrNoRecipient.Error())
	assert.Contains(t, failed[4242], partneremails.ErrDraftNotFound.Error())

	sent, err := f.service.GetDraft(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, batch.BatchID, sent.BatchID)
	bounced, err := f.service.GetDraft(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, partneremails.StatusError, bounced.Status)
}

func TestSendBatchStopsOnCancel(t *testing.T) {
	f := setup(t, time.Hour)
	db := testsupport.SetupTestDB(t)

	var ids []uint
	for _, domain := range []string{"a.example", "b.example"} {
		testsupport.CreatePartner(t, db, partners.Partner{Domain: domain, Email: "x@" + domain, MonthlyAmount: 100})
	}
	for _, date := range activeDates(1) {
		testsupport.SeedDaily(t, db, date, map[string]models.Counts{"a.example": {Views: 1}, "b.example": {Views: 1}})
	}
	result, err := f.service.GenerateDrafts(context.Background(), period)
	require.NoError(t, err)
	for _, d := range result.Drafts {
		ids = append(ids, d.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.recorder.Fail = func(mailer.Message) error {
		cancel()
		return nil
	}

	batch, err := f.service.SendBatch(ctx, ids)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, batch.Sent, 1)
	require.Len(t, batch.Skipped, 1)
	assert.Equal(t, ids[1], batch.Skipped[0].ID)
}
