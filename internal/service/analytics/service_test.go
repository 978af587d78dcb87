package analytics

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// fakeRepo is an in-memory Repository covering what the service tests reach.
type fakeRepo struct {
	merchants     map[string]*domain.Merchant // by domain
	campaigns     map[string]*domain.Campaign // by id
	workerStatus  map[string]domain.AnalysisStatus
	emails        []domain.CampaignEmail
	paths         []domain.RecipientPath
	replay        []ReplayRow
	roots         []string
	nextID        int
	pathsDeleted  int64
	recounted     bool
	cleared       bool
	markedNew     []string // "recipient|root"
	rootCandidate []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		merchants:    make(map[string]*domain.Merchant),
		campaigns:    make(map[string]*domain.Campaign),
		workerStatus: make(map[string]domain.AnalysisStatus),
	}
}

func (f *fakeRepo) id(prefix string) string {
	f.nextID++
	return prefix + "-" + strconv.Itoa(f.nextID)
}

func (f *fakeRepo) GetMerchant(_ context.Context, id string) (*domain.Merchant, error) {
	for _, m := range f.merchants {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, ErrMerchantNotFound
}

func (f *fakeRepo) GetMerchantByDomain(_ context.Context, dom string) (*domain.Merchant, error) {
	if m, ok := f.merchants[dom]; ok {
		return m, nil
	}
	return nil, ErrMerchantNotFound
}

func (f *fakeRepo) UpsertMerchant(_ context.Context, dom string) (*domain.Merchant, bool, error) {
	if m, ok := f.merchants[dom]; ok {
		return m, false, nil
	}
	m := &domain.Merchant{ID: f.id("m"), Domain: dom, AnalysisStatus: domain.AnalysisPending}
	f.merchants[dom] = m
	return m, true, nil
}

func (f *fakeRepo) ListMerchants(context.Context, MerchantFilter) ([]domain.Merchant, error) {
	return nil, nil
}

func (f *fakeRepo) UpdateMerchant(context.Context, string, MerchantUpdate) error { return nil }

func (f *fakeRepo) IncrementMerchantEmails(_ context.Context, id string, delta int64) error {
	for _, m := range f.merchants {
		if m.ID == id {
			m.TotalEmails += delta
		}
	}
	return nil
}

func (f *fakeRepo) IncrementMerchantCampaigns(_ context.Context, id string, delta int64) error {
	for _, m := range f.merchants {
		if m.ID == id {
			m.TotalCampaigns += delta
		}
	}
	return nil
}

func (f *fakeRepo) EffectiveAnalysisStatus(_ context.Context, merchantID, workerName string) (domain.AnalysisStatus, error) {
	if st, ok := f.workerStatus[merchantID+"|"+workerName]; ok {
		return st, nil
	}
	for _, m := range f.merchants {
		if m.ID == merchantID {
			return m.AnalysisStatus, nil
		}
	}
	return "", ErrMerchantNotFound
}

func (f *fakeRepo) SetWorkerStatus(_ context.Context, s domain.MerchantWorkerStatus) error {
	f.workerStatus[s.MerchantID+"|"+s.WorkerName] = s.AnalysisStatus
	return nil
}

func (f *fakeRepo) ListWorkerStatuses(context.Context, string) ([]domain.MerchantWorkerStatus, error) {
	return nil, nil
}

func (f *fakeRepo) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	if c, ok := f.campaigns[id]; ok {
		return c, nil
	}
	return nil, ErrCampaignNotFound
}

func (f *fakeRepo) UpsertCampaign(_ context.Context, merchantID, subject string, receivedAt time.Time) (*domain.Campaign, bool, error) {
	for _, c := range f.campaigns {
		if c.MerchantID == merchantID && c.Subject == subject {
			c.TotalEmails++
			if receivedAt.After(c.LastSeenAt) {
				c.LastSeenAt = receivedAt
			}
			return c, false, nil
		}
	}
	c := &domain.Campaign{
		ID: f.id("c"), MerchantID: merchantID, Subject: subject,
		TotalEmails: 1, FirstSeenAt: receivedAt, LastSeenAt: receivedAt,
	}
	f.campaigns[c.ID] = c
	return c, true, nil
}

func (f *fakeRepo) ListCampaigns(_ context.Context, merchantID string) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, c := range f.campaigns {
		if c.MerchantID == merchantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetCampaignTag(_ context.Context, id string, tag int) error {
	c, ok := f.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.Tag = tag
	return nil
}

func (f *fakeRepo) SetCampaignRoot(_ context.Context, id string, isRoot bool) error {
	c, ok := f.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.IsRoot = isRoot
	return nil
}

func (f *fakeRepo) MarkRootCandidate(_ context.Context, id string) error {
	f.rootCandidate = append(f.rootCandidate, id)
	return nil
}

func (f *fakeRepo) InsertCampaignEmail(_ context.Context, e domain.CampaignEmail) error {
	f.emails = append(f.emails, e)
	return nil
}

func (f *fakeRepo) AppendRecipientPath(_ context.Context, merchantID, recipient, campaignID string, receivedAt time.Time) (bool, error) {
	maxSeq := -1
	for _, p := range f.paths {
		if p.MerchantID != merchantID || p.Recipient != recipient {
			continue
		}
		if p.CampaignID == campaignID {
			return false, nil
		}
		if p.SequenceOrder > maxSeq {
			maxSeq = p.SequenceOrder
		}
	}
	f.paths = append(f.paths, domain.RecipientPath{
		MerchantID: merchantID, Recipient: recipient, CampaignID: campaignID,
		SequenceOrder: maxSeq + 1, FirstReceivedAt: receivedAt,
	})
	return true, nil
}

func (f *fakeRepo) LoadPaths(_ context.Context, merchantID string, _ []string) ([]domain.RecipientPath, error) {
	var out []domain.RecipientPath
	for _, p := range f.paths {
		if p.MerchantID == merchantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) ClearNewUserFlags(_ context.Context, merchantID string) error {
	f.cleared = true
	for i := range f.paths {
		if f.paths[i].MerchantID == merchantID {
			f.paths[i].IsNewUser = false
			f.paths[i].FirstRootCampaignID = ""
		}
	}
	return nil
}

func (f *fakeRepo) MarkNewUsersForRoot(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) MarkRecipientNewUser(_ context.Context, merchantID, recipient, rootID string) error {
	f.markedNew = append(f.markedNew, recipient+"|"+rootID)
	for i := range f.paths {
		if f.paths[i].MerchantID == merchantID && f.paths[i].Recipient == recipient {
			f.paths[i].IsNewUser = true
			f.paths[i].FirstRootCampaignID = rootID
		}
	}
	return nil
}

func (f *fakeRepo) ConfirmedRootIDs(_ context.Context, merchantID string) ([]string, error) {
	return f.roots, nil
}

func (f *fakeRepo) DeletePaths(_ context.Context, merchantID string) (int64, error) {
	n := int64(len(f.paths))
	f.paths = nil
	f.pathsDeleted = n
	return n, nil
}

func (f *fakeRepo) ReplayEmails(context.Context, string, []string) ([]ReplayRow, error) {
	return f.replay, nil
}

func (f *fakeRepo) InsertPathRow(_ context.Context, p domain.RecipientPath) error {
	f.paths = append(f.paths, p)
	return nil
}

func (f *fakeRepo) RecountCampaignRecipients(context.Context, string) error {
	f.recounted = true
	return nil
}

func (f *fakeRepo) CreateProject(_ context.Context, p domain.AnalysisProject) (*domain.AnalysisProject, error) {
	p.ID = f.id("p")
	return &p, nil
}

func (f *fakeRepo) ListProjects(context.Context, string) ([]domain.AnalysisProject, error) {
	return nil, nil
}

func (f *fakeRepo) UpdateProjectStatus(context.Context, string, string) error { return nil }
func (f *fakeRepo) DeleteProject(context.Context, string) error               { return nil }

func TestTrackEmailRejectsMalformedSender(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.TrackEmail(context.Background(), TrackInput{
		Sender: "not-an-address", Subject: "s", Recipient: "r@x.com",
		ReceivedAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrInvalidSender)
}

func TestTrackEmailFirstSight(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	res, err := svc.TrackEmail(ctx, TrackInput{
		Sender: "noreply@mail.shop.example.co.uk", Subject: "Welcome to Shop",
		Recipient: "alice@x.com", WorkerName: "w1", ReceivedAt: t0,
	})
	require.NoError(t, err)
	require.True(t, res.NewMerchant)
	require.True(t, res.NewCampaign)
	require.True(t, res.PathExtended)
	require.Equal(t, "example.co.uk", res.Merchant.Domain)
	require.EqualValues(t, 1, res.Merchant.TotalEmails)
	require.EqualValues(t, 1, res.Merchant.TotalCampaigns)

	// "welcome" keyword flags the campaign as a root candidate.
	require.Equal(t, []string{res.Campaign.ID}, repo.rootCandidate)
	require.Len(t, repo.emails, 1)
	require.Equal(t, "w1", repo.emails[0].WorkerName)

	// Same campaign again: counters move, path does not.
	res2, err := svc.TrackEmail(ctx, TrackInput{
		Sender: "noreply@news.example.co.uk", Subject: "Welcome to Shop",
		Recipient: "alice@x.com", WorkerName: "w1", ReceivedAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)
	require.False(t, res2.NewMerchant)
	require.False(t, res2.NewCampaign)
	require.False(t, res2.PathExtended)
	require.EqualValues(t, 2, res2.Merchant.TotalEmails)
}

func TestTrackEmailSelectiveSkipsIgnoredMerchant(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	m, _, err := repo.UpsertMerchant(ctx, "shop.com")
	require.NoError(t, err)
	require.NoError(t, repo.SetWorkerStatus(ctx, domain.MerchantWorkerStatus{
		MerchantID: m.ID, WorkerName: "w1", AnalysisStatus: domain.AnalysisIgnored,
	}))

	res, err := svc.TrackEmailSelective(ctx, TrackInput{
		Sender: "a@shop.com", Subject: "promo", Recipient: "r@x.com",
		WorkerName: "w1", ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Nil(t, res.Campaign)
	// Only the merchant total moved.
	require.EqualValues(t, 1, res.Merchant.TotalEmails)
	require.Empty(t, repo.emails)
	require.Empty(t, repo.paths)

	// A worker without the override still gets full tracking.
	res2, err := svc.TrackEmailSelective(ctx, TrackInput{
		Sender: "a@shop.com", Subject: "promo", Recipient: "r@x.com",
		WorkerName: "w2", ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, res2.Skipped)
	require.NotNil(t, res2.Campaign)
}

func TestPathAppendOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// A, B, A again, C: the repeat extends nothing.
	for i, subject := range []string{"A", "B", "A", "C"} {
		_, err := svc.TrackEmail(ctx, TrackInput{
			Sender: "a@shop.com", Subject: subject, Recipient: "alice@x.com",
			ReceivedAt: t0.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	require.Len(t, repo.paths, 3)
	for i, wantSubject := range []string{"A", "B", "C"} {
		p := repo.paths[i]
		require.Equal(t, i, p.SequenceOrder)
		require.Equal(t, wantSubject, repo.campaigns[p.CampaignID].Subject)
	}
}

func TestRebuildRecipientPaths(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	repo.paths = []domain.RecipientPath{
		{MerchantID: "m-1", Recipient: "stale@x.com", CampaignID: "gone", SequenceOrder: 0},
	}
	repo.replay = []ReplayRow{
		{Recipient: "alice@x.com", CampaignID: "A", ReceivedAt: t0},
		{Recipient: "alice@x.com", CampaignID: "B", ReceivedAt: t0.Add(time.Hour)},
		{Recipient: "alice@x.com", CampaignID: "A", ReceivedAt: t0.Add(2 * time.Hour)},
		{Recipient: "alice@x.com", CampaignID: "C", ReceivedAt: t0.Add(3 * time.Hour)},
		{Recipient: "bob@x.com", CampaignID: "B", ReceivedAt: t0},
	}

	require.NoError(t, svc.RebuildRecipientPaths(ctx, "m-1", nil))
	require.EqualValues(t, 1, repo.pathsDeleted)
	require.True(t, repo.recounted)

	byRecipient := recipientSequences(repo.paths)
	alice := byRecipient["alice@x.com"]
	require.Len(t, alice, 3)
	// Rebuilt rows restart at 1; the duplicate A is collapsed.
	for i, want := range []string{"A", "B", "C"} {
		require.Equal(t, want, alice[i].CampaignID)
		require.Equal(t, i+1, alice[i].SequenceOrder)
	}
	bob := byRecipient["bob@x.com"]
	require.Len(t, bob, 1)
	require.Equal(t, 1, bob[0].SequenceOrder)
}

func TestRecalculateAllNewUsers(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	repo.roots = []string{"ROOT1", "ROOT2"}
	repo.paths = concat(
		// alice hits ROOT2 first (sequence order wins, not id order).
		pathSeq("alice@x.com", false, "X", "ROOT2", "ROOT1"),
		pathSeq("bob@x.com", false, "ROOT1", "Y"),
		pathSeq("carol@x.com", false, "X", "Y"),
	)
	for i := range repo.paths {
		repo.paths[i].MerchantID = "m-1"
	}

	require.NoError(t, svc.RecalculateAllNewUsers(ctx, "m-1"))
	require.True(t, repo.cleared)
	require.ElementsMatch(t, []string{"alice@x.com|ROOT2", "bob@x.com|ROOT1"}, repo.markedNew)
}

func TestTagCampaignRange(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()
	c, _, err := repo.UpsertCampaign(ctx, "m-1", "subject", time.Now())
	require.NoError(t, err)

	require.Error(t, svc.TagCampaign(ctx, c.ID, -1))
	require.Error(t, svc.TagCampaign(ctx, c.ID, 5))
	require.NoError(t, svc.TagCampaign(ctx, c.ID, 2))
	require.True(t, repo.campaigns[c.ID].IsValuable())
}

func TestConfirmRootUnsetRecalculatesEverything(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()
	c, _, err := repo.UpsertCampaign(ctx, "m-1", "Welcome", time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.ConfirmRoot(ctx, c.ID, false))
	require.False(t, repo.campaigns[c.ID].IsRoot)
	require.True(t, repo.cleared)

	require.ErrorIs(t, svc.ConfirmRoot(ctx, "missing", true), ErrCampaignNotFound)
}
