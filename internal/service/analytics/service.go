package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
	"github.com/yinz628/email-filter-sub001/internal/pkg/rootdomain"
)

// defaultMainPathThreshold is the minimum recipient share, in percent, for a
// branch to count as a main path.
const defaultMainPathThreshold = 5.0

// defaultRootKeywords flag likely registration/onboarding campaigns as root
// candidates on first sight.
var defaultRootKeywords = []string{
	"welcome", "verify", "confirm", "activate", "registration", "sign up",
}

// Service orchestrates merchant, campaign, and path persistence and exposes
// the graph analyses.
type Service struct {
	repo              Repository
	mainPathThreshold float64
	rootKeywords      []string
}

// NewService wires an analytics service with default thresholds.
func NewService(repo Repository) *Service {
	return &Service{
		repo:              repo,
		mainPathThreshold: defaultMainPathThreshold,
		rootKeywords:      defaultRootKeywords,
	}
}

// SetMainPathThreshold overrides the main-path percentage cut. Non-positive
// values are ignored.
func (s *Service) SetMainPathThreshold(pct float64) {
	if pct > 0 {
		s.mainPathThreshold = pct
	}
}

// SetRootKeywords replaces the root-candidate keyword set.
func (s *Service) SetRootKeywords(words []string) {
	s.rootKeywords = words
}

// TrackInput is one received email to attribute.
type TrackInput struct {
	Sender     string
	Subject    string
	Recipient  string
	WorkerName string
	ReceivedAt time.Time
}

// TrackResult reports what one tracked email touched.
type TrackResult struct {
	Merchant     *domain.Merchant
	Campaign     *domain.Campaign
	NewMerchant  bool
	NewCampaign  bool
	PathExtended bool
	// Skipped is set when the merchant is ignored for the input's worker and
	// only the merchant email counter moved.
	Skipped bool
}

// TrackEmail attributes one email to its merchant, campaign, and recipient
// path unconditionally.
func (s *Service) TrackEmail(ctx context.Context, in TrackInput) (*TrackResult, error) {
	return s.track(ctx, in, false)
}

// TrackEmailSelective is TrackEmail, except emails from merchants ignored for
// the input's worker only bump the merchant total and skip campaign and path
// work.
func (s *Service) TrackEmailSelective(ctx context.Context, in TrackInput) (*TrackResult, error) {
	return s.track(ctx, in, true)
}

func (s *Service) track(ctx context.Context, in TrackInput, selective bool) (*TrackResult, error) {
	dom := rootdomain.ExtractRootFromEmail(in.Sender)
	if dom == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, in.Sender)
	}
	worker := in.WorkerName
	if worker == "" {
		worker = domain.WorkerGlobal
	}

	merchant, isNewMerchant, err := s.repo.UpsertMerchant(ctx, dom)
	if err != nil {
		return nil, fmt.Errorf("upsert merchant: %w", err)
	}
	if err := s.repo.IncrementMerchantEmails(ctx, merchant.ID, 1); err != nil {
		return nil, fmt.Errorf("increment merchant emails: %w", err)
	}

	res := &TrackResult{Merchant: merchant, NewMerchant: isNewMerchant}

	if selective {
		status, err := s.repo.EffectiveAnalysisStatus(ctx, merchant.ID, worker)
		if err != nil {
			return nil, fmt.Errorf("resolve analysis status: %w", err)
		}
		if status == domain.AnalysisIgnored {
			res.Skipped = true
			return res, nil
		}
	}

	campaign, isNewCampaign, err := s.repo.UpsertCampaign(ctx, merchant.ID, in.Subject, in.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert campaign: %w", err)
	}
	res.Campaign = campaign
	res.NewCampaign = isNewCampaign
	if isNewCampaign {
		if err := s.repo.IncrementMerchantCampaigns(ctx, merchant.ID, 1); err != nil {
			return nil, fmt.Errorf("increment merchant campaigns: %w", err)
		}
		if s.isRootCandidate(in.Subject) {
			if err := s.repo.MarkRootCandidate(ctx, campaign.ID); err != nil {
				logger.Warn("mark root candidate failed", "campaign_id", campaign.ID, "error", err)
			}
		}
	}

	if err := s.repo.InsertCampaignEmail(ctx, domain.CampaignEmail{
		CampaignID: campaign.ID,
		Recipient:  in.Recipient,
		ReceivedAt: in.ReceivedAt,
		WorkerName: worker,
	}); err != nil {
		return nil, fmt.Errorf("insert campaign email: %w", err)
	}

	inserted, err := s.repo.AppendRecipientPath(ctx, merchant.ID, in.Recipient, campaign.ID, in.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("append recipient path: %w", err)
	}
	res.PathExtended = inserted
	return res, nil
}

func (s *Service) isRootCandidate(subject string) bool {
	lower := strings.ToLower(subject)
	for _, kw := range s.rootKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ConfirmRoot sets the confirmed-root flag on a campaign and, when set,
// reflags new users downstream of it.
func (s *Service) ConfirmRoot(ctx context.Context, campaignID string, isRoot bool) error {
	c, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := s.repo.SetCampaignRoot(ctx, campaignID, isRoot); err != nil {
		return fmt.Errorf("set campaign root: %w", err)
	}
	if isRoot {
		return s.RecalculateNewUsers(ctx, c.MerchantID, campaignID)
	}
	return s.RecalculateAllNewUsers(ctx, c.MerchantID)
}

// RecalculateNewUsers flags every recipient of root as a new user unless the
// recipient already has a first-root campaign.
func (s *Service) RecalculateNewUsers(ctx context.Context, merchantID, rootCampaignID string) error {
	n, err := s.repo.MarkNewUsersForRoot(ctx, merchantID, rootCampaignID)
	if err != nil {
		return fmt.Errorf("mark new users: %w", err)
	}
	logger.Info("new users recalculated",
		"merchant_id", merchantID, "root_campaign_id", rootCampaignID, "recipients", n)
	return nil
}

// RecalculateAllNewUsers clears all new-user flags for the merchant, then
// flags each recipient from the earliest-sequence confirmed root campaign on
// their path.
func (s *Service) RecalculateAllNewUsers(ctx context.Context, merchantID string) error {
	if err := s.repo.ClearNewUserFlags(ctx, merchantID); err != nil {
		return fmt.Errorf("clear new-user flags: %w", err)
	}

	rootIDs, err := s.repo.ConfirmedRootIDs(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("list confirmed roots: %w", err)
	}
	if len(rootIDs) == 0 {
		return nil
	}
	rootSet := make(map[string]bool, len(rootIDs))
	for _, id := range rootIDs {
		rootSet[id] = true
	}

	paths, err := s.repo.LoadPaths(ctx, merchantID, nil)
	if err != nil {
		return fmt.Errorf("load paths: %w", err)
	}
	for recipient, seq := range recipientSequences(paths) {
		for _, p := range seq {
			if rootSet[p.CampaignID] {
				if err := s.repo.MarkRecipientNewUser(ctx, merchantID, recipient, p.CampaignID); err != nil {
					return fmt.Errorf("mark recipient %s: %w", recipient, err)
				}
				break
			}
		}
	}
	return nil
}

// GraphResult is the combined level and transition view of one merchant's
// campaign graph.
type GraphResult struct {
	Levels        map[string]int `json:"levels"`
	NewUserLevels map[string]int `json:"new_user_levels"`
	Transitions   []Transition   `json:"transitions"`
}

// CampaignGraph computes DAG levels (full and new-user) and transitions for
// one merchant, optionally restricted to a worker set.
func (s *Service) CampaignGraph(ctx context.Context, merchantID string, workers []string) (*GraphResult, error) {
	paths, err := s.repo.LoadPaths(ctx, merchantID, workers)
	if err != nil {
		return nil, fmt.Errorf("load paths: %w", err)
	}
	rootIDs, err := s.repo.ConfirmedRootIDs(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list confirmed roots: %w", err)
	}
	rootSet := make(map[string]bool, len(rootIDs))
	for _, id := range rootIDs {
		rootSet[id] = true
	}
	return &GraphResult{
		Levels:        calculateDAGLevels(paths),
		NewUserLevels: calculateNewUserDAGLevels(paths, rootSet),
		Transitions:   campaignTransitions(paths),
	}, nil
}

// PathBranches groups the merchant's recipient paths into branches and
// buckets them by recipient share.
func (s *Service) PathBranches(ctx context.Context, merchantID string, workers []string) (*BranchAnalysis, error) {
	paths, err := s.repo.LoadPaths(ctx, merchantID, workers)
	if err != nil {
		return nil, fmt.Errorf("load paths: %w", err)
	}
	campaigns, err := s.campaignIndex(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	res := analyzeBranches(paths, campaigns, s.mainPathThreshold)
	return &res, nil
}

// ValuableCampaigns returns the neighbor analysis for every tag-valuable
// campaign of the merchant.
func (s *Service) ValuableCampaigns(ctx context.Context, merchantID string, workers []string) ([]ValuableCampaign, error) {
	paths, err := s.repo.LoadPaths(ctx, merchantID, workers)
	if err != nil {
		return nil, fmt.Errorf("load paths: %w", err)
	}
	campaigns, err := s.repo.ListCampaigns(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return analyzeValuableCampaigns(paths, campaigns), nil
}

func (s *Service) campaignIndex(ctx context.Context, merchantID string) (map[string]domain.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	idx := make(map[string]domain.Campaign, len(campaigns))
	for _, c := range campaigns {
		idx[c.ID] = c
	}
	return idx, nil
}

// RebuildRecipientPaths drops and replays the merchant's paths from campaign
// emails in (recipient, received_at) order, then recomputes new-user flags.
// Rebuilt rows use a fresh 1-based sequence numbering.
func (s *Service) RebuildRecipientPaths(ctx context.Context, merchantID string, workers []string) error {
	deleted, err := s.repo.DeletePaths(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("delete paths: %w", err)
	}

	rows, err := s.repo.ReplayEmails(ctx, merchantID, workers)
	if err != nil {
		return fmt.Errorf("replay emails: %w", err)
	}

	seen := make(map[string]map[string]bool)
	nextSeq := make(map[string]int)
	var rebuilt int64
	for _, r := range rows {
		campaigns := seen[r.Recipient]
		if campaigns == nil {
			campaigns = make(map[string]bool)
			seen[r.Recipient] = campaigns
			nextSeq[r.Recipient] = 1
		}
		if campaigns[r.CampaignID] {
			continue
		}
		campaigns[r.CampaignID] = true
		seq := nextSeq[r.Recipient]
		nextSeq[r.Recipient] = seq + 1
		if err := s.repo.InsertPathRow(ctx, domain.RecipientPath{
			MerchantID:      merchantID,
			Recipient:       r.Recipient,
			CampaignID:      r.CampaignID,
			SequenceOrder:   seq,
			FirstReceivedAt: r.ReceivedAt,
		}); err != nil {
			return fmt.Errorf("insert path row: %w", err)
		}
		rebuilt++
	}

	if err := s.repo.RecountCampaignRecipients(ctx, merchantID); err != nil {
		return fmt.Errorf("recount campaign recipients: %w", err)
	}
	logger.Info("recipient paths rebuilt",
		"merchant_id", merchantID, "deleted", deleted, "rebuilt", rebuilt)
	return s.RecalculateAllNewUsers(ctx, merchantID)
}

// Merchants lists merchants matching the filter.
func (s *Service) Merchants(ctx context.Context, f MerchantFilter) ([]domain.Merchant, error) {
	return s.repo.ListMerchants(ctx, f)
}

// UpdateMerchant applies partial merchant mutations.
func (s *Service) UpdateMerchant(ctx context.Context, id string, u MerchantUpdate) error {
	return s.repo.UpdateMerchant(ctx, id, u)
}

// SetWorkerStatus upserts a per-worker analysis status override.
func (s *Service) SetWorkerStatus(ctx context.Context, st domain.MerchantWorkerStatus) error {
	if st.WorkerName == "" {
		st.WorkerName = domain.WorkerGlobal
	}
	return s.repo.SetWorkerStatus(ctx, st)
}

// TagCampaign sets a campaign's value tag (0..4).
func (s *Service) TagCampaign(ctx context.Context, campaignID string, tag int) error {
	if tag < 0 || tag > 4 {
		return fmt.Errorf("tag out of range: %d", tag)
	}
	return s.repo.SetCampaignTag(ctx, campaignID, tag)
}

// Campaigns lists a merchant's campaigns, most recently seen first.
func (s *Service) Campaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(campaigns, func(i, j int) bool {
		if !campaigns[i].LastSeenAt.Equal(campaigns[j].LastSeenAt) {
			return campaigns[i].LastSeenAt.After(campaigns[j].LastSeenAt)
		}
		return campaigns[i].ID < campaigns[j].ID
	})
	return campaigns, nil
}

// CreateProject records a named analysis label over a merchant/worker slice.
func (s *Service) CreateProject(ctx context.Context, p domain.AnalysisProject) (*domain.AnalysisProject, error) {
	if p.Status == "" {
		p.Status = "active"
	}
	return s.repo.CreateProject(ctx, p)
}

// Projects lists analysis projects for a merchant.
func (s *Service) Projects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error) {
	return s.repo.ListProjects(ctx, merchantID)
}

// ArchiveProject marks a project archived without touching underlying data.
func (s *Service) ArchiveProject(ctx context.Context, id string) error {
	return s.repo.UpdateProjectStatus(ctx, id, "archived")
}

// DeleteProject removes the label only.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	return s.repo.DeleteProject(ctx, id)
}
