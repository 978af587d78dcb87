package analytics

import (
	"context"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
)

// MerchantFilter narrows merchant listings.
type MerchantFilter struct {
	AnalysisStatus domain.AnalysisStatus
	Search         string
	Limit          int
	Offset         int
}

// MerchantUpdate carries optional merchant mutations; nil fields are left
// untouched.
type MerchantUpdate struct {
	DisplayName    *string
	Note           *string
	AnalysisStatus *domain.AnalysisStatus
}

// ReplayRow is one campaign email as needed by the path rebuild, ordered by
// (recipient, received_at) at the source.
type ReplayRow struct {
	Recipient  string
	CampaignID string
	ReceivedAt time.Time
}

// Repository is the persistence surface of the analytics service.
type Repository interface {
	// Merchants.
	GetMerchant(ctx context.Context, id string) (*domain.Merchant, error)
	GetMerchantByDomain(ctx context.Context, dom string) (*domain.Merchant, error)
	UpsertMerchant(ctx context.Context, dom string) (m *domain.Merchant, isNew bool, err error)
	ListMerchants(ctx context.Context, f MerchantFilter) ([]domain.Merchant, error)
	UpdateMerchant(ctx context.Context, id string, u MerchantUpdate) error
	IncrementMerchantEmails(ctx context.Context, id string, delta int64) error
	IncrementMerchantCampaigns(ctx context.Context, id string, delta int64) error

	// Per-worker analysis status. EffectiveAnalysisStatus resolves worker
	// "global" (or a worker with no override row) to the merchant column.
	EffectiveAnalysisStatus(ctx context.Context, merchantID, workerName string) (domain.AnalysisStatus, error)
	SetWorkerStatus(ctx context.Context, s domain.MerchantWorkerStatus) error
	ListWorkerStatuses(ctx context.Context, merchantID string) ([]domain.MerchantWorkerStatus, error)

	// Campaigns.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	UpsertCampaign(ctx context.Context, merchantID, subject string, receivedAt time.Time) (c *domain.Campaign, isNew bool, err error)
	ListCampaigns(ctx context.Context, merchantID string) ([]domain.Campaign, error)
	SetCampaignTag(ctx context.Context, id string, tag int) error
	SetCampaignRoot(ctx context.Context, id string, isRoot bool) error
	MarkRootCandidate(ctx context.Context, id string) error

	// Emails and paths.
	InsertCampaignEmail(ctx context.Context, e domain.CampaignEmail) error
	// AppendRecipientPath inserts the next path row for (merchant, recipient,
	// campaign) unless one exists, bumping campaign unique_recipients on
	// insert. Reports whether a row was inserted.
	AppendRecipientPath(ctx context.Context, merchantID, recipient, campaignID string, receivedAt time.Time) (inserted bool, err error)
	// LoadPaths returns all path rows for the merchant; a non-empty worker
	// set restricts to recipients with at least one campaign email from one
	// of those workers.
	LoadPaths(ctx context.Context, merchantID string, workers []string) ([]domain.RecipientPath, error)

	// New-user flags.
	ClearNewUserFlags(ctx context.Context, merchantID string) error
	// MarkNewUsersForRoot flags every recipient of rootID that has no
	// first-root yet. Returns the number of recipients flagged.
	MarkNewUsersForRoot(ctx context.Context, merchantID, rootID string) (int64, error)
	MarkRecipientNewUser(ctx context.Context, merchantID, recipient, rootID string) error
	ConfirmedRootIDs(ctx context.Context, merchantID string) ([]string, error)

	// Path rebuild.
	DeletePaths(ctx context.Context, merchantID string) (int64, error)
	ReplayEmails(ctx context.Context, merchantID string, workers []string) ([]ReplayRow, error)
	InsertPathRow(ctx context.Context, p domain.RecipientPath) error
	RecountCampaignRecipients(ctx context.Context, merchantID string) error

	// Analysis projects.
	CreateProject(ctx context.Context, p domain.AnalysisProject) (*domain.AnalysisProject, error)
	ListProjects(ctx context.Context, merchantID string) ([]domain.AnalysisProject, error)
	UpdateProjectStatus(ctx context.Context, id, status string) error
	DeleteProject(ctx context.Context, id string) error
}
