package domain

import "time"

// AnalysisStatus is the merchant analysis lifecycle.
type AnalysisStatus string

const (
	AnalysisPending AnalysisStatus = "pending"
	AnalysisActive  AnalysisStatus = "active"
	AnalysisIgnored AnalysisStatus = "ignored"
)

// Merchant is a distinct sender entity keyed by root registrable domain.
// TotalCampaigns and TotalEmails are eventually-consistent denormalizations
// reconciled from campaigns and campaign_emails.
type Merchant struct {
	ID             string         `json:"id"`
	Domain         string         `json:"domain"`
	DisplayName    string         `json:"display_name,omitempty"`
	Note           string         `json:"note,omitempty"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	TotalCampaigns int64          `json:"total_campaigns"`
	TotalEmails    int64          `json:"total_emails"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MerchantWorkerStatus overrides a merchant's analysis status for one worker.
// Queries for worker "global" fall through to the merchant's own column.
type MerchantWorkerStatus struct {
	MerchantID     string         `json:"merchant_id"`
	WorkerName     string         `json:"worker_name"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	DisplayName    string         `json:"display_name,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AnalysisProject is a label-only view over existing merchant data.
type AnalysisProject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MerchantID  string    `json:"merchant_id"`
	WorkerNames []string  `json:"worker_names"`
	Status      string    `json:"status"` // active | archived
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
