package domain

import "time"

// Campaign is a (merchant, subject) pair. SubjectHash is the hex SHA-256 of
// the unnormalized subject bytes and is the dedup key within a merchant.
type Campaign struct {
	ID               string    `json:"id"`
	MerchantID       string    `json:"merchant_id"`
	Subject          string    `json:"subject"`
	SubjectHash      string    `json:"subject_hash"`
	Tag              int       `json:"tag"` // 0..4; 1 and 2 are valuable
	IsRoot           bool      `json:"is_root"`
	IsRootCandidate  bool      `json:"is_root_candidate"`
	TotalEmails      int64     `json:"total_emails"`
	UniqueRecipients int64     `json:"unique_recipients"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}

// IsValuable reports whether this campaign carries a high-value tag.
func (c Campaign) IsValuable() bool { return c.Tag == 1 || c.Tag == 2 }

// CampaignEmail is one received email attributed to a campaign. Append-only
// from ingestion; bulk-deleted by cleanup.
type CampaignEmail struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"received_at"`
	WorkerName string    `json:"worker_name"`
}

// RecipientPath records the ordered sequence of distinct campaigns one
// recipient received from one merchant. SequenceOrder is the 0-based
// insertion rank, strictly increasing per (merchant, recipient); a campaign
// appears at most once per path.
type RecipientPath struct {
	MerchantID          string    `json:"merchant_id"`
	Recipient           string    `json:"recipient"`
	CampaignID          string    `json:"campaign_id"`
	SequenceOrder       int       `json:"sequence_order"`
	FirstReceivedAt     time.Time `json:"first_received_at"`
	IsNewUser           bool      `json:"is_new_user"`
	FirstRootCampaignID string    `json:"first_root_campaign_id,omitempty"`
}

// SubjectStat is the per (subject-hash, merchant-domain, worker) counter row.
type SubjectStat struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	SubjectHash    string    `json:"subject_hash"`
	MerchantDomain string    `json:"merchant_domain"`
	WorkerName     string    `json:"worker_name"`
	EmailCount     int64     `json:"email_count"`
	IsFocused      bool      `json:"is_focused"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
