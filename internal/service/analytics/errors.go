package analytics

import "errors"

// Sentinel errors for the analytics service layer.
var (
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrInvalidSender    = errors.New("sender address has no extractable domain")
)
