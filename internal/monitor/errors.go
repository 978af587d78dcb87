package monitor

import "errors"

var (
	ErrRuleNotFound    = errors.New("monitoring rule not found")
	ErrStateNotFound   = errors.New("signal state not found")
	ErrMonitorNotFound = errors.New("ratio monitor not found")
	ErrInvalidEvent    = errors.New("invalid monitoring event")
)
