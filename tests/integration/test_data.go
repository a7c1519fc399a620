//go:build integration

package integration

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/models"
)

var emailSeq atomic.Int64

// TestEmail generates a unique address per call
func TestEmail(suffix string) string {
	return fmt.Sprintf("test-%d-%d-%s@dealer.example", time.Now().Unix(), emailSeq.Add(1), suffix)
}

// NewTestCode builds an unsaved code row for owner issued at now
func NewTestCode(ownerID string, purpose models.OTPPurpose, action, hash string, now time.Time) *models.OTPCode {
	return &models.OTPCode{
		OwnerUserID: ownerID,
		CodeHash:    hash,
		Purpose:     purpose,
		Action:      action,
		IPAddress:   "198.51.100.7",
		UserAgent:   "integration-test",
		Metadata:    models.OTPMetadata{"url": "/users/42"},
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}
