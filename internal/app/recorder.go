package app

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
	"github.com/inlinesoft/whatsdesk/internal/domain"
	"github.com/inlinesoft/whatsdesk/pkg/common"
)

// GormRecorder persists the account audit trail and snapshots. Writes are
// fire-and-forget: recording must never slow down event handling.
type GormRecorder struct {
	db *gorm.DB
}

var _ accounts.Recorder = (*GormRecorder)(nil)

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (r *GormRecorder) RecordEvent(accountID, accountName, source, event, fromStatus, toStatus, detail string) {
	row := domain.WaEventLog{
		ID:          common.UUIDint64(),
		AccountID:   accountID,
		AccountName: accountName,
		Source:      source,
		Event:       event,
		FromStatus:  fromStatus,
		ToStatus:    toStatus,
		Detail:      detail,
		EventTime:   time.Now(),
	}
	go func() {
		if err := r.db.Create(&row).Error; err != nil {
			zap.L().Warn("record event failed", zap.Error(err))
		}
	}()
}

func (r *GormRecorder) SaveSnapshot(userID, orgID string, accts []accounts.Account) {
	now := time.Now()
	rows := make([]domain.WaAccountSnapshot, 0, len(accts))
	for _, a := range accts {
		rows = append(rows, domain.WaAccountSnapshot{
			AccountID:   a.Key(),
			ServerID:    a.ID,
			UserID:      userID,
			OrgID:       orgID,
			Name:        a.Name,
			Status:      string(a.Status),
			PhoneNumber: a.PhoneNumber,
			FetchedAt:   now,
		})
	}
	go func() {
		for _, row := range rows {
			row := row
			err := r.db.Model(&domain.WaAccountSnapshot{}).
				Where("account_id = ?", row.AccountID).
				Updates(map[string]interface{}{
					"server_id":    row.ServerID,
					"user_id":      row.UserID,
					"org_id":       row.OrgID,
					"name":         row.Name,
					"status":       row.Status,
					"phone_number": row.PhoneNumber,
					"fetched_at":   row.FetchedAt,
				})
			if err.Error != nil {
				zap.L().Warn("snapshot update failed", zap.Error(err.Error))
				continue
			}
			if err.RowsAffected == 0 {
				row.ID = common.UUIDint64()
				if cerr := r.db.Create(&row).Error; cerr != nil {
					zap.L().Warn("snapshot insert failed", zap.Error(cerr))
				}
			}
		}
	}()
}
