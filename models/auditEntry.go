package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/appctx"
	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"gorm.io/gorm"
)

type AuditAction string

const (
	AuditActionLogin   AuditAction = "LOGIN"
	AuditActionLogout  AuditAction = "LOGOUT"
	AuditActionCreate  AuditAction = "CREATE"
	AuditActionUpdate  AuditAction = "UPDATE"
	AuditActionPatch   AuditAction = "PATCH"
	AuditActionDelete  AuditAction = "DELETE"
	AuditActionRecover AuditAction = "RECOVER"
	AuditActionUpload  AuditAction = "UPLOAD"
)

// AuditEntry records a mutation the gateway forwarded upstream.
type AuditEntry struct {
	ID             int         `gorm:"primary_key" json:"id"`
	Username       string      `gorm:"size:100;index" json:"username"`
	OrganizationID string      `gorm:"size:64;index" json:"organization_id"`
	Action         AuditAction `gorm:"size:20;not null" json:"action"`
	Resource       string      `gorm:"size:100;not null;index:idx_audit_ref" json:"resource"`
	ReferenceID    string      `gorm:"size:100;index:idx_audit_ref" json:"reference_id"`
	Payload        string      `gorm:"type:text" json:"payload"`
	CorrelationID  string      `gorm:"size:64" json:"correlation_id"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// RecordAudit writes an audit entry when the audit database is configured.
// Failures are logged and never surface to the caller.
func RecordAudit(ctx context.Context, action AuditAction, resource string, referenceID string, payload any) {
	db := config.GetDB()
	if db == nil {
		return
	}

	entry := AuditEntry{
		Action:      action,
		Resource:    resource,
		ReferenceID: referenceID,
	}
	entry.Username, _ = utils.GetUsernameFromContext(ctx)
	entry.OrganizationID, _ = utils.GetOrgIdFromContext(ctx)
	entry.CorrelationID, _ = utils.GetCorrelationIdFromContext(ctx)
	if payload != nil {
		if s, err := utils.MarshalToJSON(payload); err == nil {
			entry.Payload = s
		}
	}

	if err := db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		config.LogError(config.GetLogger(), "AuditEntry", "RecordAudit", "Creating audit entry", entry.Resource+":"+entry.ReferenceID, err)
	}
}

type AuditFilter struct {
	Resource    string
	ReferenceID string
	Username    string
	Page        int
	Size        int
}

// ListAuditEntries returns the newest entries first. Non-admin sessions only see
// their own organization.
func ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error) {
	db := config.GetDB()
	if db == nil {
		return nil, 0, ErrAuditUnavailable
	}
	size := filter.Size
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	query := db.WithContext(ctx).Model(&AuditEntry{})
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if filter.ReferenceID != "" {
		query = query.Where("reference_id = ?", filter.ReferenceID)
	}
	if filter.Username != "" {
		query = query.Where("username = ?", filter.Username)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var results []AuditEntry
	if err := query.Session(&gorm.Session{}).Order("id DESC").Limit(size).Offset(max(filter.Page, 0) * size).Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// PruneAuditEntries deletes entries created before cutoff across all organizations.
// With dryRun it only counts them.
func PruneAuditEntries(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	db := config.GetDB()
	if db == nil {
		return 0, ErrAuditUnavailable
	}
	ctx = appctx.Set(ctx, appctx.ContextKeySkipOrgScope, true)
	query := db.WithContext(ctx).Where("created_at < ?", cutoff)
	if dryRun {
		var n int64
		err := query.Model(&AuditEntry{}).Count(&n).Error
		return n, err
	}
	result := query.Delete(&AuditEntry{})
	return result.RowsAffected, result.Error
}
