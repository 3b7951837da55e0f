package rbac

import (
	"time"
)

// Target sentinels stored in user_permission.permission_target_lk
const (
	// TargetAll matches every requested target
	TargetAll = "ALL"
	// TargetSelf matches when the subject is also the acting user
	TargetSelf = "SELF"
)

// Default permission levels written by SeedLevels. Levels are bitmasks: a
// granted level satisfies every requested level whose bits it contains.
const (
	LevelRead   = "READ"
	LevelWrite  = "WRITE"
	LevelDelete = "DELETE"
	LevelAdmin  = "ADMIN"
)

// DefaultLevels returns the seeded level bitmasks
func DefaultLevels() []PermissionLevel {
	return []PermissionLevel{
		{Name: LevelRead, Value: 1},
		{Name: LevelWrite, Value: 2},
		{Name: LevelDelete, Value: 4},
		{Name: LevelAdmin, Value: 7},
	}
}

// PermissionLevel names a bitmask
type PermissionLevel struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// UserPermission is one grant. A nil target means the grant only answers
// requests that name no target; a nil level likewise.
type UserPermission struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"user_id"`
	PermissionLk       string    `json:"permission"`
	PermissionTargetLk *string   `json:"target,omitempty"`
	PermissionLevelLk  *string   `json:"level,omitempty"`
	LevelValue         *int      `json:"level_value,omitempty"`
	GrantedAt          time.Time `json:"granted_at"`
	GrantedBy          *int64    `json:"granted_by,omitempty"`
}

// PermissionCheck is a single authorization question
type PermissionCheck struct {
	SubjectID  int64   `json:"subject_id"`
	Permission string  `json:"permission"`
	Level      *string `json:"level,omitempty"`
	Target     *string `json:"target,omitempty"`
}

// PermissionCheckResult answers a PermissionCheck
type PermissionCheckResult struct {
	Allowed   bool      `json:"allowed"`
	CheckedAt time.Time `json:"checked_at"`
}

// GrantRequest is the body of POST /api/permissions/grant
type GrantRequest struct {
	UserID     int64   `json:"user_id"`
	Permission string  `json:"permission"`
	Target     *string `json:"target,omitempty"`
	Level      *string `json:"level,omitempty"`
}

// StringPtr returns nil for "" and &s otherwise
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
