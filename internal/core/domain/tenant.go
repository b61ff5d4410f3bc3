package domain

import (
	"regexp"
	"strings"
	"time"
)

// TenantRole enumerates per-tenant membership roles.
type TenantRole string

const (
	TenantRoleAdmin  TenantRole = "admin"
	TenantRoleMember TenantRole = "member"
	TenantRoleViewer TenantRole = "viewer"
)

// Tenant is an organization owning tenant-scoped resources.
type Tenant struct {
	ID        string
	Name      string
	Slug      string
	IsActive  bool
	CreatedAt time.Time
	DeletedAt *time.Time
}

// TenantMembership links a user to a tenant with a role. Soft-deletable.
type TenantMembership struct {
	ID        string
	UserID    string
	TenantID  string
	Role      TenantRole
	CreatedAt time.Time
	DeletedAt *time.Time
}

var slugRuns = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a tenant slug: lowercase, non-alphanumeric runs collapsed to a
// single hyphen, trimmed of leading and trailing hyphens.
func Slugify(name string) string {
	slug := slugRuns.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}
