package rbac

// Role is one of nine ordered privilege tiers. Order matters: Rank
// compares tiers and the permission matrix builds each tier on top of
// the one below it.
type Role string

const (
	RoleViewer          Role = "viewer"
	RoleFieldTech       Role = "field_tech"
	RoleInspector       Role = "inspector"
	RoleSeniorInspector Role = "senior_inspector"
	RoleSupervisor      Role = "supervisor"
	RoleAuditor         Role = "auditor"
	RoleCommander       Role = "commander"
	RoleDirector        Role = "director"
	RoleSysadmin        Role = "sysadmin"
)

// Hierarchy lists all roles from lowest to highest privilege.
var Hierarchy = []Role{
	RoleViewer,
	RoleFieldTech,
	RoleInspector,
	RoleSeniorInspector,
	RoleSupervisor,
	RoleAuditor,
	RoleCommander,
	RoleDirector,
	RoleSysadmin,
}

// Permission is an atomic capability tag. Permissions are never combined
// at runtime; the matrix is the single source of truth.
type Permission string

const (
	// Data operations
	PermDataRead   Permission = "data:read"
	PermDataWrite  Permission = "data:write"
	PermDataDelete Permission = "data:delete"
	PermDataExport Permission = "data:export"
	PermDataImport Permission = "data:import"

	// User management
	PermUsersRead      Permission = "users:read"
	PermUsersManage    Permission = "users:manage"
	PermRolesAssign    Permission = "roles:assign"
	PermSessionsRevoke Permission = "sessions:revoke"

	// System operations
	PermSystemConfig     Permission = "system:config"
	PermSystemMonitor    Permission = "system:monitor"
	PermAuditRead        Permission = "audit:read"
	PermAuditExport      Permission = "audit:export"
	PermComplianceReview Permission = "compliance:review"

	// File operations
	PermFilesUpload   Permission = "files:upload"
	PermFilesDownload Permission = "files:download"
	PermFilesDelete   Permission = "files:delete"

	// Analytics and reporting
	PermAnalyticsView     Permission = "analytics:view"
	PermAnalyticsRun      Permission = "analytics:run"
	PermReportsGenerate   Permission = "reports:generate"
	PermReportsDistribute Permission = "reports:distribute"

	// Tactical and intelligence operations
	PermIntelRead       Permission = "intel:read"
	PermIntelClassify   Permission = "intel:classify"
	PermIntelDeclassify Permission = "intel:declassify"
	PermOpsPlan         Permission = "ops:plan"
	PermOpsExecute      Permission = "ops:execute"
)

// AllPermissions lists every defined permission.
var AllPermissions = []Permission{
	PermDataRead, PermDataWrite, PermDataDelete, PermDataExport, PermDataImport,
	PermUsersRead, PermUsersManage, PermRolesAssign, PermSessionsRevoke,
	PermSystemConfig, PermSystemMonitor, PermAuditRead, PermAuditExport, PermComplianceReview,
	PermFilesUpload, PermFilesDownload, PermFilesDelete,
	PermAnalyticsView, PermAnalyticsRun, PermReportsGenerate, PermReportsDistribute,
	PermIntelRead, PermIntelClassify, PermIntelDeclassify, PermOpsPlan, PermOpsExecute,
}

// rank maps a role to its position in the hierarchy. -1 means unknown.
func rank(r Role) int {
	for i, role := range Hierarchy {
		if role == r {
			return i
		}
	}
	return -1
}

// Known reports whether r is one of the defined tiers.
func Known(r Role) bool {
	return rank(r) >= 0
}

// Senior reports whether a outranks b. Unknown roles never outrank anything.
func Senior(a, b Role) bool {
	ra, rb := rank(a), rank(b)
	return ra >= 0 && rb >= 0 && ra > rb
}
