package rbac

import (
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
)

// grants lists what each tier adds on top of the tier below it.
var grants = map[Role][]Permission{
	RoleViewer:          {PermDataRead, PermAnalyticsView},
	RoleFieldTech:       {PermDataWrite, PermFilesUpload, PermFilesDownload},
	RoleInspector:       {PermDataExport, PermReportsGenerate, PermAnalyticsRun},
	RoleSeniorInspector: {PermDataImport, PermDataDelete, PermFilesDelete},
	RoleSupervisor:      {PermUsersRead, PermRolesAssign, PermReportsDistribute},
	RoleAuditor:         {PermAuditRead, PermComplianceReview, PermAuditExport},
	RoleCommander:       {PermIntelRead, PermIntelClassify, PermOpsPlan, PermSessionsRevoke},
	RoleDirector:        {PermIntelDeclassify, PermOpsExecute, PermUsersManage},
	RoleSysadmin:        {PermSystemConfig, PermSystemMonitor, PermAuditExport},
}

// exclusive permissions do not flow upward through inheritance; tiers
// above the granting tier must re-grant them explicitly. audit:export is
// auditor-tier work by policy and reappears only at sysadmin.
var exclusive = map[Permission]Role{
	PermAuditExport: RoleAuditor,
}

// matrix is the fixed role -> permission set mapping, computed once at
// process start.
var matrix map[Role]map[Permission]bool

func init() {
	matrix = make(map[Role]map[Permission]bool, len(Hierarchy))

	inherited := make(map[Permission]bool)
	for _, role := range Hierarchy {
		set := make(map[Permission]bool, len(inherited)+4)
		for p := range inherited {
			set[p] = true
		}
		for _, p := range grants[role] {
			set[p] = true
		}
		matrix[role] = set

		// Carry everything except exclusives up to the next tier.
		for _, p := range grants[role] {
			if owner, ok := exclusive[p]; !ok || owner != role {
				inherited[p] = true
			}
		}
	}
}

// Engine answers permission questions from the static matrix. It holds
// no mutable state and is safe for unrestricted concurrent use.
type Engine struct {
	log logger.Logger
}

// NewEngine creates a permission engine.
func NewEngine(log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Engine{log: log}
}

// HasPermission reports whether role holds perm. Unknown roles hold
// nothing and are logged as a compliance anomaly.
func (e *Engine) HasPermission(role Role, perm Permission) bool {
	set, ok := matrix[role]
	if !ok {
		e.log.Warn("permission check against unknown role",
			logger.String("role", string(role)),
			logger.String("permission", string(perm)))
		metrics.PermissionChecksTotal.WithLabelValues("unknown", "deny").Inc()
		return false
	}

	allowed := set[perm]
	result := "deny"
	if allowed {
		result = "allow"
	}
	metrics.PermissionChecksTotal.WithLabelValues(string(role), result).Inc()
	return allowed
}

// HasAll reports whether role holds every permission in perms.
func (e *Engine) HasAll(role Role, perms []Permission) bool {
	for _, p := range perms {
		if !e.HasPermission(role, p) {
			return false
		}
	}
	return true
}

// Permissions returns the full permission set for a role. The returned
// slice is a copy.
func (e *Engine) Permissions(role Role) []Permission {
	set, ok := matrix[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for _, p := range AllPermissions {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}
