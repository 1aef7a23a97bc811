package validation

// Common enum values - these MUST match DB CHECK constraints in db.go.
var (
	ValidProblemTypes    = []string{"machine", "quality", "material", "other"}
	ValidSeverities      = []string{"warning", "critical"}
	ValidRoles           = []string{"admin", "leader", "maintenance", "quality", "warehouse", "manager", "engineering"}
	ValidMachineStatuses = []string{"ON", "OFF"}
	ValidNotifSeverities = []string{"info", "warning", "error"}
	ValidExportFormats   = []string{"csv", "xlsx"}
)
