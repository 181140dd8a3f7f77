package auth

// Scopes understood by the API.
const (
	ScopeTimerRead  = "timer:read"
	ScopeTimerWrite = "timer:write"
	// ScopeTimerAdmin lets a caller act on behalf of any employee.
	ScopeTimerAdmin = "timer:admin"
	ScopeSyncRead   = "sync:read"
	ScopeSyncWrite  = "sync:write"
)
