// Package auth decides which users may talk to the advisor and which tools
// they may trigger.
package auth

import (
	"strconv"
	"strings"
)

// Tool and operation names checked by IsToolAllowed.
const (
	ToolWeather    = "WeatherForecast"
	ToolAdvice     = "AgriculturalKnowledgeBase"
	OpRebuildIndex = "rebuild_index"
)

// PolicyService manages user permissions.
type PolicyService struct {
	AdminUserIDs   map[int64]bool
	AllowedUserIDs map[int64]bool // empty allows everyone
}

// NewPolicyService parses comma-separated user ID lists. Entries that are
// not integers are ignored.
func NewPolicyService(adminUserIDsStr, allowedUserIDsStr string) *PolicyService {
	return &PolicyService{
		AdminUserIDs:   parseIDs(adminUserIDsStr),
		AllowedUserIDs: parseIDs(allowedUserIDsStr),
	}
}

func parseIDs(csv string) map[int64]bool {
	ids := make(map[int64]bool)
	for _, idStr := range strings.Split(csv, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err == nil {
			ids[id] = true
		}
	}
	return ids
}

// IsAdmin checks if a user is an admin.
func (p *PolicyService) IsAdmin(userID int64) bool {
	return p.AdminUserIDs[userID]
}

// IsAllowed checks if a user may use the advisor at all.
func (p *PolicyService) IsAllowed(userID int64) bool {
	if len(p.AllowedUserIDs) == 0 {
		return true
	}
	if p.IsAdmin(userID) {
		return true
	}
	return p.AllowedUserIDs[userID]
}

// IsToolAllowed checks if a user may run a tool or operation.
func (p *PolicyService) IsToolAllowed(userID int64, toolName string) bool {
	if p.IsAdmin(userID) {
		return true
	}

	switch toolName {
	case ToolWeather, ToolAdvice:
		return p.IsAllowed(userID)
	default:
		// Including OpRebuildIndex, which is admin only.
		return false
	}
}
