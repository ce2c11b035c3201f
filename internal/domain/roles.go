// Package domain defines shared domain constants and types.
package domain

const (
	// RoleOwner is the bot owner configured through BOT_OWNER.
	RoleOwner = "owner"
	// RoleDev can run developer commands such as /stats.
	RoleDev = "dev"
	// RoleStaff can run staff moderation commands.
	RoleStaff = "staff"
	// RoleUser represents a standard user with no elevated privileges.
	RoleUser = "user"
)

// Role priorities, higher wins.
const (
	RolePriorityUser = iota + 1
	RolePriorityStaff
	RolePriorityDev
	RolePriorityOwner
)

// RolePriority ranks a role; unknown roles rank 0.
func RolePriority(role string) int {
	switch role {
	case RoleOwner:
		return RolePriorityOwner
	case RoleDev:
		return RolePriorityDev
	case RoleStaff:
		return RolePriorityStaff
	case RoleUser:
		return RolePriorityUser
	default:
		return 0
	}
}
