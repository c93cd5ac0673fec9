package models

// MemberStatus is a chat membership state as seen in chat-member updates.
type MemberStatus string

const (
	StatusOwner               MemberStatus = "owner"
	StatusAdministrator       MemberStatus = "administrator"
	StatusMember              MemberStatus = "member"
	StatusRestrictedMember    MemberStatus = "restricted"
	StatusRestrictedNonMember MemberStatus = "restricted_non_member"
	StatusLeft                MemberStatus = "left"
	StatusKicked              MemberStatus = "kicked"
)

// IsMember reports whether the status counts as joined for join tracking.
func (s MemberStatus) IsMember() bool {
	switch s {
	case StatusMember, StatusAdministrator, StatusOwner:
		return true
	}
	return false
}

// IsOutside reports whether the status is one a user joins from.
func (s MemberStatus) IsOutside() bool {
	switch s {
	case StatusLeft, StatusKicked, StatusRestrictedNonMember:
		return true
	}
	return false
}

// ChatMember is the bot's own standing in the managed channel.
type ChatMember struct {
	Status             MemberStatus
	CanInviteUsers     bool
	CanRestrictMembers bool
}

// CanManageAccess reports whether the bot may issue links and remove users.
func (m ChatMember) CanManageAccess() bool {
	return m.Status == StatusAdministrator && m.CanInviteUsers && m.CanRestrictMembers
}

// MemberUpdate is a membership transition in some chat.
type MemberUpdate struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	OldStatus MemberStatus
	NewStatus MemberStatus
}
