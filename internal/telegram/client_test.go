package telegram

import (
	"fmt"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code apperr.Code
	}{
		{"forbidden", &telegoapi.Error{ErrorCode: 403, Description: "Forbidden: bot was blocked by the user"}, apperr.CodePermissionDenied},
		{"no rights", &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: not enough rights to restrict/unrestrict chat member"}, apperr.CodePermissionDenied},
		{"bad request", &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: PARTICIPANT_ID_INVALID"}, apperr.CodeBadRequest},
		{"wrapped", fmt.Errorf("telego: banChatMember: %w", &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: user not found"}), apperr.CodeBadRequest},
		{"server", &telegoapi.Error{ErrorCode: 502, Description: "Bad Gateway"}, apperr.CodeExternalServiceFailure},
		{"network", fmt.Errorf("dial tcp: timeout"), apperr.CodeExternalServiceFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("ban chat member", tc.err)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			op, ok := apperr.Detail(err, "operation")
			assert.True(t, ok)
			assert.Equal(t, "ban chat member", op)
		})
	}
}

func TestConvertMember(t *testing.T) {
	cases := []struct {
		in   telego.ChatMember
		want models.ChatMember
	}{
		{&telego.ChatMemberOwner{}, models.ChatMember{Status: models.StatusOwner, CanInviteUsers: true, CanRestrictMembers: true}},
		{&telego.ChatMemberAdministrator{CanInviteUsers: true}, models.ChatMember{Status: models.StatusAdministrator, CanInviteUsers: true}},
		{&telego.ChatMemberMember{}, models.ChatMember{Status: models.StatusMember}},
		{&telego.ChatMemberRestricted{IsMember: true}, models.ChatMember{Status: models.StatusRestrictedMember}},
		{&telego.ChatMemberRestricted{}, models.ChatMember{Status: models.StatusRestrictedNonMember}},
		{&telego.ChatMemberLeft{}, models.ChatMember{Status: models.StatusLeft}},
		{&telego.ChatMemberBanned{}, models.ChatMember{Status: models.StatusKicked}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ConvertMember(tc.in))
	}
}

func TestConvertMemberUpdate(t *testing.T) {
	user := telego.User{ID: 7, FirstName: "Alice", Username: "alice"}
	u, ok := ConvertMemberUpdate(&telego.ChatMemberUpdated{
		Chat:          telego.Chat{ID: -100123},
		OldChatMember: &telego.ChatMemberLeft{User: user},
		NewChatMember: &telego.ChatMemberMember{User: user},
	})
	require.True(t, ok)
	assert.Equal(t, models.MemberUpdate{
		ChatID:    -100123,
		UserID:    7,
		Username:  "alice",
		FirstName: "Alice",
		OldStatus: models.StatusLeft,
		NewStatus: models.StatusMember,
	}, u)

	_, ok = ConvertMemberUpdate(nil)
	assert.False(t, ok)
}
