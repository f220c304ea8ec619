package user

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCheckPassword(t *testing.T) {
	var usr User
	require.NoError(t, usr.SetPassword("s3cr3t-w0rd"))

	assert.NoError(t, usr.CheckPassword("s3cr3t-w0rd"))
	assert.Error(t, usr.CheckPassword("S3CR3T-W0RD"))
	assert.Error(t, usr.CheckPassword(""))
}

func TestPasswordHashNeverSerializes(t *testing.T) {
	var usr User
	usr.Username = "trainer1"
	require.NoError(t, usr.SetPassword("s3cr3t-w0rd"))

	raw, err := json.Marshal(usr)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), string(usr.PasswordHash)))
}

func TestRoles(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		isAdmin   bool
		isTrainer bool
	}{
		{name: "none"},
		{name: "trainer", roles: []string{RoleTrainer}, isTrainer: true},
		{name: "admin", roles: []string{RoleAdmin}, isAdmin: true},
		{name: "all", roles: AllRoles, isAdmin: true, isTrainer: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr := User{Roles: tt.roles}
			assert.Equal(t, tt.isAdmin, usr.IsAdmin())
			assert.Equal(t, tt.isTrainer, usr.IsTrainer())
		})
	}
}
