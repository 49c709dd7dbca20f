package desk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jc211/panda-desk/internal/mockdesk"
	"github.com/jc211/panda-desk/status"
)

func TestEncodePassword(t *testing.T) {
	want := "MTA5LDEzMiwxMTMsNTMsMTYxLDIyNiw1MywxNDUsOTgsMTI5LDI0OSwyNTMsMTMsMjQxLDczLDE1\n" +
		"NSwxMDIsMjM3LDY3LDU5LDE1MiwyNTUsOSwyMTcsMTQ5LDg3LDIxMiwxMTYsMjA1LDE0Myw0Miwy\n" +
		"MDU=\n"
	require.Equal(t, want, EncodePassword("admin", "password"))

	for _, line := range strings.Split(strings.TrimSuffix(EncodePassword("franka", "secret"), "\n"), "\n") {
		require.LessOrEqual(t, len(line), 76)
	}
	require.NotEqual(t, EncodePassword("admin", "password"), EncodePassword("Admin", "password"))
}

func TestLogin(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := newClient(t, s, FR3)
	require.False(t, d.LoggedIn())

	require.NoError(t, d.Login(context.Background(), testUser, testPassword))
	require.True(t, d.LoggedIn())
	require.Equal(t, testUser, d.Username())
	require.Equal(t, 1, s.Sessions())

	// The session cookie authorises later calls.
	active, err := d.ActiveToken(context.Background())
	require.NoError(t, err)
	require.True(t, active.Empty())
}

func TestLoginRejected(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := newClient(t, s, FR3)

	err := d.Login(context.Background(), testUser, "wrong")
	require.ErrorIs(t, err, ErrAuth)
	require.False(t, d.LoggedIn())
	require.Empty(t, d.Username())
	require.Zero(t, s.Sessions())

	_, err = d.OpenStatus(context.Background(), status.Navigation)
	require.ErrorIs(t, err, status.ErrConnect)

	_, err = d.ActiveToken(context.Background())
	require.ErrorIs(t, err, ErrPermission)
}

func TestLoginUnreachable(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := newClient(t, s, FR3)
	s.Close()

	err := d.Login(context.Background(), testUser, testPassword)
	require.ErrorIs(t, err, ErrAuth)
	require.False(t, d.LoggedIn())
}

func TestLogout(t *testing.T) {
	s := newFake(t, mockdesk.Options{})
	d := loggedIn(t, s, FR3)

	require.NoError(t, d.Logout(context.Background()))
	require.False(t, d.LoggedIn())
	require.Zero(t, s.Sessions())

	// Logging out twice is a no-op.
	require.NoError(t, d.Logout(context.Background()))
}
