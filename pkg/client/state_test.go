package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/oscarchat/pkg/contactlist"
)

func openTestState(t *testing.T) *State {
	t.Helper()
	st, err := OpenState(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStateConfigValues(t *testing.T) {
	st := openTestState(t)

	v, err := st.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, st.SetLastScreenName("Alice"))
	assert.Equal(t, "Alice", st.GetLastScreenName())

	require.NoError(t, st.SetConfig("last_screen_name", "bob"))
	assert.Equal(t, "bob", st.GetLastScreenName())
}

func TestStateConnectionHistory(t *testing.T) {
	st := openTestState(t)

	d, err := NewDialer("wss://gateway.example.com/oscar")
	require.NoError(t, err)
	require.NoError(t, st.SaveSuccessfulConnection("login.example.com:5190", d))

	proxy, err := st.GetLastSuccessfulProxy("login.example.com:5190")
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example.com/oscar", proxy)

	assert.Equal(t, proxy, ResolveProxy("login.example.com", "", st, nil))
	assert.Equal(t, "ssh://override", ResolveProxy("login.example.com", "ssh://override", st, nil))
	assert.Empty(t, ResolveProxy("other.example.com", "", st, nil))
}

func TestStateContactsReplacePerAccount(t *testing.T) {
	st := openTestState(t)

	items := []contactlist.Item{
		{Type: contactlist.Group, Name: "Friends", GroupID: 1},
		{Type: contactlist.Buddy, Name: "bob", Group: "Friends", Alias: "Bobby", GroupID: 1, ItemID: 10},
		{Type: contactlist.PDMode, Value: 4, ItemID: 11},
	}
	require.NoError(t, st.SaveContacts("Alice", items))
	require.NoError(t, st.SaveContacts("carol", items[:1]))

	got, err := st.LoadContacts("alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, items, got)

	require.NoError(t, st.SaveContacts("ALICE", items[1:2]))
	got, err = st.LoadContacts("alice")
	require.NoError(t, err)
	assert.Equal(t, items[1:2], got)

	got, err = st.LoadContacts("carol")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMigrationsAreOrderedAndIdempotent(t *testing.T) {
	steps, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.Less(t, steps[i-1].version, steps[i].version)
	}

	st := openTestState(t)
	require.NoError(t, runMigrations(st.db, nil))

	v, err := schemaVersion(st.db)
	require.NoError(t, err)
	assert.Equal(t, steps[len(steps)-1].version, v)
}
