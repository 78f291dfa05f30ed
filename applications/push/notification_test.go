package push

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/domain/account"
)

func TestBuildContentsOneEntryPerSetFlag(t *testing.T) {
	contents := BuildContents(account.NotificationNewMessage | account.NotificationReceivedLikesChanged)
	require.Len(t, contents, 2)
	require.Equal(t, account.NotificationNewMessage, contents[0].Flag)
	require.Equal(t, account.NotificationReceivedLikesChanged, contents[1].Flag)
}

func TestBuildContentsEmptyForZeroFlags(t *testing.T) {
	require.Empty(t, BuildContents(0))
}

func TestBuildContentsCoversEveryDefinedFlag(t *testing.T) {
	all := account.NotificationFlag(0)
	for _, c := range contentTable {
		all |= c.Flag
	}
	contents := BuildContents(all)
	require.Len(t, contents, len(contentTable))
}
