// pkg/api/tree_test.go
package api

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeCursorScan(t *testing.T) {
	db := openTestDB(t)

	bt, err := db.CreateTree()
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		require.NoError(t, bt.Insert(key, []byte(fmt.Sprintf("v%d", i))))
	}

	// Reopen the same tree through its root page and scan in order.
	reopened, err := db.OpenTree(bt.RootPage() + 1)
	require.NoError(t, err)

	cur := reopened.Cursor()
	defer cur.Close()

	count := 0
	var prev []byte
	for cur.First(); cur.Valid(); cur.Next() {
		if prev != nil {
			assert.Less(t, string(prev), string(cur.Key()))
		}
		prev = append(prev[:0], cur.Key()...)
		count++
	}
	assert.Equal(t, 50, count)

	// Seek lands on the first key >= target.
	cur.Seek([]byte("k025"))
	require.True(t, cur.Valid())
	assert.Equal(t, "k025", string(cur.Key()))
	assert.Equal(t, "v25", string(cur.Value()))
}

func TestOpenTreeRejectsZeroRoot(t *testing.T) {
	db := openTestDB(t)
	_, err := db.OpenTree(0)
	assert.Error(t, err)
}
