package ledger

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path)
	require.NoError(t, err)
	return l, path
}

func TestMark(t *testing.T) {
	l, _ := openTemp(t)
	defer l.Close()

	ids, err := l.CompletedIn(0, 100)
	require.NoError(t, err)
	assert.Empty(t, ids, "fresh ledger should be empty")

	require.NoError(t, l.Mark(42))
	require.NoError(t, l.Mark(42), "marking twice is not an error")

	ids, err = l.CompletedIn(0, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint32{42}, ids)

	n, err := l.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistsAcrossOpens(t *testing.T) {
	l, path := openTemp(t)
	require.NoError(t, l.Mark(1))
	require.NoError(t, l.Mark(70000))
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, path, reopened.Path())
	ids, err := reopened.CompletedIn(0, 100000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 70000}, ids, "ids should survive reopen")
}

func TestCompletedIn_NumericOrder(t *testing.T) {
	l, _ := openTemp(t)
	defer l.Close()

	for _, id := range []uint32{256, 9, 10000, 255, 19999, 20000, 1} {
		require.NoError(t, l.Mark(id))
	}

	ids, err := l.CompletedIn(0, 10000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 9, 255, 256}, ids)

	ids, err = l.CompletedIn(10000, 20000)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10000, 19999}, ids)
}

func TestConcurrentMarks(t *testing.T) {
	l, _ := openTemp(t)
	defer l.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, l.Mark(uint32(w*100+i)))
			}
		}(w)
	}
	wg.Wait()

	n, err := l.Count()
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}

func TestClosed(t *testing.T) {
	l, _ := openTemp(t)
	require.NoError(t, l.Close())

	_, err := l.CompletedIn(0, 10)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Mark(1), ErrClosed)
	_, err = l.Count()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "ledger.db"))
	assert.Error(t, err)
}
