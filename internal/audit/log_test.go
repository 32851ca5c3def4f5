package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentNewestFirst(t *testing.T) {
	l := NewLog()
	for i := 1; i <= 5; i++ {
		l.Append("event %d", i)
	}

	got := l.Recent(3)
	require.Equal(t, []string{"event 5", "event 4", "event 3"}, got)
}

func TestRecentLargerThanLog(t *testing.T) {
	l := NewLog()
	l.Append("only one")

	got := l.Recent(RecentLimit)
	assert.Equal(t, []string{"only one"}, got)
	assert.Empty(t, NewLog().Recent(RecentLimit))
}

func TestRecentNonPositive(t *testing.T) {
	l := NewLog()
	l.Append("one")

	assert.Empty(t, l.Recent(0))
	assert.Empty(t, l.Recent(-3))
}

func TestAllPreservesAppendOrder(t *testing.T) {
	l := NewLog()
	var want []string
	for i := 0; i < 30; i++ {
		msg := fmt.Sprintf("entry %d", i)
		l.Append("%s", msg)
		want = append(want, msg)
	}

	assert.Equal(t, want, l.All())
	assert.Equal(t, 30, l.Len())

	// the view is bounded, the log is not
	assert.Len(t, l.Recent(RecentLimit), RecentLimit)
}

func TestReplace(t *testing.T) {
	l := NewLog()
	l.Append("will be dropped")
	l.Replace([]string{"restored 1", "restored 2"})

	assert.Equal(t, []string{"restored 1", "restored 2"}, l.All())
}
