package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDenies(t *testing.T) {
	r := New()
	assert.False(t, r.Denies("a", "b"))

	r.SetIncomingDropped("b", true)
	assert.True(t, r.Denies("a", "b"))
	assert.False(t, r.Denies("b", "a"))

	r.SetIncomingDropped("b", false)
	assert.False(t, r.Denies("a", "b"))

	r.DisableLink("a", "b")
	assert.True(t, r.Denies("a", "b"))
	assert.False(t, r.Denies("b", "a"))

	r.EnableLink("a", "b")
	assert.False(t, r.Denies("a", "b"))
}

func TestPartitionAndReset(t *testing.T) {
	r := New()
	r.Partition([]string{"a1", "a2"}, []string{"b1"})
	assert.True(t, r.Denies("a1", "b1"))
	assert.True(t, r.Denies("b1", "a1"))
	assert.True(t, r.Denies("a2", "b1"))
	assert.False(t, r.Denies("a1", "a2"))

	r.Reset()
	assert.False(t, r.Denies("a1", "b1"))
	assert.False(t, r.Denies("b1", "a1"))
}

func TestResetAfterSequenceRestoresDefault(t *testing.T) {
	r := New()
	r.DisableLink("x", "y")
	r.SetIncomingDropped("z", true)
	r.Partition([]string{"p"}, []string{"q"})
	r.Reset()

	fresh := New()
	assert.Equal(t, fresh, r)
}
