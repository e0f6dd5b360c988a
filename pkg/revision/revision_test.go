package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbme/baza/pkg/ids"
)

const (
	instanceA ids.InstanceId = "instance-a"
	instanceB ids.InstanceId = "instance-b"
)

func TestStaging(t *testing.T) {
	rev := Staging()
	assert.True(t, rev.IsStaging())
	assert.Equal(t, "", rev.ToFileName())
}

func TestBumpGrowsOwnCounterStrictly(t *testing.T) {
	rev := Staging()
	rev = rev.Bump(instanceA, 0)
	assert.Equal(t, uint64(1), rev[instanceA])

	rev = rev.Bump(instanceA, 0)
	assert.Equal(t, uint64(2), rev[instanceA])
}

func TestBumpRespectsGlobalMax(t *testing.T) {
	rev := Revision{instanceA: 1}
	bumped := rev.Bump(instanceA, 5)
	assert.Equal(t, uint64(6), bumped[instanceA])
}

func TestMergeIsComponentWiseMax(t *testing.T) {
	a := Revision{instanceA: 2, instanceB: 1}
	b := Revision{instanceA: 1, instanceB: 3}

	merged := Merge(a, b)
	assert.Equal(t, uint64(2), merged[instanceA])
	assert.Equal(t, uint64(3), merged[instanceB])
}

func TestOlderNewerConcurrent(t *testing.T) {
	ancestor := Revision{instanceA: 1}
	descendant := Revision{instanceA: 2}
	concurrent := Revision{instanceB: 1}

	assert.True(t, ancestor.Older(descendant))
	assert.True(t, descendant.Newer(ancestor))
	assert.False(t, ancestor.Concurrent(descendant))

	assert.True(t, ancestor.Concurrent(concurrent))
	assert.False(t, ancestor.Older(concurrent))
	assert.False(t, ancestor.Newer(concurrent))
}

func TestEqual(t *testing.T) {
	a := Revision{instanceA: 1, instanceB: 2}
	b := Revision{instanceA: 1, instanceB: 2}
	c := Revision{instanceA: 1}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestDominates(t *testing.T) {
	r := Revision{instanceA: 2, instanceB: 1}
	assert.True(t, r.Dominates(Revision{instanceA: 1}))
	assert.True(t, r.Dominates(Revision{}))
	assert.False(t, r.Dominates(Revision{instanceA: 3}))
}

func TestIsConcurrentOrOlderThan(t *testing.T) {
	r := Revision{instanceA: 2}
	older := Revision{instanceA: 1}
	concurrent := Revision{instanceB: 1}
	newer := Revision{instanceA: 3}

	assert.False(t, r.IsConcurrentOrOlderThan(older))
	assert.True(t, r.IsConcurrentOrOlderThan(concurrent))
	assert.True(t, r.IsConcurrentOrOlderThan(newer))
}

func TestFileNameRoundTrip(t *testing.T) {
	rev := Revision{instanceA: 3, instanceB: 7}

	encoded := rev.ToFileName()
	decoded, err := FromFileName(encoded)
	require.NoError(t, err)
	assert.True(t, rev.Equal(decoded))
}

func TestFromFileNameStaging(t *testing.T) {
	decoded, err := FromFileName("")
	require.NoError(t, err)
	assert.True(t, decoded.IsStaging())
}

func TestFromFileNameMalformed(t *testing.T) {
	_, err := FromFileName("instance-a")
	assert.Error(t, err)

	_, err = FromFileName("instance-a:notanumber")
	assert.Error(t, err)
}

func TestLatestRevComputerLinearHistory(t *testing.T) {
	c := NewLatestRevComputer()
	c.Add(Revision{instanceA: 1})
	c.Add(Revision{instanceA: 2})
	c.Add(Revision{instanceA: 3})

	heads := c.Heads()
	require.Len(t, heads, 1)
	assert.True(t, heads[0].Equal(Revision{instanceA: 3}))
}

func TestLatestRevComputerConcurrentHeads(t *testing.T) {
	c := NewLatestRevComputer()
	c.Add(Revision{instanceA: 1})
	c.Add(Revision{instanceA: 1, instanceB: 1})
	c.Add(Revision{instanceB: 1})

	heads := c.Heads()
	require.Len(t, heads, 1, "the third add is dominated by the second")

	c2 := NewLatestRevComputer()
	c2.Add(Revision{instanceA: 1})
	c2.Add(Revision{instanceB: 1})
	assert.Len(t, c2.Heads(), 2, "two writes from separate instances are concurrent")
}
