package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricTagsNilIffEmpty(t *testing.T) {
	var tags MetricTags
	require.True(t, tags.IsEmpty())

	tags.Insert("host", "a")
	require.False(t, tags.IsEmpty())
	require.Equal(t, 1, tags.Len())

	tags.Remove("host")
	require.True(t, tags.IsEmpty())
	require.Nil(t, tags.values)
}

func TestMetricTagsCloneIsIndependent(t *testing.T) {
	var tags MetricTags
	tags.Insert("env", "prod")

	cloned := tags.Clone()
	cloned.Insert("env", "staging")

	v, ok := tags.Get("env")
	require.True(t, ok)
	require.Equal(t, "prod", v)
}

func TestMetricTagsMultiValueRoundTrip(t *testing.T) {
	var tags MetricTags
	tags.Insert("a", "1")
	tags.Insert("b", "2")

	multi := tags.ToMultiValue()
	restored := FromMultiValue(multi)

	va, _ := restored.Get("a")
	vb, _ := restored.Get("b")
	require.Equal(t, "1", va)
	require.Equal(t, "2", vb)
}

func TestFromMultiValueKeepsFirstValue(t *testing.T) {
	restored := FromMultiValue(map[string][]string{
		"a": {"first", "second"},
	})
	v, _ := restored.Get("a")
	require.Equal(t, "first", v)
}

func TestMetricTagsSnapshotIsDefensiveCopy(t *testing.T) {
	var tags MetricTags
	tags.Insert("a", "1")

	snap := tags.Snapshot()
	snap["a"] = "mutated"

	v, _ := tags.Get("a")
	require.Equal(t, "1", v)
}

func TestMetricTagsSnapshotNilWhenEmpty(t *testing.T) {
	var tags MetricTags
	require.Nil(t, tags.Snapshot())
}

func TestFromMultiValueSkipsEmptySlices(t *testing.T) {
	restored := FromMultiValue(map[string][]string{
		"a": {},
	})
	require.True(t, restored.IsEmpty())
}
