package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/errors"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newParams() *Params {
	return NewParams(YAMLCodec{}, WithClock(func() time.Time { return epoch }))
}

func TestParams_LoadEmpty(t *testing.T) {
	p := newParams()
	assert.False(t, p.Load([]byte("")))
	assert.False(t, p.NeedCleanup(true))
	assert.False(t, p.NeedCleanup(false))
}

func TestParams_LoadImmediateOnly(t *testing.T) {
	p := newParams()
	require.True(t, p.Load([]byte("cleanup: true\n")))

	assert.True(t, p.NeedCleanup(true))
	assert.False(t, p.NeedCleanup(false))
	assert.Equal(t, 0, p.Pending())
}

func TestParams_LoadScheduled(t *testing.T) {
	p := newParams()
	require.True(t, p.Load([]byte("timeouts:\n  42: 30s\n  7: 5\n")))

	assert.True(t, p.NeedCleanup(false))
	assert.True(t, p.NeedCleanup(true))
	assert.Equal(t, 2, p.Pending())
}

func TestParams_LoadReplacesPrevious(t *testing.T) {
	p := newParams()
	require.True(t, p.Load([]byte("cleanup: true\ntimeouts:\n  1: 1s\n")))
	assert.False(t, p.Load([]byte("timeouts: {}\n")))
	assert.False(t, p.NeedCleanup(true))
	assert.Equal(t, 0, p.Pending())
}

func TestParams_LoadMalformed(t *testing.T) {
	p := newParams()
	require.True(t, p.Load([]byte("cleanup: true\n")))

	assert.False(t, p.Load([]byte("timeouts:\n  1: soon\n")))
	assert.False(t, p.NeedCleanup(true))
	assert.False(t, p.Load([]byte("timeouts: [")))
}

func TestParams_DueIDs(t *testing.T) {
	p := newParams()
	require.True(t, p.Load([]byte("timeouts:\n  42: 10s\n  7: 10s\n  99: 1m\n")))

	ids, ok := p.DueIDs(epoch.Add(5 * time.Second))
	assert.False(t, ok)
	assert.Nil(t, ids)

	ids, ok = p.DueIDs(epoch.Add(10 * time.Second))
	require.True(t, ok)
	assert.Equal(t, []int{7, 42}, ids)
	assert.Equal(t, 1, p.Pending())
	assert.True(t, p.NeedCleanup(false))

	// Consumed ids never come back.
	ids, ok = p.DueIDs(epoch.Add(20 * time.Second))
	assert.False(t, ok)
	assert.Empty(t, ids)

	ids, ok = p.DueIDs(epoch.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, []int{99}, ids)
	assert.False(t, p.NeedCleanup(false))
}

func TestParams_DueIDsNeverReturnsFutureEntries(t *testing.T) {
	p := newParams()
	require.True(t, p.Load([]byte("timeouts:\n  1: 1s\n  2: 2s\n  3: 3s\n  4: 4s\n")))

	for step := 0; step <= 5; step++ {
		now := epoch.Add(time.Duration(step) * time.Second)
		ids, _ := p.DueIDs(now)
		for _, id := range ids {
			assert.LessOrEqual(t, id, step, "id %d returned before its expiry", id)
		}
	}
	assert.Equal(t, 0, p.Pending())
}

func TestParams_NeedCleanupRelation(t *testing.T) {
	docs := []string{
		"",
		"cleanup: true\n",
		"timeouts:\n  1: 1s\n",
		"cleanup: true\ntimeouts:\n  1: 1s\n",
	}
	for _, doc := range docs {
		p := newParams()
		p.Load([]byte(doc))
		assert.Equal(t, p.Pending() > 0, p.NeedCleanup(false), doc)
		assert.Equal(t, p.NeedCleanup(false) || p.immediate, p.NeedCleanup(true), doc)
	}
}

func TestYAMLCodec_Args(t *testing.T) {
	a, err := addon.New("plugin.demo", "Demo", "1.0.0")
	require.NoError(t, err)
	base := []string{"plugin://demo/", "1"}

	got := YAMLCodec{}.Args(a, base, []int{42, 7})
	assert.Equal(t, []string{"plugin://demo/", "1", ArgCleanup, "--addon=plugin.demo", "--cleanup-ids=7,42"}, got)

	got = YAMLCodec{}.Args(nil, base, nil)
	assert.Equal(t, []string{"plugin://demo/", "1", ArgCleanup, ArgCleanupAll}, got)

	// The base slice is never modified.
	assert.Equal(t, []string{"plugin://demo/", "1"}, base)
}

func TestYAMLCodec_DecodeErrorsAreCoded(t *testing.T) {
	for name, doc := range map[string]string{
		"bad yaml":  "timeouts: [",
		"bad delay": "timeouts:\n  1: soon\n",
		"negative":  "timeouts:\n  1: -5\n",
	} {
		t.Run(name, func(t *testing.T) {
			tbl := Table{Timeouts: make(map[int]time.Time)}
			err := YAMLCodec{}.Decode([]byte(doc), epoch, &tbl)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeCleanupLoad, errors.CodeOf(err))
		})
	}
}

func TestNewParams_NilCodec(t *testing.T) {
	assert.Panics(t, func() { NewParams(nil) })
}
