package resultcache

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T, ttls map[string]time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "results.db"), ttls)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

var testValue = json.RawMessage(`{"rows":[{"period":"2026-Q1","total":41250.5}]}`)

// --- Get / Set ---

func TestGet_MissOnEmptyCache(t *testing.T) {
	c := testCache(t, nil)

	got, err := c.Get("period-summary", "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetGet_RoundTrip(t *testing.T) {
	c := testCache(t, nil)

	require.NoError(t, c.Set("period-summary", "k1", testValue))

	got, err := c.Get("period-summary", "k1")
	require.NoError(t, err)
	assert.JSONEq(t, string(testValue), string(got))
}

func TestSet_Overwrites(t *testing.T) {
	c := testCache(t, nil)

	require.NoError(t, c.Set("period-summary", "k1", json.RawMessage(`{"v":1}`)))
	require.NoError(t, c.Set("period-summary", "k1", json.RawMessage(`{"v":2}`)))

	got, err := c.Get("period-summary", "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestGet_CategoriesAreIsolated(t *testing.T) {
	c := testCache(t, nil)

	require.NoError(t, c.Set("period-summary", "k1", testValue))

	got, err := c.Get("identity-lookup", "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- TTL / lazy expiry ---

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	c := testCache(t, map[string]time.Duration{"fast": 30 * time.Millisecond})

	require.NoError(t, c.Set("fast", "k1", testValue))

	time.Sleep(50 * time.Millisecond)

	got, err := c.Get("fast", "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGet_StaleEntryStaysInStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	c, err := Open(path, map[string]time.Duration{"fast": 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, c.Set("fast", "k1", testValue))
	time.Sleep(40 * time.Millisecond)

	got, err := c.Get("fast", "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, c.Close())

	// Reopen with a long TTL: the entry was never deleted, so it is
	// readable again. Expiry is lazy and read-time only.
	c2, err := Open(path, map[string]time.Duration{"fast": time.Hour})
	require.NoError(t, err)
	defer c2.Close()

	got, err = c2.Get("fast", "k1")
	require.NoError(t, err)
	assert.JSONEq(t, string(testValue), string(got))
}

func TestTTL_PerCategoryWithDefault(t *testing.T) {
	c := testCache(t, nil)

	assert.Equal(t, TTLIdentityLookup, c.TTL("identity-lookup"))
	assert.Equal(t, TTLPeriodSummary, c.TTL("period-summary"))
	assert.Equal(t, TTLFinancialMetric, c.TTL("financial-metric"))
	assert.Equal(t, DefaultTTL, c.TTL("never-configured"))
}

// --- Persistence ---

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	c1, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, c1.Set("identity-lookup", "user-42", testValue))
	require.NoError(t, c1.Close())

	c2, err := Open(path, nil)
	require.NoError(t, err)
	defer c2.Close()

	got, err := c2.Get("identity-lookup", "user-42")
	require.NoError(t, err)
	assert.JSONEq(t, string(testValue), string(got))
}

// --- Clear ---

func TestClear_OneCategory(t *testing.T) {
	c := testCache(t, nil)

	require.NoError(t, c.Set("period-summary", "k1", testValue))
	require.NoError(t, c.Set("identity-lookup", "k1", testValue))

	require.NoError(t, c.Clear("period-summary"))

	got, err := c.Get("period-summary", "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.Get("identity-lookup", "k1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestClear_UnknownCategoryIsNoError(t *testing.T) {
	c := testCache(t, nil)
	require.NoError(t, c.Clear("never-written"))
}

func TestClearAll(t *testing.T) {
	c := testCache(t, nil)

	require.NoError(t, c.Set("period-summary", "k1", testValue))
	require.NoError(t, c.Set("identity-lookup", "k2", testValue))

	require.NoError(t, c.ClearAll())

	for _, cat := range []string{"period-summary", "identity-lookup"} {
		got, err := c.Get(cat, "k1")
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}
