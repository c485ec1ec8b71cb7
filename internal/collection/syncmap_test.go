package collection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncMap_PutGetDelete(t *testing.T) {
	testCases := []struct {
		description string
		ops         func(m *SyncMap[string, int])
		key         string
		wantValue   int
		wantOk      bool
	}{
		{
			description: "missing key",
			ops:         func(m *SyncMap[string, int]) {},
			key:         "a",
			wantValue:   0,
			wantOk:      false,
		},
		{
			description: "put then get",
			ops: func(m *SyncMap[string, int]) {
				m.Put("a", 42)
			},
			key:       "a",
			wantValue: 42,
			wantOk:    true,
		},
		{
			description: "put then delete",
			ops: func(m *SyncMap[string, int]) {
				m.Put("a", 42)
				m.Delete("a")
			},
			key:       "a",
			wantValue: 0,
			wantOk:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			m := NewSyncMap[string, int]()
			tc.ops(m)
			got, ok := m.Get(tc.key)
			require.Equal(t, tc.wantOk, ok)
			require.Equal(t, tc.wantValue, got)
		})
	}
}

func TestSyncMap_RangeAndLen(t *testing.T) {
	m := NewSyncMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)
	require.Equal(t, 3, m.Len())

	sum := 0
	m.Range(func(key string, value int) bool {
		sum += value
		return true
	})
	require.Equal(t, 6, sum)

	seen := 0
	m.Range(func(key string, value int) bool {
		seen++
		return false
	})
	require.Equal(t, 1, seen)
}
