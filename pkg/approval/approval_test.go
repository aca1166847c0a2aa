package approval

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigproject/rig/pkg/rtp"
)

func TestCreateAndPop(t *testing.T) {
	s := NewStore()
	token := s.Create("delete_database", map[string]any{"database": "prod"}, rtp.CallContext{TenantID: "t1"})

	_, err := uuid.Parse(token)
	require.NoError(t, err)

	rec, ok := s.Pop(token)
	require.True(t, ok)
	assert.Equal(t, "delete_database", rec.ToolName)
	assert.Equal(t, "prod", rec.Args["database"])
	assert.Equal(t, "t1", rec.Ctx.TenantID)
}

func TestPopIsSingleUse(t *testing.T) {
	s := NewStore()
	token := s.Create("echo", map[string]any{"message": "hi"}, rtp.CallContext{})

	_, ok := s.Pop(token)
	require.True(t, ok)
	_, ok = s.Pop(token)
	assert.False(t, ok)
}

func TestPopUnknownToken(t *testing.T) {
	s := NewStore()
	_, ok := s.Pop(uuid.New().String())
	assert.False(t, ok)
}

func TestExpiredTokenBehavesAsMissing(t *testing.T) {
	now := time.Now()
	s := NewStore().WithClock(func() time.Time { return now })
	token := s.Create("echo", nil, rtp.CallContext{})

	now = now.Add(DefaultTTL + time.Minute)
	_, ok := s.Pop(token)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestSweepDropsOnlyAgedRecords(t *testing.T) {
	now := time.Now()
	s := NewStore().WithClock(func() time.Time { return now })

	s.Create("old", nil, rtp.CallContext{})
	now = now.Add(DefaultTTL + time.Minute)
	fresh := s.Create("fresh", nil, rtp.CallContext{})

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())

	rec, ok := s.Pop(fresh)
	require.True(t, ok)
	assert.Equal(t, "fresh", rec.ToolName)
}

func TestConcurrentPopConsumesOnce(t *testing.T) {
	s := NewStore()
	token := s.Create("echo", nil, rtp.CallContext{})

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Pop(token); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}
