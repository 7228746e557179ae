package notifications

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainEmptiesInOrder(t *testing.T) {
	q := NewQueue(0)
	q.Success("Member created")
	q.Error("You do not have permission to update member")
	q.Notify(NotifyParam{Message: "Organization switched"})

	items := q.Drain()
	require.Len(t, items, 3)
	assert.Equal(t, NotificationTypeSuccess, items[0].Type)
	assert.Equal(t, "Member created", items[0].Message)
	assert.Equal(t, NotificationTypeError, items[1].Type)
	assert.Equal(t, NotificationTypeInfo, items[2].Type, "type defaults to info")
	assert.NotEqual(t, items[0].ID, items[1].ID)

	assert.Empty(t, q.Drain())
	assert.NotNil(t, q.Drain())
}

func TestQueue_DropsOldestPastCapacity(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 5; i++ {
		q.Success(fmt.Sprintf("notice %d", i))
	}
	assert.Equal(t, 3, q.Len())

	items := q.Drain()
	assert.Equal(t, "notice 3", items[0].Message)
	assert.Equal(t, "notice 5", items[2].Message)
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Success("saved")
		}()
	}
	wg.Wait()
	assert.Len(t, q.Drain(), 50)
}
