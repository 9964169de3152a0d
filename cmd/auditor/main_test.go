package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/boardroomhq/boardroom/internal/audit"
)

func TestAppendReportsFullBatch(t *testing.T) {
	as := &AuditorService{batchSize: 3, batch: make([]audit.Record, 0, 3)}

	rec := audit.Record{SessionID: uuid.New(), Actor: "host", Action: "NEXT_SLIDE"}
	assert.False(t, as.append(rec))
	assert.False(t, as.append(rec))
	assert.True(t, as.append(rec))
	assert.Len(t, as.batch, 3)
}

func TestFlushSkipsEmptyBatch(t *testing.T) {
	// No redis and no pool: an empty flush must return before touching either.
	as := &AuditorService{batchSize: 3}
	as.flush(context.Background())
	assert.Empty(t, as.batch)
}
