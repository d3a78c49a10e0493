package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/genjob-api/internal/domain"
	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapErr("get", nil))
	assert.ErrorIs(t, mapErr("get", store.ErrJobNotFound), store.ErrJobNotFound)
	assert.ErrorIs(t, mapErr("update", domain.ErrInvalidTransition), domain.ErrInvalidTransition)
	assert.ErrorIs(t, mapErr("update", context.DeadlineExceeded), context.DeadlineExceeded)

	err := mapErr("list", errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKeys(t *testing.T) {
	t.Parallel()

	s := &JobStore{prefix: "genjob"}
	assert.Equal(t, "genjob:jobs", s.indexKey())
	assert.Equal(t, "genjob:job:abc", s.jobKey("abc"))
}
