package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexModels(t *testing.T) {
	models := indexModels(2 * time.Hour)
	require.Len(t, models, 2)

	unique := models[0].Options
	require.NotNil(t, unique.Unique)
	assert.True(t, *unique.Unique)

	ttl := models[1].Options
	require.NotNil(t, ttl.ExpireAfterSeconds)
	assert.Equal(t, int32(7200), *ttl.ExpireAfterSeconds)
}

func TestNewStoreRequiresConsumer(t *testing.T) {
	_, err := NewStore(context.Background(), nil, " ", 0)
	assert.Error(t, err)
}
