package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
)

func TestSessionContext(t *testing.T) {
	_, ok := GetSession(context.Background())
	assert.False(t, ok)

	var s datasource.Session = datasource.GuardedSession{}
	ctx := SetSession(context.Background(), s)

	got, ok := GetSession(ctx)
	assert.True(t, ok)
	assert.Equal(t, s, got)

	_, ok = GetSession(SetSession(context.Background(), nil))
	assert.False(t, ok)
}
