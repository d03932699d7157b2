package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "kairo"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestAttributes(t *testing.T) {
	cfg := Config{
		Endpoint:        "localhost:4318",
		ServiceName:     "kairo",
		Version:         "1.0.0",
		RegistryVersion: "2.0.0",
		ShardSize:       250,
	}
	assert.True(t, cfg.Enabled())

	set := attribute.NewSet(cfg.Attributes()...)
	v, ok := set.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "kairo", v.AsString())
	v, ok = set.Value("kairo.sanitizer.registry_version")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", v.AsString())
	v, ok = set.Value("kairo.lineage.shard_size")
	require.True(t, ok)
	assert.Equal(t, int64(250), v.AsInt64())
}

func TestAttributesOmitUnset(t *testing.T) {
	set := attribute.NewSet(Config{ServiceName: "kairo"}.Attributes()...)
	assert.False(t, set.HasValue("kairo.sanitizer.registry_version"))
	assert.False(t, set.HasValue("kairo.lineage.shard_size"))
	assert.False(t, Config{}.Enabled())
}
