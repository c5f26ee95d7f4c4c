package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
	"github.com/kasuganosora/shardconn/pkg/testutils"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	factory := testutils.NewStubFactory(domain.DataSourceTypeSQLite)

	require.NoError(t, r.Register(factory))

	got, err := r.Get(domain.DataSourceTypeSQLite)
	require.NoError(t, err)
	assert.Same(t, factory, got)

	var invalid *domain.ErrInvalidConfig
	err = r.Register(testutils.NewStubFactory(domain.DataSourceTypeSQLite))
	assert.ErrorAs(t, err, &invalid)
	assert.ErrorAs(t, r.Register(nil), &invalid)

	_, err = r.Get(domain.DataSourceTypeMySQL)
	assert.ErrorAs(t, err, &invalid)
}

func TestRegistry_Create(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testutils.NewStubFactory(domain.DataSourceTypeSQLite)))

	ds, err := r.Create(&domain.DataSourceConfig{Type: domain.DataSourceTypeSQLite, Name: "ds_0"})
	require.NoError(t, err)
	assert.Equal(t, "ds_0", ds.Name())
	assert.False(t, ds.IsConnected())

	_, err = r.Create(&domain.DataSourceConfig{Type: domain.DataSourceTypePostgreSQL, Name: "ds_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ds_1")
	assert.Contains(t, err.Error(), "[sqlite]")

	var invalid *domain.ErrInvalidConfig
	_, err = r.Create(nil)
	assert.ErrorAs(t, err, &invalid)

	_, err = r.Create(&domain.DataSourceConfig{Type: domain.DataSourceTypeSQLite})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "name", invalid.ConfigKey)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testutils.NewStubFactory(domain.DataSourceTypeSQLite)))
	require.NoError(t, r.Register(testutils.NewStubFactory(domain.DataSourceTypeMySQL)))
	require.NoError(t, r.Register(testutils.NewStubFactory(domain.DataSourceTypePostgreSQL)))

	assert.Equal(t, []domain.DataSourceType{
		domain.DataSourceTypeMySQL,
		domain.DataSourceTypePostgreSQL,
		domain.DataSourceTypeSQLite,
	}, r.List())
}
