package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aem-reporter/internal/config"
)

func TestMemory_LoadSave(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	data, err := m.Load(ctx, "aem_report_data")
	require.NoError(t, err)
	assert.Nil(t, data)

	payload := []byte(`[{"campaign_id":"c"}]`)
	require.NoError(t, m.Save(ctx, "aem_report_data", payload))
	payload[0] = 'x'

	data, err = m.Load(ctx, "aem_report_data")
	require.NoError(t, err)
	assert.Equal(t, `[{"campaign_id":"c"}]`, string(data))

	data[0] = 'y'
	again, _ := m.Load(ctx, "aem_report_data")
	assert.Equal(t, byte('['), again[0])
}

func TestNew_Backends(t *testing.T) {
	var cfg config.Config
	cfg.Storage.Backend = "memory"
	st, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)
	assert.NoError(t, st.Close())

	cfg.Storage.Backend = "cassandra"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
