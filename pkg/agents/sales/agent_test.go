package sales

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos-labs/agentos/pkg/agent"
)

// newRegistry registers the agent without backing services; every case
// below fails schema or routing checks before a handler runs.
func newRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry()
	require.NoError(t, r.Register(New(nil, nil)))
	return r
}

func TestAgentName(t *testing.T) {
	assert.Equal(t, "agentos_sales", New(nil, nil).Name())
}

func TestCreateSaleRejectsLongCurrency(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Execute(context.Background(), "agentos_sales", "create_sale", map[string]any{
		"client_id": "c-1",
		"items":     []any{map[string]any{"sku": "SKU-1", "quantity": 1}},
		"currency":  "DOLLARS",
	})

	var ae *agent.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 400, ae.StatusCode)
	details, ok := ae.Details.(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "currency")
}

func TestCreateSaleSchemaViolationIsBadRequest(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Execute(context.Background(), "agentos_sales", "create_sale", map[string]any{
		"client_id": "c-1",
		"items":     []any{},
	})

	var ae *agent.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 400, ae.StatusCode)
}

func TestUnknownActionIsBadRequest(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Execute(context.Background(), "agentos_sales", "delete_sale", nil)

	var ae *agent.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 400, ae.StatusCode)
}
