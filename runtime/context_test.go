package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID      string        `json:"id"`
	Balance float64       `json:"balance"`
	Timeout time.Duration `json:"timeout"`
	Owner   struct {
		Name string `json:"name"`
	} `json:"owner"`
}

func TestContextMergeAndSet(t *testing.T) {
	c := Context{"a": 1, "b": 2}
	c.Merge(map[string]any{"b": 3, "c": 4})
	c.Set("d", 5)

	assert.Equal(t, Context{"a": 1, "b": 3, "c": 4, "d": 5}, c)

	c.Merge(nil)
	assert.Len(t, c, 4)
}

func TestContextClone(t *testing.T) {
	c := Context{"a": 1}
	clone := c.Clone()
	clone.Set("b", 2)

	assert.Equal(t, Context{"a": 1}, c)
	assert.Equal(t, Context{}, Context(nil).Clone())
}

func TestContextFillMissing(t *testing.T) {
	c := Context{"a": "caller"}
	c.fillMissing(Context{"a": "default", "b": "default"})

	assert.Equal(t, Context{"a": "caller", "b": "default"}, c)
}

func TestContextDecode(t *testing.T) {
	c := Context{
		"id":      "acc-1",
		"balance": "12.5",
		"timeout": "30s",
		"owner":   map[string]any{"name": "Ada"},
		"ignored": true,
	}

	var acc account
	require.NoError(t, c.Decode(&acc))
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, 12.5, acc.Balance)
	assert.Equal(t, 30*time.Second, acc.Timeout)
	assert.Equal(t, "Ada", acc.Owner.Name)
}

func TestEncodeMap(t *testing.T) {
	acc := account{ID: "acc-2", Balance: 3}
	acc.Owner.Name = "Grace"

	m, err := encodeMap(acc)
	require.NoError(t, err)
	assert.Equal(t, "acc-2", m["id"])
	assert.Equal(t, float64(3), m["balance"])
	assert.Equal(t, map[string]any{"name": "Grace"}, m["owner"])
}

func TestContextPaths(t *testing.T) {
	c := Context{"user": map[string]any{"name": "ada"}, "flat": 1}

	c.SetPath("step.result.body.id", "abc123")
	c.SetPath("flat.inner", true)
	c.SetPath("user.role", "admin")

	v, ok := c.Lookup("step.result.body.id")
	require.True(t, ok)
	assert.Equal(t, "abc123", v)

	body, ok := c.Lookup("step.result.body")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "abc123"}, body)

	assert.Equal(t, map[string]any{"inner": true}, c["flat"])
	assert.Equal(t, map[string]any{"name": "ada", "role": "admin"}, c["user"])

	_, ok = c.Lookup("user.missing")
	assert.False(t, ok)
	_, ok = c.Lookup("user.name.first")
	assert.False(t, ok)

	c["nested"] = Context{"k": "v"}
	v, ok = c.Lookup("nested.k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
