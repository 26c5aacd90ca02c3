package tools

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echoes the message back",
		Parameters: []Parameter{
			{Name: "message", Type: "string", Description: "Text to echo", Required: true},
			{Name: "repeat", Type: "integer", Description: "Repeat count"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["message"], nil
		},
	}
}

func TestRegister(t *testing.T) {
	t.Run("should register a valid tool", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())

		require.NoError(t, r.Register(echoTool()))
		assert.Equal(t, 1, r.Len())
		assert.Contains(t, r.List(), "echo")

		def, ok := r.Get("echo")
		require.True(t, ok)
		assert.Equal(t, "echo", def.Name)
	})

	t.Run("should reject a tool without a handler", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())

		def := echoTool()
		def.Handler = nil
		assert.Error(t, r.Register(def))
	})

	t.Run("should reject an invalid parameter type", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())

		def := echoTool()
		def.Parameters = append(def.Parameters, Parameter{Name: "x", Type: "tuple"})
		assert.Error(t, r.Register(def))
	})

	t.Run("should replace an existing name", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())

		require.NoError(t, r.Register(echoTool()))
		replacement := echoTool()
		replacement.Description = "Replacement echo"
		require.NoError(t, r.Register(replacement))

		assert.Equal(t, 1, r.Len())
		def, _ := r.Get("echo")
		assert.Equal(t, "Replacement echo", def.Description)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should accept conforming arguments", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		require.NoError(t, r.Register(echoTool()))

		err := r.Validate("echo", map[string]interface{}{
			"message": "hello",
			"repeat":  3,
		})
		assert.NoError(t, err)
	})

	t.Run("should reject a missing required argument", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		require.NoError(t, r.Register(echoTool()))

		err := r.Validate("echo", map[string]interface{}{"repeat": 3})
		assert.ErrorContains(t, err, "validation errors")
	})

	t.Run("should reject a wrongly typed argument", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		require.NoError(t, r.Register(echoTool()))

		err := r.Validate("echo", map[string]interface{}{
			"message": "hello",
			"repeat":  "three",
		})
		assert.Error(t, err)
	})

	t.Run("should reject unknown properties", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		require.NoError(t, r.Register(echoTool()))

		err := r.Validate("echo", map[string]interface{}{
			"message": "hello",
			"extra":   true,
		})
		assert.Error(t, err)
	})

	t.Run("should fail for an unknown tool", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())

		err := r.Validate("missing", map[string]interface{}{})
		assert.ErrorContains(t, err, "tool not found")
	})
}

func TestUnregister(t *testing.T) {
	t.Run("should remove the tool and its schema", func(t *testing.T) {
		r := NewRegistry(zerolog.Nop())
		require.NoError(t, r.Register(echoTool()))

		r.Unregister("echo")

		_, ok := r.Get("echo")
		assert.False(t, ok)
		assert.Error(t, r.Validate("echo", map[string]interface{}{"message": "hi"}))
	})
}
