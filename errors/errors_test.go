package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := New("error")
	withHint := WithHint(err, "try this fix")

	hints := GetAllHints(withHint)
	require.Len(t, hints, 1)
	assert.Equal(t, "try this fix", hints[0])
}

func TestNewk(t *testing.T) {
	err := Newk(ErrUnboundVariable, "variable %q is not bound", "x")

	assert.Equal(t, `variable "x" is not bound`, err.Error())
	assert.True(t, Is(err, ErrUnboundVariable))
	assert.False(t, Is(err, ErrSchemaMismatch))
	assert.Equal(t, "UnboundVariableError", KindOf(err))
}

func TestWrapk(t *testing.T) {
	t.Run("keeps collaborator message", func(t *testing.T) {
		err := Wrapk(io.ErrUnexpectedEOF, ErrDataSource, "query %s", "udi://edr")

		assert.Contains(t, err.Error(), "query udi://edr")
		assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())
		assert.True(t, Is(err, io.ErrUnexpectedEOF))
		assert.Equal(t, "DataSourceError", KindOf(err))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrapk(nil, ErrIOWrite, "write"))
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unmarked", New("boom"), "InternalError"},
		{"sort key", Newk(ErrSortKeyNotFound, "no pid"), "SortKeyNotFoundError"},
		{"wrapped twice", Wrap(Wrap(Newk(ErrJoinKeyNotFound, "k"), "a"), "b"), "JoinKeyNotFoundError"},
		{"fmt wrapped", fmt.Errorf("ctx: %w", Newk(ErrDumpFormat, "bad json")), "DumpFormatError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
