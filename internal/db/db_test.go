package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValuesRow(t *testing.T) {
	casts := []string{"::uuid", "", ""}
	assert.Equal(t, "($1::uuid, $2, $3)", valuesRow(0, casts))
	assert.Equal(t, "($4::uuid, $5, $6)", valuesRow(1, casts))
	assert.Equal(t, "($301::uuid, $302, $303)", valuesRow(100, casts))
}

func TestChunks(t *testing.T) {
	var got [][2]int
	err := chunks(250, func(start, end int) error {
		got = append(got, [2]int{start, end})
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 100}, {100, 200}, {200, 250}}, got)

	calls := 0
	assert.NoError(t, chunks(0, func(int, int) error { calls++; return nil }))
	assert.Zero(t, calls)

	boom := errors.New("boom")
	calls = 0
	err = chunks(300, func(int, int) error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestHelpers(t *testing.T) {
	assert.Nil(t, nullableString(""))
	assert.Equal(t, "x", *nullableString("x"))
	assert.Equal(t, "fb", coalesceString("", "fb"))
	assert.Equal(t, "{}", jsonOrEmpty(nil))
	assert.Equal(t, `{"a":1}`, jsonOrEmpty([]byte(`{"a":1}`)))
}
