package iocli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Проверяем что NewStdio возвращает валидный объект
func TestNewStdio(t *testing.T) {
	assert.NotNil(t, NewStdio())
}

func TestStdio_Output(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader(""), &out, -1)

	s.Println("hello", "world")
	s.Printf("cp %d: %s\n", 3, "ok")
	_, err := s.Write([]byte("raw"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\ncp 3: ok\nraw", out.String())
}

func TestStdio_ReadInput(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader("  anna_k \nsecond line\nlast"), &out, -1)

	first, err := s.ReadInput("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "anna_k", first)

	// буфер общий для всех вызовов, вторая строка не теряется
	second, err := s.ReadInput("> ")
	require.NoError(t, err)
	assert.Equal(t, "second line", second)

	last, err := s.ReadInput("> ")
	require.NoError(t, err)
	assert.Equal(t, "last", last)

	_, err = s.ReadInput("> ")
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, "Username: > > > ", out.String())
}

func TestStdio_ReadPasswordFromPipe(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(strings.NewReader("orienteering\n"), &out, -1)
	s.isTTY = func(int) bool { return false }

	password, err := s.ReadPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "orienteering", password)
}
