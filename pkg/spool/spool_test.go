package spool

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolInMemory(t *testing.T) {
	s := New(1024, t.TempDir())
	defer s.Close()

	_, err := s.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = s.Write([]byte("world"))
	require.NoError(t, err)

	assert.False(t, s.OnDisk())
	assert.Equal(t, int64(11), s.Size())

	for i := 0; i < 2; i++ {
		r, err := s.Reader()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	}
}

func TestSpoolSpillsToDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(8, dir)

	payload := bytes.Repeat([]byte("abcdef"), 100)
	_, err := s.Write(payload[:4])
	require.NoError(t, err)
	assert.False(t, s.OnDisk())
	_, err = s.Write(payload[4:])
	require.NoError(t, err)
	assert.True(t, s.OnDisk())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	r, err := s.Reader()
	require.NoError(t, err)
	first := make([]byte, 10)
	_, err = io.ReadFull(r, first)
	require.NoError(t, err)

	r, err = s.Reader()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, s.Close())
	_, err = os.Stat(filepath.Join(dir, entries[0].Name()))
	assert.True(t, os.IsNotExist(err))
}

func TestSpoolZeroThresholdSpillsImmediately(t *testing.T) {
	s := New(0, t.TempDir())
	defer s.Close()
	_, err := s.Write([]byte("x"))
	require.NoError(t, err)
	assert.True(t, s.OnDisk())
}

func TestSpoolClosed(t *testing.T) {
	s := New(DefaultThreshold, "")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Reader()
	assert.ErrorIs(t, err, ErrClosed)
}
