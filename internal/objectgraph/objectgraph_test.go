package objectgraph

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	graph := model.ObjectGraph{
		"device,10": {
			"analog-input,1": model.ObjectGraphEntry{
				Id: "analog-input,1", Name: "Supply Temp", Address: "10.0.0.5", Point: "analog-input,1",
			},
		},
	}

	require.NoError(t, s.Write(graph))

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, graph, got)
}

func TestReadMissingFileReturnsEmptyGraph(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	got, err := s.Read()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadServesFromCacheWithoutTouchingDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	graph := model.ObjectGraph{"device,1": {}}
	require.NoError(t, s.Write(graph))
	require.NoError(t, os.Remove(s.path))

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, graph, got)
}

func TestWriteOverwritesPreviousContent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	first := model.ObjectGraph{"device,1": {}}
	second := model.ObjectGraph{"device,2": {}}

	require.NoError(t, s.Write(first))
	require.NoError(t, s.Write(second))

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, second, got)
}
