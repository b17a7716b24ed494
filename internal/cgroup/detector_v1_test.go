package cgroup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorV1DetectsCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	h := Hierarchy{Root: root, Version: V1, Controllers: []string{"cpu"}}
	d := NewDetectorV1(h, 10*time.Millisecond, nil)

	events := make(chan Event, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, events)

	groupPath := filepath.Join(root, "group-a")
	require.NoError(t, os.Mkdir(groupPath, 0o755))

	var created Event
	select {
	case created = <-events:
	case <-time.After(time.Second):
		t.Fatal("create event never arrived")
	}
	assert.True(t, created.Created)
	assert.Equal(t, groupPath, created.Path)

	require.NoError(t, os.Remove(groupPath))

	var removed Event
	select {
	case removed = <-events:
	case <-time.After(time.Second):
		t.Fatal("remove event never arrived")
	}
	assert.False(t, removed.Created)
	assert.Equal(t, groupPath, removed.Path)
}
