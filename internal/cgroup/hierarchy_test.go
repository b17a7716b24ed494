package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeMounts(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mounts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseMountsV1(t *testing.T) {
	path := writeFakeMounts(t, `cgroup /sys/fs/cgroup/cpu cgroup rw,nosuid,nodev,noexec,relatime,cpu,cpuacct 0 0
tmpfs /tmp tmpfs rw 0 0
`)
	hierarchies, err := parseMounts(path)
	require.NoError(t, err)
	require.Len(t, hierarchies, 1)
	assert.Equal(t, "/sys/fs/cgroup/cpu", hierarchies[0].Root)
	assert.Equal(t, V1, hierarchies[0].Version)
	assert.ElementsMatch(t, []string{"cpu", "cpuacct"}, hierarchies[0].Controllers)
}

func TestParseMountsV2(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.controllers"), []byte("cpu memory io\n"), 0o644))
	path := writeFakeMounts(t, "cgroup2 "+dir+" cgroup2 rw,nosuid,nodev,noexec,relatime 0 0\n")

	hierarchies, err := parseMounts(path)
	require.NoError(t, err)
	require.Len(t, hierarchies, 1)
	assert.Equal(t, V2, hierarchies[0].Version)
	assert.ElementsMatch(t, []string{"cpu", "memory", "io"}, hierarchies[0].Controllers)
}

func TestCgroupUniqueName(t *testing.T) {
	cg := Cgroup{Hierarchy: Hierarchy{Version: V2}, Path: "/sys/fs/cgroup/user.slice/session-1.scope"}
	assert.Equal(t, "v2-session-1.scope", cg.UniqueName())
}
