package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/minicluster"
	"github.com/marmos91/dittohdfs/pkg/config"
)

// isolate keeps the Hadoop and dhdfs configuration of the host out of a test.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LIBHDFS3_CONF", "HADOOP_CONF_DIR", "HADOOP_INSTALL"} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// clusterConfig writes a configuration file pointing at c.
func clusterConfig(t *testing.T, c *minicluster.Cluster) string {
	t.Helper()
	data, err := config.Marshal(c.Options())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func dhdfs(t *testing.T, configPath string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errb bytes.Buffer
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	code = run(context.Background(), args, &out, &errb)
	// cluster goroutines keep logging after run returns
	logger.SetOutput(io.Discard)
	return out.String(), errb.String(), code
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)
	_, stderr, code := dhdfs(t, "", "frobnicate", "/")
	assert.NotEqual(t, 0, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestArgumentCount(t *testing.T) {
	isolate(t)
	_, _, code := dhdfs(t, "", "mv", "/only-one")
	assert.Equal(t, 1, code)
	_, _, code = dhdfs(t, "", "get-block-locations", "/f", "0")
	assert.Equal(t, 1, code)
}

func TestInit(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "dhdfs.yaml")

	stdout, _, code := dhdfs(t, path, "init")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, path)

	_, stderr, code := dhdfs(t, path, "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	_, _, code = dhdfs(t, path, "init", "--force")
	assert.Equal(t, 0, code)
}

func TestCommands(t *testing.T) {
	isolate(t)
	c := minicluster.MustStart(t, minicluster.Config{})
	cfg := clusterConfig(t, c)

	ok := func(args ...string) string {
		t.Helper()
		stdout, stderr, code := dhdfs(t, cfg, args...)
		require.Equal(t, 0, code, "dhdfs %v: %s", args, stderr)
		return stdout
	}
	fails := func(args ...string) string {
		t.Helper()
		_, stderr, code := dhdfs(t, cfg, args...)
		require.Equal(t, 1, code, "dhdfs %v", args)
		return stderr
	}

	local := t.TempDir()
	src := filepath.Join(local, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world\n"), 0o644))

	// write
	ok("mkdir", "/tmp/cli/dir")
	ok("to-hdfs", src, "/tmp/cli/dir/data")
	ok("touch", "/tmp/cli/dir/empty")
	assert.Equal(t, "hello world\n", ok("cat", "/tmp/cli/dir/data"))

	// read
	assert.Equal(t, "hello", ok("head", "/tmp/cli/dir/data", "5"))
	assert.Equal(t, "world\n", ok("tail", "/tmp/cli/dir/data", "6"))
	assert.Equal(t, "true\n", ok("exists", "/tmp/cli/dir/data"))
	assert.Equal(t, "false\n", ok("exists", "/tmp/cli/dir/missing"))
	assert.Equal(t, "/tmp/cli/dir/data\n/tmp/cli/dir/empty\n", ok("ls", "/tmp/cli/dir"))
	assert.Equal(t, "/tmp/cli/dir/data\n", ok("glob", "/tmp/cli/*/d*"))

	info := ok("info", "/tmp/cli/dir/data")
	assert.Contains(t, info, "kind: file")
	assert.Contains(t, info, "size: 12")

	assert.Equal(t, "12\t/tmp/cli/dir/data\n0\t/tmp/cli/dir/empty\n", ok("du", "/tmp/cli/dir"))
	assert.Equal(t, "12\t/tmp/cli\n", ok("du", "-s", "-d", "/tmp/cli"))
	assert.Contains(t, ok("summary", "/tmp/cli"), "file_count: 2")
	assert.Contains(t, ok("df"), "capacity: ")
	assert.Contains(t, ok("get-block-locations", "/tmp/cli/dir/data"), "hosts:")

	dst := filepath.Join(local, "out.txt")
	ok("to-local", "/tmp/cli/dir/data", dst)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(got))

	// modify
	ok("chmod", "/tmp/cli/dir/data", "600")
	ok("chown", "/tmp/cli/dir/data", ":analysts")
	ok("set-replication", "/tmp/cli/dir/data", "2")
	info = ok("info", "/tmp/cli/dir/data")
	assert.Contains(t, info, "0600")
	assert.Contains(t, info, "group: analysts")
	assert.Contains(t, info, "replication: 2")

	ok("mv", "/tmp/cli/dir/data", "/tmp/cli/moved")
	assert.Equal(t, "false\n", ok("exists", "/tmp/cli/dir/data"))
	assert.Equal(t, "true\n", ok("exists", "/tmp/cli/moved"))

	// errors
	assert.Contains(t, fails("cat", "/tmp/cli/none"), "Error:")
	fails("chmod", "/tmp/cli/moved", "9z")
	fails("set-replication", "/tmp/cli/moved", "-1")
	fails("rmdir", "/tmp/cli/moved")
	fails("rm", "/tmp/cli/dir")

	// remove
	ok("rm", "/tmp/cli/dir/empty")
	ok("rmdir", "/tmp/cli/dir")
	ok("rm", "-r", "/tmp/cli")
	assert.Equal(t, "false\n", ok("exists", "/tmp/cli"))
}

func TestFlagsOverrideConfig(t *testing.T) {
	isolate(t)
	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 1})
	opts := c.Options()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 127.0.0.1\nport: 1\nconnect_retries: 1\nconnect_timeout: 1s\n"), 0o600))

	_, _, code := dhdfs(t, path, "exists", "/")
	assert.Equal(t, 1, code)

	stdout, stderr, code := dhdfs(t, path, "--port", strconv.Itoa(opts.Port), "--user", opts.User, "exists", "/")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "true\n", stdout)
}

func TestMetricsEndpoint(t *testing.T) {
	isolate(t)
	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 1})
	opts := c.Options()
	opts.Metrics = config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"}
	data, err := config.Marshal(opts)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	stdout, stderr, code := dhdfs(t, path, "exists", "/")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "true\n", stdout)
	assert.Contains(t, stderr, "/metrics")
}
