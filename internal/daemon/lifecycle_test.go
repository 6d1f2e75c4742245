package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager(t *testing.T) {
	t.Run("writes and removes the pid file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		lm := NewLifecycleManager(dir, zerolog.Nop())

		require.NoError(t, lm.Start())
		assert.Equal(t, filepath.Join(dir, PIDFileName), lm.PIDFile())

		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)

		require.NoError(t, lm.Stop())
		_, err = os.Stat(lm.PIDFile())
		assert.True(t, os.IsNotExist(err))

		assert.NoError(t, lm.Stop(), "stopping twice is fine")
	})

	t.Run("refuses to start over a live process", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte(strconv.Itoa(os.Getppid())), 0644))

		lm := NewLifecycleManager(dir, zerolog.Nop())
		err := lm.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already running")
	})

	t.Run("replaces a stale pid file", func(t *testing.T) {
		cmd := exec.Command("true")
		if err := cmd.Run(); err != nil {
			t.Skipf("cannot spawn helper process: %v", err)
		}
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(PIDFilePath(dir), []byte(strconv.Itoa(cmd.Process.Pid)), 0644))

		lm := NewLifecycleManager(dir, zerolog.Nop())
		require.NoError(t, lm.Start())

		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("restart by the same process is allowed", func(t *testing.T) {
		dir := t.TempDir()
		lm := NewLifecycleManager(dir, zerolog.Nop())
		require.NoError(t, lm.Start())
		assert.NoError(t, lm.Start())
	})
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"valid", "1234\n", 1234, false},
		{"garbage", "not-a-pid", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			pid, err := ReadPID(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(dir, "absent.pid"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
}
