package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/orca/internal/engine"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/remote"
)

const testStack = `
name: test
values:
  pkg: nginx
phases:
  - id: base
    steps:
      - name: install
        run:
          command: apt-get install -y ${pkg}
      - name: config
        run:
          upload:
            src: files/nginx.conf
            dst: /etc/nginx/nginx.conf
`

func TestLoadStack(t *testing.T) {
	tests := map[string]struct {
		path     func(t *testing.T) string
		expName  string
		expLocal bool
		expErr   bool
	}{
		"An empty path should load the default stack.": {
			path:    func(t *testing.T) string { return "" },
			expName: "directory-server",
		},
		"A stack file should be loaded relative to its dir.": {
			path: func(t *testing.T) string {
				dir := t.TempDir()
				p := filepath.Join(dir, "stack.yaml")
				require.NoError(t, os.WriteFile(p, []byte(testStack), 0o600))
				return p
			},
			expName:  "test",
			expLocal: true,
		},
		"A missing stack file should fail.": {
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") },
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			path := test.path(t)
			s, baseDir, err := engine.LoadStack(context.TODO(), path)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			assert.Equal(test.expName, s.Name)
			if test.expLocal {
				assert.Equal(filepath.Dir(path), baseDir)
			}
		})
	}
}

func TestDefinitionFor(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "stack.yaml")
	require.NoError(t, os.WriteFile(p, []byte(testStack), 0o600))

	s, baseDir, err := engine.LoadStack(context.TODO(), p)
	require.NoError(t, err)

	def, err := engine.DefinitionFor(s, baseDir, nil)(model.TaskConfig{Host: "h", Values: map[string]string{"pkg": "caddy"}})
	require.NoError(t, err)
	require.Len(t, def.Phases, 1)
	assert.Len(t, def.Phases[0].Steps, 2)
}

func TestCredentials(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, []byte("PRIVATE KEY"), 0o600))

	tests := map[string]struct {
		config   model.RunConfig
		expCreds remote.Credentials
		expErr   bool
	}{
		"Password credentials should be returned.": {
			config:   model.RunConfig{User: "root", Password: "secret", Port: 2222},
			expCreds: remote.Credentials{User: "root", Password: "secret", Port: 2222},
		},
		"The private key should be read from disk.": {
			config:   model.RunConfig{User: "root", PrivateKeyPath: keyPath},
			expCreds: remote.Credentials{User: "root", PrivateKey: []byte("PRIVATE KEY")},
		},
		"A missing private key should fail.": {
			config: model.RunConfig{User: "root", PrivateKeyPath: filepath.Join(dir, "missing")},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			creds, err := engine.Credentials(test.config)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expCreds, creds)
		})
	}
}

func TestNew(t *testing.T) {
	tests := map[string]struct {
		config engine.Config
		expErr bool
	}{
		"Defaults should wire an SSH engine.": {
			config: engine.Config{},
		},
		"Invalid prompt tuning should fail.": {
			config: engine.Config{Settings: model.RunConfig{GracePeriod: 1, SettleDelay: 2}},
			expErr: true,
		},
		"A relative checkpoint dir should fail.": {
			config: engine.Config{Settings: model.RunConfig{CheckpointDir: "checkpoints"}},
			expErr: true,
		},
		"A locks dir should enable the host lock.": {
			config: engine.Config{LocksDir: t.TempDir()},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			e, err := engine.New(test.config)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e.Starter)
			assert.NotNil(t, e.Status)
			assert.NotNil(t, e.Input)
		})
	}
}
