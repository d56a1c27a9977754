package coreconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		address  string
		wantHost string
		wantPort int
		wantOK   bool
	}{
		{name: "host-less", address: ":9090", wantHost: "127.0.0.1", wantPort: 9090, wantOK: true},
		{name: "wildcard host", address: "0.0.0.0:9090", wantHost: "127.0.0.1", wantPort: 9090, wantOK: true},
		{name: "explicit host", address: "192.168.1.5:9091", wantHost: "192.168.1.5", wantPort: 9091, wantOK: true},
		{name: "unset", address: "", wantOK: false},
		{name: "no port", address: "localhost", wantOK: false},
		{name: "bad port", address: "localhost:nope", wantOK: false},
		{name: "zero port", address: "localhost:0", wantOK: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			f := &File{ExternalController: test.address}
			host, port, ok := f.Controller()
			assert.Equal(t, test.wantOK, ok)
			if test.wantOK {
				assert.Equal(t, test.wantHost, host)
				assert.Equal(t, test.wantPort, port)
			}
		})
	}
}

func TestProxyPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7890, (&File{MixedPort: 7890, Port: 7891}).ProxyPort(), "mixed-port wins")
	assert.Equal(t, 7891, (&File{Port: 7891}).ProxyPort())
	assert.Zero(t, (&File{}).ProxyPort())
}

func TestParse(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(`
external-controller: 127.0.0.1:9090
secret: 's3'
mode: global
mixed-port: 7890
tun:
  enable: true
`))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", f.ExternalController)
	assert.Equal(t, "s3", f.Secret)
	assert.Equal(t, "global", f.Mode)
	assert.Equal(t, 7890, f.MixedPort)
	assert.True(t, f.TUN.Enable)

	_, err = Parse([]byte("just a scalar"))
	require.ErrorContains(t, err, "failed to parse core config")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "failed to read core config")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("mode: rule\n"), 0640))
	assert.NoError(t, Validate(good))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("\tnot yaml"), 0640))
	assert.Error(t, Validate(bad))
}

func TestWriteIdle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "stop.yaml")

	require.NoError(t, WriteIdle(path, "127.0.0.1", 9090, "s3"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "external-controller: 127.0.0.1:9090\nsecret: 's3'\nmode: rule\n", string(data))

	// The idle config must itself be a loadable core config.
	f, err := Load(path)
	require.NoError(t, err)
	host, port, ok := f.Controller()
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 9090, port)
	assert.Equal(t, "rule", f.Mode)
}
