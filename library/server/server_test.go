package server

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lbms/library/config"
	"lbms/library/storage"
)

type captureClient struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureClient) Connect(*Server) error         { return nil }
func (c *captureClient) Display(context.Context) error { return nil }
func (c *captureClient) Close() error                  { return nil }

func (c *captureClient) Receive(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

func (c *captureClient) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1]
}

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Type = config.StorageMemory
	return cfg
}

func TestReceiveRejectsForeignSenders(t *testing.T) {
	ctx := context.Background()
	a, err := NewWithBackend(ctx, memoryConfig(), storage.NewMemory(), nil)
	require.NoError(t, err)
	b, err := NewWithBackend(ctx, memoryConfig(), storage.NewMemory(), nil)
	require.NoError(t, err)

	client := &captureClient{}
	exec := a.Connect(client)
	assert.NotEmpty(t, exec.ID())

	assert.ErrorIs(t, b.Receive(exec, "datetime;"), ErrIllegalSender)
	assert.ErrorIs(t, a.Receive(&Executor{}, "datetime;"), ErrIllegalSender)
	assert.Empty(t, client.messages)

	require.NoError(t, a.Receive(exec, "datetime;"))
	assert.Equal(t, "datetime,2026/01/01,08:00:00;", client.last())

	a.Disconnect(exec)
	assert.ErrorIs(t, a.Receive(exec, "datetime;"), ErrIllegalSender)

	require.NoError(t, a.Close(ctx))
	assert.ErrorIs(t, a.Receive(a.Connect(client), "datetime;"), ErrClosed)
}

func TestAdvanceRunsOpenAndCloseOnce(t *testing.T) {
	ctx := context.Background()
	s, err := NewWithBackend(ctx, memoryConfig(), storage.NewMemory(), nil)
	require.NoError(t, err)
	client := &captureClient{}
	exec := s.Connect(client)

	require.NoError(t, s.Receive(exec, "register,Alice,1 Main St;"))
	require.NoError(t, s.Receive(exec, "arrive,1;"))
	require.NoError(t, s.Receive(exec, "advance,1,0;"))
	assert.Equal(t, "advance,success;", client.last())
	require.NoError(t, s.Receive(exec, "datetime;"))
	assert.Equal(t, "datetime,2026/01/02,08:00:00;", client.last())

	assert.True(t, s.Manager().IsOpen())
	v, ok := s.Manager().Visitor(1)
	require.True(t, ok)
	assert.False(t, v.Visiting)
}

func TestRestartKeepsStateAndClock(t *testing.T) {
	for _, typ := range []string{config.StorageJSON, config.StorageYAML, config.StorageSQL} {
		t.Run(typ, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			cfg := config.Default()
			cfg.Storage.Type = typ
			cfg.Storage.Path = filepath.Join(dir, "lbms."+typ)
			cfg.Storage.SQL.DSN = filepath.Join(dir, "lbms.db")

			s, err := New(ctx, cfg, nil)
			require.NoError(t, err)
			client := &captureClient{}
			exec := s.Connect(client)
			require.NoError(t, s.Receive(exec, "register,Alice,1 Main St;"))
			require.NoError(t, s.Receive(exec, "advance,0,12;"))
			require.NoError(t, s.Receive(exec, "datetime;"))
			assert.Equal(t, "datetime,2026/01/01,20:00:00;", client.last())
			require.NoError(t, s.Close(ctx))

			s, err = New(ctx, cfg, nil)
			require.NoError(t, err)
			defer s.Close(ctx)
			exec = s.Connect(client)
			require.NoError(t, s.Receive(exec, "datetime;"))
			assert.Equal(t, "datetime,2026/01/01,20:00:00;", client.last())
			assert.False(t, s.Manager().IsOpen())
			require.NoError(t, s.Receive(exec, "register,Alice,1 Main St;"))
			assert.Equal(t, "register,duplicate;", client.last())
			require.NoError(t, s.Receive(exec, "register,Bob,2 Side St;"))
			assert.Equal(t, "register,2,2026/01/01;", client.last())
		})
	}
}

func TestNewRejectsGUI(t *testing.T) {
	cfg := memoryConfig()
	cfg.UI = config.UIGUI
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrUnsupportedUI)
}

func TestTextClient(t *testing.T) {
	ctx := context.Background()
	s, err := NewWithBackend(ctx, memoryConfig(), storage.NewMemory(), nil)
	require.NoError(t, err)

	in := strings.NewReader("register,Alice,1 Main St;\n\nnope;\ndatetime\n")
	var out bytes.Buffer
	c := NewTextClient(in, &out)
	require.NoError(t, c.Connect(s))
	require.NoError(t, c.Display(ctx))
	require.NoError(t, c.Close())

	assert.Equal(t,
		"register,1,2026/01/01;\nnope,unknown-command;\ndatetime,2026/01/01,08:00:00;\n",
		out.String())
}
