package icons

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "kvmdash/pkg/logx"
)

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"My Icon.png":         "My_Icon.png",
		"../../etc/passwd.png": "etc_passwd.png",
		"héllo wörld.svg":     "hllo_wrld.svg",
		"..hidden.gif":        "hidden.gif",
	}
	for in, want := range cases {
		assert.Equal(t, want, SecureFilename(in), in)
	}
}

func TestUploadWritesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, "/icons", logx.Nop())

	up, err := s.Upload(context.Background(), "server rack.PNG", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "server_rack.PNG", up.Filename)
	assert.Equal(t, "/dashboard-images/server_rack.PNG", up.Path)

	b, err := afero.ReadFile(fs, "/icons/server_rack.PNG")
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
	fi, err := fs.Stat("/icons/server_rack.PNG")
	require.NoError(t, err)
	assert.Equal(t, "-rw-r--r--", fi.Mode().Perm().String())
}

func TestUploadRejects(t *testing.T) {
	s := New(afero.NewMemMapFs(), "/icons", logx.Nop())
	_, err := s.Upload(context.Background(), "", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoFile)
	_, err = s.Upload(context.Background(), "script.sh", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = s.Upload(context.Background(), "noext", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestCleanupKeepsReferenced(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := New(fs, "/icons", logx.Nop())

	res, err := s.Cleanup(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Upload folder doesn't exist", res.Message)
	assert.Empty(t, res.Deleted)

	for _, n := range []string{"a.png", "b.png", "c.svg"} {
		require.NoError(t, afero.WriteFile(fs, "/icons/"+n, []byte("x"), 0o644))
	}
	cfg := map[string]any{"pcs": []any{
		map[string]any{"iconType": "image", "icon": "/dashboard-images/a.png"},
		map[string]any{"iconType": "emoji", "icon": "/dashboard-images/b.png"},
		map[string]any{"iconType": "image", "icon": "c.svg"},
	}}
	res, err = s.Cleanup(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "c.svg"}, res.Deleted)
	assert.Equal(t, "Deleted 2 unused icon(s)", res.Message)

	ok, _ := afero.Exists(fs, "/icons/a.png")
	assert.True(t, ok)

	res, err = s.Cleanup(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "No unused icons found", res.Message)
}
