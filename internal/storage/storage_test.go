package storage

import (
	"io"
	"strings"
	"testing"
	"time"

	"churchadmin/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	ls, err := NewLocalStorage(t.TempDir(), "/exports/")
	require.NoError(t, err)
	ls.now = func() time.Time { return time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC) }
	ctx := t.Context()

	key, err := ls.Store(ctx, "org-grace", "members.xlsx", strings.NewReader("sheet"), "application/octet-stream")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "org-grace/2026/05/"), key)
	assert.True(t, strings.HasSuffix(key, "_members.xlsx"), key)

	exists, err := ls.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := ls.Retrieve(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "sheet", string(body))

	url, err := ls.URL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "/exports/"+key, url)

	require.NoError(t, ls.Delete(ctx, key))
	_, err = ls.Retrieve(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, ls.Delete(ctx, key), "deleting twice is not an error")
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	ls, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	_, err = ls.Retrieve(t.Context(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = ls.Exists(t.Context(), "../outside")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "__etc_passwd", sanitizeFilename("../etc/passwd"))
	assert.Equal(t, "a_b_c.xlsx", sanitizeFilename("a:b*c.xlsx"))
}

func TestNew(t *testing.T) {
	s, err := New(t.Context(), config.StorageConfig{Type: TypeLocal, LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(t.Context(), config.StorageConfig{Type: TypeS3})
	assert.Error(t, err)

	_, err = New(t.Context(), config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestOwnedBy(t *testing.T) {
	assert.True(t, OwnedBy("org-grace/2026/10/abc_members.xlsx", "org-grace"))
	assert.False(t, OwnedBy("org-hope/2026/10/abc_members.xlsx", "org-grace"))
	assert.False(t, OwnedBy("org-grace-2/2026/10/abc_members.xlsx", "org-grace"))
	assert.False(t, OwnedBy("anything", ""))
}
