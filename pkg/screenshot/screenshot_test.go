package screenshot_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbill/fieldbill/pkg/screenshot"
)

func pngUpload(t *testing.T, name string) *multipart.FileHeader {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var imgBuf bytes.Buffer
	require.NoError(t, png.Encode(&imgBuf, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("screenshot", name)
	require.NoError(t, err)
	_, err = fw.Write(imgBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	mr := multipart.NewReader(&body, mw.Boundary())
	form, err := mr.ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File["screenshot"][0]
}

func textUpload(t *testing.T, name, content string) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("screenshot", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	mr := multipart.NewReader(&body, mw.Boundary())
	form, err := mr.ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File["screenshot"][0]
}

func TestSaveProof(t *testing.T) {
	t.Parallel()

	t.Run("saves image and returns url under base", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/")
		require.NoError(t, err)

		tenantID := uuid.New()
		url, err := store.SaveProof(context.Background(), tenantID, pngUpload(t, "proof.png"))
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(url, "/screenshots/"+tenantID.String()+"/"))
		assert.True(t, strings.HasSuffix(url, ".png"))
		assert.True(t, store.Exists(url))
	})

	t.Run("rejects non-image content", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/")
		require.NoError(t, err)

		_, err = store.SaveProof(context.Background(), uuid.New(), textUpload(t, "proof.png", "definitely not an image"))
		require.ErrorIs(t, err, screenshot.ErrNotImage)
	})

	t.Run("rejects oversized upload", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/", screenshot.WithMaxSize(16))
		require.NoError(t, err)

		_, err = store.SaveProof(context.Background(), uuid.New(), pngUpload(t, "proof.png"))
		require.ErrorIs(t, err, screenshot.ErrTooLarge)
	})

	t.Run("normalizes unknown extensions", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/")
		require.NoError(t, err)

		url, err := store.SaveProof(context.Background(), uuid.New(), pngUpload(t, "../../etc/passwd"))
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(url, ".img"))
		assert.True(t, store.Exists(url))
	})
}

func TestRemove(t *testing.T) {
	t.Parallel()

	t.Run("removes stored image", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/")
		require.NoError(t, err)

		url, err := store.SaveProof(context.Background(), uuid.New(), pngUpload(t, "proof.png"))
		require.NoError(t, err)

		require.NoError(t, store.Remove(context.Background(), url))
		assert.False(t, store.Exists(url))
	})

	t.Run("idempotent when file already gone", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/")
		require.NoError(t, err)

		url, err := store.SaveProof(context.Background(), uuid.New(), pngUpload(t, "proof.png"))
		require.NoError(t, err)

		require.NoError(t, store.Remove(context.Background(), url))
		require.NoError(t, store.Remove(context.Background(), url))
	})

	t.Run("rejects url outside base", func(t *testing.T) {
		t.Parallel()

		store, err := screenshot.NewStore(t.TempDir(), "/screenshots/")
		require.NoError(t, err)

		err = store.Remove(context.Background(), "/elsewhere/file.png")
		require.ErrorIs(t, err, screenshot.ErrOutsideBaseURL)
	})
}
