package unpack

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)

		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func writeArchive(t *testing.T, dir, id string, data []byte) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0755))

	p := filepath.Join(dir, id+".zip")
	require.NoError(t, os.WriteFile(p, data, 0644))

	return p
}

func newTestUnpacker(t *testing.T) (*Unpacker, string, string) {
	t.Helper()

	root := t.TempDir()
	downloads := filepath.Join(root, "songs")
	unpacked := filepath.Join(root, "songs_unpacked")

	return New(downloads, unpacked, nil), downloads, unpacked
}

func TestUnpack_PreservesStructure(t *testing.T) {
	u, downloads, unpacked := newTestUnpacker(t)

	archive := writeArchive(t, downloads, "XYZ", buildZip(t,
		zipEntry{name: "a/"},
		zipEntry{name: "a/b.txt", body: "nested"},
		zipEntry{name: "c.txt", body: "top"},
	))

	o := u.Unpack(context.Background(), archive, "XYZ")
	require.True(t, o.OK(), "unexpected outcome: %v", o.Err)
	assert.Equal(t, filepath.Join(unpacked, "XYZ"), o.Target)
	assert.NoError(t, o.AsError())

	b, err := os.ReadFile(filepath.Join(unpacked, "XYZ", "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(b))

	c, err := os.ReadFile(filepath.Join(unpacked, "XYZ", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(c))
}

func TestUnpack_CreatesParentsForFileOnlyEntries(t *testing.T) {
	u, downloads, unpacked := newTestUnpacker(t)

	archive := writeArchive(t, downloads, "ABC", buildZip(t,
		zipEntry{name: "deep/er/song.dat", body: "x"},
	))

	o := u.Unpack(context.Background(), archive, "ABC")
	require.True(t, o.OK(), "unexpected outcome: %v", o.Err)
	assert.FileExists(t, filepath.Join(unpacked, "ABC", "deep", "er", "song.dat"))
}

func TestUnpack_MissingArchive(t *testing.T) {
	u, downloads, _ := newTestUnpacker(t)

	o := u.Unpack(context.Background(), filepath.Join(downloads, "nope.zip"), "nope")
	assert.Equal(t, IOFailure, o.Status)
	assert.True(t, errors.Is(o.Err, os.ErrNotExist))

	var uerr *Error
	require.ErrorAs(t, o.AsError(), &uerr)
	assert.Equal(t, IOFailure, uerr.Outcome.Status)
}

func TestUnpack_CorruptArchive(t *testing.T) {
	u, downloads, unpacked := newTestUnpacker(t)

	archive := writeArchive(t, downloads, "BAD", []byte("this is not a zip archive"))

	o := u.Unpack(context.Background(), archive, "BAD")
	assert.Equal(t, FormatFailure, o.Status)
	assert.NoDirExists(t, filepath.Join(unpacked, "BAD"))
}

func TestUnpack_CorruptEntryData(t *testing.T) {
	u, downloads, _ := newTestUnpacker(t)

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "song.dat", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte("some payload that gets damaged"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data := buf.Bytes()

	// Stored data starts right after the 30 byte local header and the name.
	data[30+len("song.dat")] ^= 0xFF

	archive := writeArchive(t, downloads, "CRC", data)

	o := u.Unpack(context.Background(), archive, "CRC")
	assert.Equal(t, FormatFailure, o.Status)
	assert.ErrorIs(t, o.Err, zip.ErrChecksum)
}

func TestUnpack_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"parent", "../evil.txt"},
		{"nested parent", "a/../../evil.txt"},
		{"absolute", "/evil.txt"},
		{"backslash", `..\evil.txt`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, downloads, unpacked := newTestUnpacker(t)

			archive := writeArchive(t, downloads, "EVIL", buildZip(t,
				zipEntry{name: "ok.txt", body: "fine"},
				zipEntry{name: tt.entry, body: "bad"},
			))

			o := u.Unpack(context.Background(), archive, "EVIL")
			assert.Equal(t, PathFailure, o.Status)
			assert.Equal(t, tt.entry, o.Entry)
			assert.Contains(t, o.AsError().Error(), "path_failure")

			assert.NoFileExists(t, filepath.Join(unpacked, "evil.txt"))
			assert.NoFileExists(t, filepath.Join(filepath.Dir(unpacked), "evil.txt"))
			assert.NoFileExists(t, filepath.Join(unpacked, "EVIL", "ok.txt"))
		})
	}
}

func TestUnpackAll_ContinuesAfterFailure(t *testing.T) {
	u, downloads, unpacked := newTestUnpacker(t)

	writeArchive(t, downloads, "ONE", buildZip(t, zipEntry{name: "1.txt", body: "1"}))
	writeArchive(t, downloads, "TWO", []byte("garbage"))
	writeArchive(t, downloads, "THREE", buildZip(t, zipEntry{name: "3.txt", body: "3"}))

	outcomes := u.UnpackAll(context.Background(), []string{"ONE", "TWO", "THREE", "FOUR"})
	require.Len(t, outcomes, 4)

	assert.Equal(t, Success, outcomes[0].Status)
	assert.Equal(t, FormatFailure, outcomes[1].Status)
	assert.Equal(t, Success, outcomes[2].Status)
	assert.Equal(t, IOFailure, outcomes[3].Status)

	assert.FileExists(t, filepath.Join(unpacked, "ONE", "1.txt"))
	assert.FileExists(t, filepath.Join(unpacked, "THREE", "3.txt"))
}

func TestUnpack_ResetTargetOnlyTouchesOwnDirectory(t *testing.T) {
	root := t.TempDir()
	downloads := filepath.Join(root, "songs")
	unpacked := filepath.Join(root, "songs_unpacked")

	u := New(downloads, unpacked, nil, WithResetTarget(true))

	stale := filepath.Join(unpacked, "XYZ", "stale.txt")
	sibling := filepath.Join(unpacked, "ABC", "keep.txt")

	for _, p := range []string{stale, sibling} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	archive := writeArchive(t, downloads, "XYZ", buildZip(t, zipEntry{name: "c.txt", body: "new"}))

	o := u.Unpack(context.Background(), archive, "XYZ")
	require.True(t, o.OK(), "unexpected outcome: %v", o.Err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(unpacked, "XYZ", "c.txt"))
	assert.FileExists(t, sibling)
}

func TestUnpack_ResetTargetKeepsOutputOfRejectedArchive(t *testing.T) {
	root := t.TempDir()
	downloads := filepath.Join(root, "songs")
	unpacked := filepath.Join(root, "songs_unpacked")

	u := New(downloads, unpacked, nil, WithResetTarget(true))

	previous := filepath.Join(unpacked, "XYZ", "c.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(previous), 0755))
	require.NoError(t, os.WriteFile(previous, []byte("old"), 0644))

	archive := writeArchive(t, downloads, "XYZ", buildZip(t, zipEntry{name: "../evil.txt", body: "x"}))

	o := u.Unpack(context.Background(), archive, "XYZ")
	assert.Equal(t, PathFailure, o.Status)
	assert.FileExists(t, previous)
}

func TestEntryPath(t *testing.T) {
	valid := map[string]string{
		"a/b.txt": filepath.Join("a", "b.txt"),
		"./c.txt": "c.txt",
		"a/./b/":  filepath.Join("a", "b"),
		"a/../b":  "b",
		"./":      ".",
	}

	for in, want := range valid {
		got, err := entryPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "..", "../x", "/etc/passwd", `a\b`, "a\x00b"} {
		_, err := entryPath(in)
		assert.Error(t, err, in)
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "io_failure", IOFailure.String())
	assert.Equal(t, "format_failure", FormatFailure.String())
	assert.Equal(t, "path_failure", PathFailure.String())
	assert.Equal(t, "status(42)", Status(42).String())
}
