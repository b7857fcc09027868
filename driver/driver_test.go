package driver_test

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/blockaddr"
	"github.com/jbesta/simfs/driver"
	"github.com/jbesta/simfs/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newFS(t *testing.T, sizeBytes uint32) *driver.FileSystem {
	t.Helper()
	storage := make([]byte, sizeBytes)
	stream := bytesextra.NewReadWriteSeeker(storage)
	fs, err := driver.Format(stream, sizeBytes)
	require.Nil(t, err, "format failed: %v", err)
	return fs
}

// Scenario 1: format, mkdir, ls.
func TestMkdirThenLs(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)

	lines, status, err := fs.Ls("/")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)
	assert.Equal(t, []string{"+a"}, lines)
}

// Scenario 2: a small incp (direct blocks only) round-trips through cat.
func TestIncpSmallFileNoIndirect(t *testing.T) {
	fs := newFS(t, 1<<20)

	dir := t.TempDir()
	hostPath := dir + "/host.bin"
	content := bytes.Repeat([]byte{0x42}, 5000)
	require.NoError(t, writeHostFile(hostPath, content))

	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)

	info, status, err := fs.Info("/host.bin")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)
	assert.Contains(t, info, "5000")
	assert.NotContains(t, info, "IND1")

	got, status, err := fs.Cat("/host.bin")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)
	assert.Equal(t, content, got)
}

// Scenario 3: a file past 5 direct blocks populates exactly one indirect
// table with the remaining block count.
func TestIncpPopulatesFirstIndirect(t *testing.T) {
	fs := newFS(t, 4<<20)

	dir := t.TempDir()
	hostPath := dir + "/big.bin"
	content := bytes.Repeat([]byte{0x7}, 200*1024) // 200 logical blocks: past direct (5), short of indirect1's 256-entry capacity
	require.NoError(t, writeHostFile(hostPath, content))

	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)

	info, status, err := fs.Info("/big.bin")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)
	assert.Contains(t, info, "IND1[")
	assert.NotContains(t, info, "IND2[")
	assert.Equal(t, 195, countIndirectEntries(t, info, "IND1"))

	got, status, err := fs.Cat("/big.bin")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)
	assert.Equal(t, content, got)
}

// Spec §8 scenario 3, literal: a 300000-byte file populates five direct
// blocks plus one indirect table holding the remaining 288 block numbers.
func TestIncpLiteralScenario3_Indirect1Has288Entries(t *testing.T) {
	fs := newFS(t, 2<<20)

	dir := t.TempDir()
	hostPath := dir + "/big.bin"
	content := bytes.Repeat([]byte{0x7}, 300000)
	require.NoError(t, writeHostFile(hostPath, content))

	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	info, status, err := fs.Info("/big.bin")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	assert.NotContains(t, info, "IND2[")
	assert.Equal(t, 288, countIndirectEntries(t, info, "IND1"))
}

// Scenario 4: a file at the exact maximum size populates both indirect
// tables in full.
func TestIncpMaxSizePopulatesBothIndirects(t *testing.T) {
	fs := newFS(t, 8<<20)

	dir := t.TempDir()
	hostPath := dir + "/huge.bin"
	content := bytes.Repeat([]byte{0x1}, blockaddr.MaxFileSize)
	require.NoError(t, writeHostFile(hostPath, content))

	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)

	info, status, err := fs.Info("/huge.bin")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)
	assert.Contains(t, info, "IND1[")
	assert.Contains(t, info, "IND2[")
	assert.Equal(t, 256, countIndirectEntries(t, info, "IND1"))
	assert.Equal(t, 256, countIndirectEntries(t, info, "IND2"))
}

// countIndirectEntries extracts the bracketed block-number list following
// label (e.g. "IND1") in an info line and returns how many entries it holds.
func countIndirectEntries(t *testing.T, info, label string) int {
	t.Helper()
	marker := label + "["
	start := strings.Index(info, marker)
	require.GreaterOrEqual(t, start, 0, "info %q missing %s", info, marker)
	start += len(marker)
	end := strings.Index(info[start:], "]")
	require.GreaterOrEqual(t, end, 0, "info %q missing closing ] for %s", info, label)
	contents := info[start : start+end]
	if contents == "" {
		return 0
	}
	return len(strings.Split(contents, ","))
}

// Scenario 5: one byte past the maximum is rejected as too large.
func TestIncpOverflowIsTooLarge(t *testing.T) {
	fs := newFS(t, 8<<20)

	dir := t.TempDir()
	hostPath := dir + "/overflow.bin"
	content := bytes.Repeat([]byte{0x1}, blockaddr.MaxFileSize+1)
	require.NoError(t, writeHostFile(hostPath, content))

	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusFileTooLarge, status)
}

// Scenario 6: mkdir twice on the same name reports EXIST.
func TestMkdirDuplicateIsExist(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Mkdir("/a")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusExist, status)
}

// Scenario 7: rmdir on a non-empty directory reports NOT EMPTY.
func TestRmdirNonEmptyReportsNotEmpty(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	dir := t.TempDir()
	hostPath := dir + "/host.bin"
	require.NoError(t, writeHostFile(hostPath, []byte("hello")))

	status, err = fs.Incp(hostPath, "/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Rmdir("/a")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusNotEmpty, status)
}

// After cp into a directory then rm of the copy, the i-node table and
// bitmap return to their pre-cp state (spec §8 property test).
func TestCpThenRmRestoresState(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/b")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	dir := t.TempDir()
	hostPath := dir + "/a"
	require.NoError(t, writeHostFile(hostPath, bytes.Repeat([]byte{0x9}, 2048)))
	status, err = fs.Incp(hostPath, "/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	sb := fs.Img.Superblock()
	snapshot := func() []byte {
		// The bitmap region is followed directly by the i-node region.
		buf := make([]byte, (sb.BitmapClusterCount+sb.InodeClusterCount)*image.BlockSize)
		require.NoError(t, fs.Img.ReadAt(buf, int64(sb.BitmapStart)*image.BlockSize))
		return buf
	}
	beforeMeta := snapshot()
	before := fs.Alloc.PopCount()

	status, err = fs.Cp("/a", "/b/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Rm("/b/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	after := fs.Alloc.PopCount()
	assert.Equal(t, before, after)
	assert.Equal(t, beforeMeta, snapshot())
}

// mv within the same directory is a no-op success; mv to a colliding name
// in another directory reports EXIST.
func TestMvSameDirNoopAndCollision(t *testing.T) {
	fs := newFS(t, 1<<20)

	dir := t.TempDir()
	hostPath := dir + "/a"
	require.NoError(t, writeHostFile(hostPath, []byte("x")))
	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Mv("/a", "/")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusOK, status)

	require.NoError(t, writeHostFile(dir+"/b", []byte("y")))
	status, err = fs.Mkdir("/d")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	status, err = fs.Incp(dir+"/b", "/d")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	status, err = fs.Incp(dir+"/b", "/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Mv("/b", "/d")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusExist, status)
}

// cd then pwd reflects the resolved working directory.
func TestCdThenPwd(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	status, err = fs.Mkdir("/a/b")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Cd("/a/b")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	assert.Equal(t, "/a/b", fs.Pwd())
}

// Directory file_size rolls up the byte size of every descendant file.
func TestDirectorySizeRollup(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	dir := t.TempDir()
	require.NoError(t, writeHostFile(dir+"/x", bytes.Repeat([]byte{1}, 100)))
	require.NoError(t, writeHostFile(dir+"/y", bytes.Repeat([]byte{1}, 200)))

	status, err = fs.Incp(dir+"/x", "/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	status, err = fs.Incp(dir+"/y", "/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	aRec, err := fs.Table.Get(mustResolve(t, fs, "/a"))
	require.NoError(t, err)
	assert.Equal(t, int32(300), aRec.FileSize)
}

func mustResolve(t *testing.T, fs *driver.FileSystem, path string) int32 {
	t.Helper()
	id, err := fs.Tree.Resolve(path)
	require.NoError(t, err)
	return id
}

func writeHostFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}

func TestOutcpRoundTrip(t *testing.T) {
	fs := newFS(t, 1<<20)

	dir := t.TempDir()
	hostPath := dir + "/orig.bin"
	content := bytes.Repeat([]byte{0x55}, 10000)
	require.NoError(t, writeHostFile(hostPath, content))

	status, err := fs.Incp(hostPath, "/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Outcp("/orig.bin", dir)
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	got, rerr := os.ReadFile(dir + "/orig.bin")
	require.NoError(t, rerr)
	assert.Equal(t, content, got)
}

func TestCatOnDirectoryIsFileNotFound(t *testing.T) {
	fs := newFS(t, 1<<20)

	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	_, status, err = fs.Cat("/a")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusFileNotFound, status)
}

func TestLsMissingPathReportsPathNotFound(t *testing.T) {
	fs := newFS(t, 1<<20)

	_, status, err := fs.Ls("/nope")
	require.NoError(t, err)
	assert.Equal(t, simfs.StatusPathNotFound, status)
}

func TestPathWithTrailingSlashResolvesSameDirectory(t *testing.T) {
	fs := newFS(t, 1<<20)
	status, err := fs.Mkdir("/a")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	assert.Equal(t, mustResolve(t, fs, "/a"), mustResolve(t, fs, "/a/"))
	assert.True(t, strings.HasPrefix(fs.Pwd(), "/"))
}

// Fragment the data region with ten files, delete every other one, then
// defrag: every remaining file keeps its contents, every used block sits in
// the low prefix of the data region, and each remaining file's blocks are
// physically contiguous (spec §8 scenario 8, §4.7 invariants).
func TestDefragCompactsAndPreservesContent(t *testing.T) {
	fs := newFS(t, 2<<20)

	dir := t.TempDir()
	contents := make(map[string][]byte)
	for i := 0; i < 10; i++ {
		name := fmtName(i)
		data := bytes.Repeat([]byte{byte(i + 1)}, 3*1024+17)
		hostPath := dir + "/" + name
		require.NoError(t, writeHostFile(hostPath, data))

		status, err := fs.Incp(hostPath, "/")
		require.NoError(t, err)
		require.Equal(t, simfs.StatusOK, status)
		contents[name] = data
	}

	for i := 0; i < 10; i += 2 {
		name := fmtName(i)
		status, err := fs.Rm("/" + name)
		require.NoError(t, err)
		require.Equal(t, simfs.StatusOK, status)
		delete(contents, name)
	}

	beforeLines, status, err := fs.Ls("/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	status, err = fs.Defrag()
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)

	afterLines, status, err := fs.Ls("/")
	require.NoError(t, err)
	require.Equal(t, simfs.StatusOK, status)
	assert.ElementsMatch(t, beforeLines, afterLines)

	for name, want := range contents {
		got, status, err := fs.Cat("/" + name)
		require.NoError(t, err)
		require.Equal(t, simfs.StatusOK, status)
		assert.Equal(t, want, got, "contents changed for %s across defrag", name)

		rec, err := fs.Table.Get(mustResolve(t, fs, "/"+name))
		require.NoError(t, err)
		blocks, err := fs.Addr.Resolve(rec, (len(want)+1023)/1024)
		require.NoError(t, err)
		for k := 1; k < len(blocks); k++ {
			assert.Equal(t, blocks[k-1]+1, blocks[k], "blocks of %s are not contiguous after defrag", name)
		}
	}

	usedCount := fs.Alloc.PopCount()
	sb := fs.Img.Superblock()
	for b := int32(usedCount); uint32(b) < sb.DataClusterCount; b++ {
		assert.False(t, fs.Alloc.Get(b), "block %d beyond used prefix is still marked allocated", b)
	}
}

func fmtName(i int) string {
	return string(rune('a'+i)) + ".bin"
}
