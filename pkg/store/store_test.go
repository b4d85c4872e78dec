package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"gotest.tools/assert"

	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	root := t.TempDir()
	store, err := New(Options{
		Network:            "tcp",
		Addr:               mr.Addr(),
		StudentsDir:        filepath.Join(root, "students"),
		ArchiveDir:         filepath.Join(root, "archive"),
		DefaultAdminAPIKey: "SE!@2025",
	})
	assert.NilError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestStudent(t *testing.T, sid string) *Student {
	t.Helper()
	stu := &Student{
		SID: sid,
		UserInfo: UserInfo{
			Name: "Alice",
			Mail: "alice@example.edu",
		},
		Codespace: CodespaceInfo{
			Status:    StatusStopped,
			TimeQuota: 3600,
		},
	}
	assert.NilError(t, stu.ResetPassword("secret"))
	return stu
}

func TestCreateReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	stu := newTestStudent(t, "21301095")

	assert.NilError(t, store.Create(ctx, stu))

	got, err := store.Read(ctx, "21301095")
	assert.NilError(t, err)
	assert.Equal(t, got.UserInfo.Name, "Alice")
	assert.Equal(t, got.UserInfo.Mail, "alice@example.edu")
	assert.Equal(t, got.Codespace.Status, StatusStopped)
	assert.Equal(t, got.Codespace.TimeQuota, float64(3600))
	assert.Assert(t, got.CheckPassword("secret"))
	assert.Assert(t, !got.CheckPassword("wrong"))

	got.Codespace.Status = StatusRunning
	got.Codespace.URL = "http://10.0.0.8"
	got.Codespace.LastStart = 1700000000.5
	assert.NilError(t, store.Write(ctx, got))

	got, err = store.Read(ctx, "21301095")
	assert.NilError(t, err)
	assert.Equal(t, got.Codespace.Status, StatusRunning)
	assert.Equal(t, got.Codespace.URL, "http://10.0.0.8")
	assert.Equal(t, got.Codespace.LastStart, 1700000000.5)

	assert.NilError(t, store.Delete(ctx, "21301095"))
	_, err = store.Read(ctx, "21301095")
	assert.Assert(t, commonerrors.IsNotFound(err))
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	stu := newTestStudent(t, "21301095")

	assert.NilError(t, store.Create(ctx, stu))
	err := store.Create(ctx, stu)
	assert.Assert(t, commonerrors.IsAlreadyExist(err))
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	testCases := []struct {
		name    string
		mutate  func(*Student)
		checker func(error) bool
	}{
		{
			name:    "empty sid",
			mutate:  func(s *Student) { s.SID = "" },
			checker: commonerrors.IsBadRequest,
		},
		{
			name:   "sid too long",
			mutate: func(s *Student) { s.SID = string(make([]byte, MaxSIDLen+1)) },
			checker: func(err error) bool {
				return commonerrors.GetErrorCode(err) == commonerrors.RequestEntityTooLarge
			},
		},
		{
			name:   "name too long",
			mutate: func(s *Student) { s.UserInfo.Name = string(make([]byte, MaxNameLen+1)) },
			checker: func(err error) bool {
				return commonerrors.GetErrorCode(err) == commonerrors.RequestEntityTooLarge
			},
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			stu := newTestStudent(t, "21301095")
			test.mutate(stu)
			err := store.Create(ctx, stu)
			assert.Assert(t, test.checker(err))
		})
	}
}

func TestForEachStudentSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	root := t.TempDir()
	store, err := New(Options{
		Network:     "tcp",
		Addr:        mr.Addr(),
		StudentsDir: filepath.Join(root, "students"),
		ArchiveDir:  filepath.Join(root, "archive"),
	})
	assert.NilError(t, err)
	defer store.Close()

	assert.NilError(t, store.Create(ctx, newTestStudent(t, "s1")))
	assert.NilError(t, store.Create(ctx, newTestStudent(t, "s2")))
	// a hash without pwd_hash is unreadable and must be skipped
	mr.DB(1).HSet("corrupt", "user_info.name", "ghost")

	var seen []string
	err = store.ForEachStudent(ctx, func(stu *Student) error {
		seen = append(seen, stu.SID)
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, len(seen), 2)
}

func TestAllIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	assert.NilError(t, store.Create(ctx, newTestStudent(t, "s1")))
	assert.NilError(t, store.Create(ctx, newTestStudent(t, "s2")))

	ids, err := store.AllIDs(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(ids), 2)
}

func TestAdminAPIKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	key, err := store.AdminAPIKey(ctx)
	assert.NilError(t, err)
	assert.Equal(t, key, "SE!@2025")

	assert.NilError(t, store.SetAdminAPIKey(ctx, "rotated-key"))
	key, err = store.AdminAPIKey(ctx)
	assert.NilError(t, err)
	assert.Equal(t, key, "rotated-key")

	err = store.SetAdminAPIKey(ctx, string(make([]byte, MaxAdminAPIKeyLen+1)))
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.RequestEntityTooLarge)
}

func TestDirLifecycle(t *testing.T) {
	store := newTestStore(t)

	assert.NilError(t, store.EnsureDirs("s1"))
	for _, sub := range []string{"code", "io", "root"} {
		info, err := os.Stat(filepath.Join(store.StudentDir("s1"), sub))
		assert.NilError(t, err)
		assert.Assert(t, info.IsDir())
	}

	archived, err := store.ArchiveDirs("s1")
	assert.NilError(t, err)
	assert.Assert(t, archived != "")
	_, err = os.Stat(store.StudentDir("s1"))
	assert.Assert(t, os.IsNotExist(err))

	// archiving an absent tree is a no-op
	archived, err = store.ArchiveDirs("s1")
	assert.NilError(t, err)
	assert.Equal(t, archived, "")

	assert.NilError(t, store.EnsureDirs("s2"))
	assert.NilError(t, store.RemoveDirs("s2"))
	_, err = os.Stat(store.StudentDir("s2"))
	assert.Assert(t, os.IsNotExist(err))
}
