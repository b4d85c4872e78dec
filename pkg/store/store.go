// Package store persists student records as Redis hashes, one key per
// student id, and owns the on-disk directory tree handed to codespace
// containers. The admin API key lives in a separate logical database so
// that flushing student state cannot lock the administrator out.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

const (
	adminAPIKeyKey    = "admin-api-key"
	MaxAdminAPIKeyLen = 32

	fieldPwdHash    = "pwd_hash"
	fieldName       = "user_info.name"
	fieldMail       = "user_info.mail"
	fieldStatus     = "codespace.status"
	fieldURL        = "codespace.url"
	fieldTimeQuota  = "codespace.time_quota"
	fieldTimeUsed   = "codespace.time_used"
	fieldLastStart  = "codespace.last_start"
	fieldLastStop   = "codespace.last_stop"
	fieldLastActive = "codespace.last_active"
	fieldLastWatch  = "codespace.last_watch"
)

type Options struct {
	Network            string
	Addr               string
	StudentsDir        string
	ArchiveDir         string
	DefaultAdminAPIKey string
}

type Store struct {
	students *redis.Client
	system   *redis.Client
	opts     Options
}

func New(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.StudentsDir, 0o777); err != nil {
		return nil, fmt.Errorf("failed to create students dir: %w", err)
	}
	if err := os.MkdirAll(opts.ArchiveDir, 0o777); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &Store{
		system: redis.NewClient(&redis.Options{
			Network: opts.Network,
			Addr:    opts.Addr,
			DB:      0,
		}),
		students: redis.NewClient(&redis.Options{
			Network: opts.Network,
			Addr:    opts.Addr,
			DB:      1,
		}),
		opts: opts,
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.system.Ping(ctx).Err(); err != nil {
		return err
	}
	return s.students.Ping(ctx).Err()
}

func (s *Store) Close() error {
	err := s.system.Close()
	if err2 := s.students.Close(); err == nil {
		err = err2
	}
	return err
}

func (s *Store) Exists(ctx context.Context, sid string) (bool, error) {
	n, err := s.students.Exists(ctx, sid).Result()
	if err != nil {
		return false, commonerrors.NewInternalError(err.Error())
	}
	return n > 0, nil
}

func (s *Store) Read(ctx context.Context, sid string) (*Student, error) {
	fields, err := s.students.HGetAll(ctx, sid).Result()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	// a record without a password verifier is no record at all
	if fields[fieldPwdHash] == "" {
		return nil, commonerrors.NewNotFound("student", sid)
	}
	return decodeStudent(sid, fields), nil
}

func (s *Store) Write(ctx context.Context, stu *Student) error {
	if err := s.students.HSet(ctx, stu.SID, encodeStudent(stu)).Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

func (s *Store) Create(ctx context.Context, stu *Student) error {
	if err := stu.Validate(); err != nil {
		return err
	}
	exists, err := s.Exists(ctx, stu.SID)
	if err != nil {
		return err
	}
	if exists {
		return commonerrors.NewAlreadyExist(fmt.Sprintf("student %s already exists", stu.SID))
	}
	return s.Write(ctx, stu)
}

func (s *Store) Delete(ctx context.Context, sid string) error {
	if err := s.students.Del(ctx, sid).Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

// ForEachStudent walks every record. Records that fail to load are
// skipped with a log line so one corrupt entry cannot stall a sweep; an
// error from fn aborts the walk.
func (s *Store) ForEachStudent(ctx context.Context, fn func(*Student) error) error {
	iter := s.students.Scan(ctx, 0, "*", 100).Iterator()
	for iter.Next(ctx) {
		sid := iter.Val()
		stu, err := s.Read(ctx, sid)
		if err != nil {
			klog.ErrorS(err, "skipping unreadable student record", "sid", sid)
			continue
		}
		if err := fn(stu); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.students.Scan(ctx, 0, "*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	return ids, nil
}

// AdminAPIKey returns the stored key, falling back to the configured
// default when none has been set yet.
func (s *Store) AdminAPIKey(ctx context.Context) (string, error) {
	key, err := s.system.Get(ctx, adminAPIKeyKey).Result()
	if errors.Is(err, redis.Nil) {
		return s.opts.DefaultAdminAPIKey, nil
	}
	if err != nil {
		return "", commonerrors.NewInternalError(err.Error())
	}
	return key, nil
}

func (s *Store) SetAdminAPIKey(ctx context.Context, key string) error {
	if len(key) > MaxAdminAPIKeyLen {
		return commonerrors.NewRequestEntityTooLargeError(
			fmt.Sprintf("admin api key exceeds %d bytes", MaxAdminAPIKeyLen))
	}
	if err := s.system.Set(ctx, adminAPIKeyKey, key, 0).Err(); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

func (s *Store) StudentDir(sid string) string {
	return filepath.Join(s.opts.StudentsDir, sid)
}

// EnsureDirs creates the per-student tree mounted into the codespace
// container: code, io and root.
func (s *Store) EnsureDirs(sid string) error {
	for _, sub := range []string{"code", "io", "root"} {
		if err := os.MkdirAll(filepath.Join(s.StudentDir(sid), sub), 0o777); err != nil {
			return commonerrors.NewInternalError(err.Error())
		}
	}
	return nil
}

func (s *Store) RemoveDirs(sid string) error {
	if err := os.RemoveAll(s.StudentDir(sid)); err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	return nil
}

// ArchiveDirs moves the student tree into the archive dir instead of
// deleting it, so course material survives unenrollment. Returns the
// archive path, or "" when there was nothing to move.
func (s *Store) ArchiveDirs(sid string) (string, error) {
	src := s.StudentDir(sid)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", nil
	}
	dst := filepath.Join(s.opts.ArchiveDir,
		fmt.Sprintf("%s_%s", sid, time.Now().Format("20060102T150405")))
	if err := os.Rename(src, dst); err != nil {
		return "", commonerrors.NewInternalError(err.Error())
	}
	return dst, nil
}

func encodeStudent(stu *Student) map[string]interface{} {
	return map[string]interface{}{
		fieldPwdHash:    stu.PwdHash,
		fieldName:       stu.UserInfo.Name,
		fieldMail:       stu.UserInfo.Mail,
		fieldStatus:     string(stu.Codespace.Status),
		fieldURL:        stu.Codespace.URL,
		fieldTimeQuota:  formatSeconds(stu.Codespace.TimeQuota),
		fieldTimeUsed:   formatSeconds(stu.Codespace.TimeUsed),
		fieldLastStart:  formatSeconds(stu.Codespace.LastStart),
		fieldLastStop:   formatSeconds(stu.Codespace.LastStop),
		fieldLastActive: formatSeconds(stu.Codespace.LastActive),
		fieldLastWatch:  formatSeconds(stu.Codespace.LastWatch),
	}
}

func decodeStudent(sid string, fields map[string]string) *Student {
	status := CodespaceStatus(fields[fieldStatus])
	if status == "" {
		status = StatusStopped
	}
	return &Student{
		SID:     sid,
		PwdHash: fields[fieldPwdHash],
		UserInfo: UserInfo{
			Name: fields[fieldName],
			Mail: fields[fieldMail],
		},
		Codespace: CodespaceInfo{
			Status:     status,
			URL:        fields[fieldURL],
			TimeQuota:  parseSeconds(fields[fieldTimeQuota]),
			TimeUsed:   parseSeconds(fields[fieldTimeUsed]),
			LastStart:  parseSeconds(fields[fieldLastStart]),
			LastStop:   parseSeconds(fields[fieldLastStop]),
			LastActive: parseSeconds(fields[fieldLastActive]),
			LastWatch:  parseSeconds(fields[fieldLastWatch]),
		},
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseSeconds(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}
