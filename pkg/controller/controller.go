// Package controller owns the codespace lifecycle: it is the only writer
// of the codespace slice of a student record, and it serializes all
// mutations per student so quota accounting never races.
package controller

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/apikey"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/cluster"
	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/metrics"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
)

type Config struct {
	Image        string
	Ports        []cluster.PortParams
	CPULimit     string
	MemoryLimit  string
	StorageLimit string
	// StudentsDir is the host path of the per-student trees, mounted
	// into codespace containers.
	StudentsDir string
	// WatchConcurrency bounds the fan-out of a watcher sweep.
	WatchConcurrency int
}

type Controller struct {
	store   *store.Store
	cluster cluster.Interface
	codec   *apikey.Codec
	cfg     Config

	locks sync.Map // sid -> *sync.Mutex

	// now is replaceable in tests
	now func() time.Time
}

func New(st *store.Store, cl cluster.Interface, codec *apikey.Codec, cfg Config) *Controller {
	if cfg.WatchConcurrency <= 0 {
		cfg.WatchConcurrency = 8
	}
	return &Controller{
		store:   st,
		cluster: cl,
		codec:   codec,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (c *Controller) lock(sid string) func() {
	v, _ := c.locks.LoadOrStore(sid, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Controller) nowSeconds() float64 {
	return float64(c.now().UnixNano()) / 1e9
}

func jobName(sid string) string {
	return "codespace-" + sid
}

func (c *Controller) buildJobParams(sid string) (*cluster.JobParams, error) {
	token, err := c.codec.Encode(sid)
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	dir := filepath.Join(c.cfg.StudentsDir, sid)
	return &cluster.JobParams{
		Name:   jobName(sid),
		UserID: sid,
		Image:  c.cfg.Image,
		Ports:  c.cfg.Ports,
		Env: map[string]string{
			"PASSWORD":        token,
			"SUDO_PASSWORD":   token,
			"STUDENT_API_KEY": token,
		},
		Resources: cluster.ResourceParams{
			CPU:     c.cfg.CPULimit,
			Memory:  c.cfg.MemoryLimit,
			Storage: c.cfg.StorageLimit,
		},
		Volumes: []cluster.HostVolume{
			{Name: "code", HostPath: filepath.Join(dir, "code"), MountPath: "/code"},
			{Name: "io", HostPath: filepath.Join(dir, "io"), MountPath: "/io"},
			{Name: "root", HostPath: filepath.Join(dir, "root"), MountPath: "/root"},
		},
	}, nil
}

// CreateStudent enrolls a student: record, directory tree and a suspended
// workload, with rollback on any failure so a student never half-exists.
func (c *Controller) CreateStudent(ctx context.Context, stu *store.Student) (err error) {
	defer func() { metrics.RecordOperation("create_student", err) }()
	if err = stu.Validate(); err != nil {
		return err
	}
	unlock := c.lock(stu.SID)
	defer unlock()

	exists, err := c.store.Exists(ctx, stu.SID)
	if err != nil {
		return err
	}
	if exists {
		return commonerrors.NewAlreadyExist("student " + stu.SID + " already exists")
	}
	if err = c.store.EnsureDirs(stu.SID); err != nil {
		return err
	}
	params, err := c.buildJobParams(stu.SID)
	if err != nil {
		return err
	}
	if _, err = c.cluster.Allocate(ctx, params); err != nil {
		if rbErr := c.store.RemoveDirs(stu.SID); rbErr != nil {
			klog.ErrorS(rbErr, "failed to roll back student dirs", "sid", stu.SID)
		}
		return err
	}
	stu.Codespace.Status = store.StatusStopped
	stu.Codespace.URL = ""
	now := c.nowSeconds()
	stu.Codespace.LastStart = now
	stu.Codespace.LastStop = now
	stu.Codespace.LastActive = now
	stu.Codespace.LastWatch = now
	if err = c.store.Create(ctx, stu); err != nil {
		if rbErr := c.cluster.Release(ctx, jobName(stu.SID)); rbErr != nil {
			klog.ErrorS(rbErr, "failed to roll back workload", "sid", stu.SID)
		}
		if rbErr := c.store.RemoveDirs(stu.SID); rbErr != nil {
			klog.ErrorS(rbErr, "failed to roll back student dirs", "sid", stu.SID)
		}
		return err
	}
	klog.InfoS("enrolled student", "sid", stu.SID)
	return nil
}

// DeleteStudent unenrolls a student. The directory tree is archived, not
// deleted; a failing workload release is logged but does not keep the
// record alive, ghosts are swept up by ReconcileOrphans.
func (c *Controller) DeleteStudent(ctx context.Context, sid string) (err error) {
	defer func() { metrics.RecordOperation("delete_student", err) }()
	unlock := c.lock(sid)
	defer unlock()

	if _, err = c.store.Read(ctx, sid); err != nil {
		return err
	}
	archived, err := c.store.ArchiveDirs(sid)
	if err != nil {
		return err
	}
	if archived != "" {
		klog.InfoS("archived student dirs", "sid", sid, "path", archived)
	}
	if relErr := c.cluster.Release(ctx, jobName(sid)); relErr != nil {
		klog.ErrorS(relErr, "failed to release workload on delete", "sid", sid)
	}
	if err = c.store.Delete(ctx, sid); err != nil {
		return err
	}
	klog.InfoS("unenrolled student", "sid", sid)
	return nil
}

// SetTimeQuota updates the quota without touching accumulated usage, so
// an admin can grant more time to an evicted student.
func (c *Controller) SetTimeQuota(ctx context.Context, sid string, quota float64) error {
	if quota < 0 {
		return commonerrors.NewBadRequest("time quota must not be negative")
	}
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return err
	}
	stu.Codespace.TimeQuota = quota
	return c.store.Write(ctx, stu)
}

// KeepAlive records student activity. Purely informational; returns
// false when the codespace is not running.
func (c *Controller) KeepAlive(ctx context.Context, sid string) (bool, error) {
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return false, err
	}
	if stu.Codespace.Status != store.StatusRunning {
		return false, nil
	}
	stu.Codespace.LastActive = c.nowSeconds()
	return true, c.store.Write(ctx, stu)
}

// Logs returns the tail of the codespace container log.
func (c *Controller) Logs(ctx context.Context, sid string, tailLines int64) (string, error) {
	if _, err := c.store.Read(ctx, sid); err != nil {
		return "", err
	}
	return c.cluster.Logs(ctx, jobName(sid), tailLines)
}
