package controller

import (
	"context"
	"math"
	"strings"

	"k8s.io/klog/v2"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/cluster"
	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/metrics"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
)

// Start resumes a student's codespace. Returns false without error when
// it is already running. Quota is checked before any cluster call.
func (c *Controller) Start(ctx context.Context, sid string) (started bool, err error) {
	defer func() { metrics.RecordOperation("start", err) }()
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return false, err
	}
	if stu.Codespace.Status == store.StatusRunning {
		return false, nil
	}
	if quotaExhausted(stu) {
		return false, commonerrors.NewQuotaExhausted(sid)
	}

	stu.Codespace.Status = store.StatusStarting
	stu.Codespace.URL = ""
	if err = c.store.Write(ctx, stu); err != nil {
		return false, err
	}

	params, err := c.buildJobParams(sid)
	if err != nil {
		return false, err
	}
	info, err := c.cluster.Submit(ctx, params)
	if err != nil {
		stu.Codespace.Status = store.StatusStopped
		if wErr := c.store.Write(ctx, stu); wErr != nil {
			klog.ErrorS(wErr, "failed to record start failure", "sid", sid)
		}
		return false, commonerrors.NewStartFailed(sid, err)
	}

	now := c.nowSeconds()
	stu.Codespace.LastStart = now
	stu.Codespace.LastActive = now
	stu.Codespace.LastWatch = now
	if isServiceURL(info.ServiceURL) {
		stu.Codespace.Status = store.StatusRunning
		stu.Codespace.URL = info.ServiceURL
	}
	if err = c.store.Write(ctx, stu); err != nil {
		return false, err
	}
	klog.InfoS("started codespace", "sid", sid, "status", stu.Codespace.Status)
	return true, nil
}

// Stop suspends a student's codespace and settles its usage. Returns
// false without error when it is already stopped.
func (c *Controller) Stop(ctx context.Context, sid string) (stopped bool, err error) {
	defer func() { metrics.RecordOperation("stop", err) }()
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return false, err
	}
	if stu.Codespace.Status == store.StatusStopped {
		return false, nil
	}
	if err = c.settleAndSuspend(ctx, stu); err != nil {
		return false, err
	}
	klog.InfoS("stopped codespace", "sid", sid)
	return true, nil
}

// GetStatus reconciles the persisted status against the cluster and
// returns the result. A stopped record is trusted without a cluster
// round-trip; a vanished workload is projected to stopped.
func (c *Controller) GetStatus(ctx context.Context, sid string) (store.CodespaceStatus, error) {
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return "", err
	}
	return c.reconcileStatus(ctx, stu)
}

// GetURL resolves the access URL. starting reports a codespace that is
// coming up but has no published address yet.
func (c *Controller) GetURL(ctx context.Context, sid string) (url string, starting bool, err error) {
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return "", false, err
	}
	status, err := c.reconcileStatus(ctx, stu)
	if err != nil {
		return "", false, err
	}
	switch status {
	case store.StatusStarting:
		return "", true, nil
	case store.StatusRunning:
		if isServiceURL(stu.Codespace.URL) {
			return stu.Codespace.URL, false, nil
		}
		// running but the load balancer address is not persisted yet
		info, err := c.cluster.Info(ctx, jobName(sid))
		if err != nil {
			return "", false, err
		}
		if isServiceURL(info.ServiceURL) {
			stu.Codespace.URL = info.ServiceURL
			if err := c.store.Write(ctx, stu); err != nil {
				return "", false, err
			}
			return info.ServiceURL, false, nil
		}
		return "", true, nil
	default:
		return "", false, nil
	}
}

// Allocate provisions the suspended workload for an already enrolled
// student, healing a workload that was released out of band.
func (c *Controller) Allocate(ctx context.Context, sid string) error {
	unlock := c.lock(sid)
	defer unlock()

	if _, err := c.store.Read(ctx, sid); err != nil {
		return err
	}
	params, err := c.buildJobParams(sid)
	if err != nil {
		return err
	}
	_, err = c.cluster.Allocate(ctx, params)
	return err
}

func (c *Controller) reconcileStatus(ctx context.Context, stu *store.Student) (store.CodespaceStatus, error) {
	if stu.Codespace.Status == store.StatusStopped {
		return store.StatusStopped, nil
	}
	jobStatus, err := c.cluster.Status(ctx, jobName(stu.SID))
	if err != nil {
		if commonerrors.IsNotFound(err) {
			// the workload vanished underneath us
			stu.Codespace.Status = store.StatusStopped
			stu.Codespace.URL = ""
			if wErr := c.store.Write(ctx, stu); wErr != nil {
				return "", wErr
			}
			return store.StatusStopped, nil
		}
		return "", err
	}

	next := stu.Codespace.Status
	switch jobStatus {
	case cluster.JobRunning:
		next = store.StatusRunning
	case cluster.JobPending:
		next = store.StatusStarting
	case cluster.JobSuspended:
		next = store.StatusStopped
	case cluster.JobFailed:
		next = store.StatusFailed
	}
	if next != stu.Codespace.Status {
		stu.Codespace.Status = next
		if next != store.StatusRunning {
			stu.Codespace.URL = ""
		}
		if err := c.store.Write(ctx, stu); err != nil {
			return "", err
		}
	}
	return next, nil
}

// settleAndSuspend suspends the workload and folds the elapsed running
// time into time_used. The record is driven to stopped even when the
// suspend fails, so a flaky cluster cannot leave a phantom running
// record behind; the failure surfaces after the write. The caller holds
// the student lock.
func (c *Controller) settleAndSuspend(ctx context.Context, stu *store.Student) error {
	suspendErr := c.cluster.Suspend(ctx, jobName(stu.SID))
	if commonerrors.IsNotFound(suspendErr) {
		suspendErr = nil
	}
	now := c.nowSeconds()
	if stu.Codespace.Status == store.StatusRunning || stu.Codespace.Status == store.StatusStarting {
		base := math.Max(stu.Codespace.LastStart, stu.Codespace.LastWatch)
		if base > 0 && now > base {
			stu.Codespace.TimeUsed += now - base
		}
	}
	stu.Codespace.Status = store.StatusStopped
	stu.Codespace.URL = ""
	stu.Codespace.LastStop = now
	if err := c.store.Write(ctx, stu); err != nil {
		if suspendErr != nil {
			return commonerrors.NewStopFailed(stu.SID, suspendErr)
		}
		return err
	}
	if suspendErr != nil {
		return commonerrors.NewStopFailed(stu.SID, suspendErr)
	}
	return nil
}

func quotaExhausted(stu *store.Student) bool {
	return stu.Codespace.TimeQuota > 0 && stu.Codespace.TimeUsed >= stu.Codespace.TimeQuota
}

func isServiceURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
