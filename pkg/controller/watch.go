package controller

import (
	"context"
	"math"
	"time"

	"k8s.io/klog/v2"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/concurrent"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/metrics"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
)

// Tick charges one student's elapsed running time and evicts the
// codespace when the quota runs out. The watcher is the only writer of
// last_watch, so usage between two ticks is exactly now - max(last_start,
// last_watch) and no interval is ever double-charged.
func (c *Controller) Tick(ctx context.Context, sid string) error {
	unlock := c.lock(sid)
	defer unlock()

	stu, err := c.store.Read(ctx, sid)
	if err != nil {
		return err
	}
	status, err := c.reconcileStatus(ctx, stu)
	if err != nil {
		return err
	}
	if status != store.StatusRunning {
		return nil
	}

	now := c.nowSeconds()
	base := math.Max(stu.Codespace.LastStart, stu.Codespace.LastWatch)
	if base > 0 && now > base {
		stu.Codespace.TimeUsed += now - base
	}
	stu.Codespace.LastWatch = now

	if quotaExhausted(stu) {
		if err := c.settleAndSuspend(ctx, stu); err != nil {
			return err
		}
		metrics.RecordEviction()
		klog.InfoS("evicted codespace, quota exhausted", "sid", sid,
			"timeUsed", stu.Codespace.TimeUsed, "timeQuota", stu.Codespace.TimeQuota)
		return nil
	}
	return c.store.Write(ctx, stu)
}

// WatchAll runs one accounting sweep over every student. Per-student
// failures are logged and do not stop the sweep.
func (c *Controller) WatchAll(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	ids, err := c.store.AllIDs(ctx)
	if err != nil {
		return err
	}
	metrics.SetStudentsTotal(len(ids))
	if len(ids) == 0 {
		return nil
	}

	ch := make(chan string, len(ids))
	for _, sid := range ids {
		ch <- sid
	}
	close(ch)

	workers := c.cfg.WatchConcurrency
	if workers > len(ids) {
		workers = len(ids)
	}
	_, err = concurrent.Exec(workers, func() error {
		for sid := range ch {
			if err := c.Tick(ctx, sid); err != nil {
				klog.ErrorS(err, "watch tick failed", "sid", sid)
			}
		}
		return nil
	})
	return err
}

// ReconcileOrphans releases workloads that no student record references,
// typically left behind by a delete whose release failed.
func (c *Controller) ReconcileOrphans(ctx context.Context) error {
	infos, err := c.cluster.List(ctx)
	if err != nil {
		return err
	}
	ids, err := c.store.AllIDs(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(ids))
	for _, sid := range ids {
		known[sid] = true
	}
	for _, info := range infos {
		if info.UserID != "" && known[info.UserID] {
			continue
		}
		klog.InfoS("releasing orphan workload", "name", info.Name, "userID", info.UserID)
		if err := c.cluster.Release(ctx, info.Name); err != nil {
			klog.ErrorS(err, "failed to release orphan workload", "name", info.Name)
		}
	}
	return nil
}
