// Package cluster abstracts the orchestrator that hosts codespace
// workloads. The Kubernetes backend models a codespace as one Deployment
// plus one LoadBalancer Service; suspension keeps both objects alive with
// the Deployment scaled to zero. The mock backend serves tests and local
// development.
package cluster

import (
	"context"
	"time"
)

const (
	ManagedByLabel = "managed-by"
	ManagedByValue = "yatcc-se"
	UserIDLabel    = "user-id"
	TypeLabel      = "type"
	TypeValue      = "codespace"
	AppLabel       = "app"

	SuspendedAnnotation        = "yatcc-se/suspended"
	OriginalReplicasAnnotation = "yatcc-se/original-replicas"

	// ServiceURLPending marks a workload whose load balancer has not
	// published an ingress address yet.
	ServiceURLPending = "pending"
)

type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobFailed    JobStatus = "Failed"
	JobSuspended JobStatus = "Suspended"
)

type PortParams struct {
	Name       string
	Port       int32
	TargetPort int32
}

type ResourceParams struct {
	CPU     string
	Memory  string
	Storage string
}

type HostVolume struct {
	Name      string
	HostPath  string
	MountPath string
}

// JobParams fully describes a codespace workload. Name doubles as the
// workload identity: every operation addresses the job by it.
type JobParams struct {
	Name      string
	UserID    string
	Image     string
	Ports     []PortParams
	Env       map[string]string
	Resources ResourceParams
	Volumes   []HostVolume
}

type JobInfo struct {
	ID         string
	Name       string
	UserID     string
	Image      string
	Status     JobStatus
	ServiceURL string
	CreatedAt  time.Time
}

type Interface interface {
	// Allocate creates the workload in suspended form, or returns the
	// existing one. It never starts containers.
	Allocate(ctx context.Context, params *JobParams) (*JobInfo, error)
	// Submit resumes a (possibly just allocated) workload and refreshes
	// its environment and resource limits from params.
	Submit(ctx context.Context, params *JobParams) (*JobInfo, error)
	Status(ctx context.Context, name string) (JobStatus, error)
	Info(ctx context.Context, name string) (*JobInfo, error)
	Suspend(ctx context.Context, name string) error
	// Release deletes the workload and its service. Deleting an absent
	// workload is a success.
	Release(ctx context.Context, name string) error
	Logs(ctx context.Context, name string, tailLines int64) (string, error)
	List(ctx context.Context) ([]*JobInfo, error)
}

type Config struct {
	Mock       bool
	Kubeconfig string
	Namespace  string
	Timeout    time.Duration
}

func New(cfg Config) (Interface, error) {
	if cfg.Mock {
		return NewMock(), nil
	}
	return NewKubernetes(cfg.Kubeconfig, cfg.Namespace, cfg.Timeout)
}
