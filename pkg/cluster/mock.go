package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

// Mock keeps workloads in memory. Submit publishes the service URL
// immediately, so lifecycle flows can be exercised without a cluster.
type Mock struct {
	mu   sync.Mutex
	jobs map[string]*mockJob
}

type mockJob struct {
	info   JobInfo
	params JobParams
}

func NewMock() *Mock {
	return &Mock{jobs: make(map[string]*mockJob)}
}

func (m *Mock) Allocate(_ context.Context, params *JobParams) (*JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[params.Name]; ok {
		return copyInfo(&job.info), nil
	}
	job := &mockJob{
		info: JobInfo{
			ID:         "mock-" + params.Name,
			Name:       params.Name,
			UserID:     params.UserID,
			Image:      params.Image,
			Status:     JobSuspended,
			ServiceURL: ServiceURLPending,
			CreatedAt:  time.Now(),
		},
		params: *params,
	}
	m.jobs[params.Name] = job
	return copyInfo(&job.info), nil
}

func (m *Mock) Submit(ctx context.Context, params *JobParams) (*JobInfo, error) {
	if _, err := m.Allocate(ctx, params); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[params.Name]
	job.params = *params
	job.info.Status = JobRunning
	job.info.ServiceURL = fmt.Sprintf("http://%s.mock.local", params.Name)
	return copyInfo(&job.info), nil
}

func (m *Mock) Status(_ context.Context, name string) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return "", commonerrors.NewNotFound("codespace", name)
	}
	return job.info.Status, nil
}

func (m *Mock) Info(_ context.Context, name string) (*JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return nil, commonerrors.NewNotFound("codespace", name)
	}
	return copyInfo(&job.info), nil
}

func (m *Mock) Suspend(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return commonerrors.NewNotFound("codespace", name)
	}
	job.info.Status = JobSuspended
	job.info.ServiceURL = ServiceURLPending
	return nil
}

func (m *Mock) Release(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, name)
	return nil
}

func (m *Mock) Logs(_ context.Context, name string, tailLines int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return "", commonerrors.NewNotFound("codespace pod", name)
	}
	lines := []string{
		fmt.Sprintf("codespace %s booted", job.info.Name),
		fmt.Sprintf("serving on %s", job.info.ServiceURL),
	}
	if tailLines > 0 && int(tailLines) < len(lines) {
		lines = lines[len(lines)-int(tailLines):]
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func (m *Mock) List(_ context.Context) ([]*JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]*JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		infos = append(infos, copyInfo(&job.info))
	}
	return infos, nil
}

// SetStatus overrides a job's observed status, used by tests to drive
// failure and pending paths.
func (m *Mock) SetStatus(name string, status JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[name]; ok {
		job.info.Status = status
	}
}

// SetServiceURL overrides a job's published URL.
func (m *Mock) SetServiceURL(name, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[name]; ok {
		job.info.ServiceURL = url
	}
}

func copyInfo(info *JobInfo) *JobInfo {
	clone := *info
	return &clone
}
