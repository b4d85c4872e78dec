package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

const testNamespace = "default"

func newTestKubernetes() (*Kubernetes, *fake.Clientset) {
	clientset := fake.NewSimpleClientset()
	return NewKubernetesWithClient(clientset, testNamespace, 0), clientset
}

func testJobParams(sid string) *JobParams {
	return &JobParams{
		Name:   "codespace-" + sid,
		UserID: sid,
		Image:  "registry.yatcc-se.io/codespace:latest",
		Ports: []PortParams{
			{Name: "http", Port: 80, TargetPort: 443},
			{Name: "vnc", Port: 5900, TargetPort: 5900},
			{Name: "ssh", Port: 22, TargetPort: 22},
		},
		Env: map[string]string{
			"PASSWORD":        "pwd",
			"STUDENT_API_KEY": "token",
		},
		Resources: ResourceParams{CPU: "500m", Memory: "1Gi", Storage: "5Gi"},
		Volumes: []HostVolume{
			{Name: "code", HostPath: "/srv/students/s1/code", MountPath: "/code"},
		},
	}
}

func TestAllocateCreatesSuspendedWorkload(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	info, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, JobSuspended, info.Status)
	assert.Equal(t, ServiceURLPending, info.ServiceURL)

	dep, err := clientset.AppsV1().Deployments(testNamespace).Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *dep.Spec.Replicas)
	assert.Equal(t, "true", dep.Annotations[SuspendedAnnotation])
	assert.Equal(t, "1", dep.Annotations[OriginalReplicasAnnotation])
	assert.Equal(t, ManagedByValue, dep.Labels[ManagedByLabel])
	assert.Equal(t, TypeValue, dep.Labels[TypeLabel])
	assert.Equal(t, "s1", dep.Labels[UserIDLabel])
	assert.Equal(t, params.Name, dep.Spec.Template.Labels[AppLabel])

	svc, err := clientset.CoreV1().Services(testNamespace).Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, corev1.ServiceTypeLoadBalancer, svc.Spec.Type)
	require.Len(t, svc.Spec.Ports, 3)
	assert.Equal(t, int32(80), svc.Spec.Ports[0].Port)
}

func TestAllocateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	first, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)
	second, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	deps, err := clientset.AppsV1().Deployments(testNamespace).List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, deps.Items, 1)
}

func TestSubmitResumesWorkload(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	_, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)

	params.Env["PASSWORD"] = "rotated"
	_, err = cluster.Submit(ctx, params)
	require.NoError(t, err)

	dep, err := clientset.AppsV1().Deployments(testNamespace).Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *dep.Spec.Replicas)
	_, suspended := dep.Annotations[SuspendedAnnotation]
	assert.False(t, suspended)

	env := map[string]string{}
	for _, v := range dep.Spec.Template.Spec.Containers[0].Env {
		env[v.Name] = v.Value
	}
	assert.Equal(t, "rotated", env["PASSWORD"])
}

func TestSubmitRestoresRecordedReplicas(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	_, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)

	deployments := clientset.AppsV1().Deployments(testNamespace)
	dep, err := deployments.Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	dep.Annotations[OriginalReplicasAnnotation] = "2"
	_, err = deployments.Update(ctx, dep, metav1.UpdateOptions{})
	require.NoError(t, err)

	_, err = cluster.Submit(ctx, params)
	require.NoError(t, err)
	dep, err = deployments.Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), *dep.Spec.Replicas)
}

func TestSuspendScalesToZero(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	_, err := cluster.Submit(ctx, params)
	require.NoError(t, err)
	require.NoError(t, cluster.Suspend(ctx, params.Name))

	dep, err := clientset.AppsV1().Deployments(testNamespace).Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *dep.Spec.Replicas)
	assert.Equal(t, "true", dep.Annotations[SuspendedAnnotation])
	assert.Equal(t, "1", dep.Annotations[OriginalReplicasAnnotation])

	// suspending again is a no-op
	require.NoError(t, cluster.Suspend(ctx, params.Name))
}

func TestSuspendMissingWorkload(t *testing.T) {
	cluster, _ := newTestKubernetes()
	err := cluster.Suspend(context.Background(), "codespace-gone")
	assert.True(t, commonerrors.IsNotFound(err))
}

func TestStatusMapping(t *testing.T) {
	testCases := []struct {
		name        string
		replicas    int32
		ready       int32
		unavailable int32
		want        JobStatus
	}{
		{name: "running", replicas: 1, ready: 1, unavailable: 0, want: JobRunning},
		{name: "failed", replicas: 1, ready: 0, unavailable: 1, want: JobFailed},
		{name: "suspended", replicas: 0, ready: 0, unavailable: 0, want: JobSuspended},
		{name: "pending", replicas: 1, ready: 0, unavailable: 0, want: JobPending},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			dep := &appsv1.Deployment{
				Spec: appsv1.DeploymentSpec{Replicas: ptr.To(test.replicas)},
				Status: appsv1.DeploymentStatus{
					ReadyReplicas:       test.ready,
					UnavailableReplicas: test.unavailable,
				},
			}
			assert.Equal(t, test.want, deploymentStatus(dep))
		})
	}
}

func TestStatusMissingWorkload(t *testing.T) {
	cluster, _ := newTestKubernetes()
	_, err := cluster.Status(context.Background(), "codespace-gone")
	assert.True(t, commonerrors.IsNotFound(err))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	_, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)
	require.NoError(t, cluster.Release(ctx, params.Name))
	require.NoError(t, cluster.Release(ctx, params.Name))

	_, err = clientset.AppsV1().Deployments(testNamespace).Get(ctx, params.Name, metav1.GetOptions{})
	assert.Error(t, err)
}

func TestInfoPublishesLoadBalancerURL(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	_, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)

	info, err := cluster.Info(ctx, params.Name)
	require.NoError(t, err)
	assert.Equal(t, ServiceURLPending, info.ServiceURL)

	services := clientset.CoreV1().Services(testNamespace)
	svc, err := services.Get(ctx, params.Name, metav1.GetOptions{})
	require.NoError(t, err)
	svc.Status.LoadBalancer.Ingress = []corev1.LoadBalancerIngress{{IP: "10.0.0.8"}}
	_, err = services.UpdateStatus(ctx, svc, metav1.UpdateOptions{})
	require.NoError(t, err)

	info, err = cluster.Info(ctx, params.Name)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.8", info.ServiceURL)
}

func TestListFiltersManagedWorkloads(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()

	_, err := cluster.Allocate(ctx, testJobParams("s1"))
	require.NoError(t, err)
	_, err = cluster.Allocate(ctx, testJobParams("s2"))
	require.NoError(t, err)

	// a foreign deployment in the same namespace must not show up
	foreign := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: testNamespace},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "c", Image: "busybox"}}},
			},
		},
	}
	_, err = clientset.AppsV1().Deployments(testNamespace).Create(ctx, foreign, metav1.CreateOptions{})
	require.NoError(t, err)

	infos, err := cluster.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	users := map[string]bool{}
	for _, info := range infos {
		users[info.UserID] = true
	}
	assert.True(t, users["s1"] && users["s2"])
}

func TestLogs(t *testing.T) {
	ctx := context.Background()
	cluster, clientset := newTestKubernetes()
	params := testJobParams("s1")

	_, err := cluster.Allocate(ctx, params)
	require.NoError(t, err)

	_, err = cluster.Logs(ctx, params.Name, 100)
	assert.True(t, commonerrors.IsNotFound(err))

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.Name + "-abc",
			Namespace: testNamespace,
			Labels:    map[string]string{AppLabel: params.Name},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	_, err = clientset.CoreV1().Pods(testNamespace).Create(ctx, pod, metav1.CreateOptions{})
	require.NoError(t, err)

	logs, err := cluster.Logs(ctx, params.Name, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestOpCtxTimeout(t *testing.T) {
	cluster, _ := newTestKubernetes()
	cluster.timeout = time.Second
	ctx, cancel := cluster.opCtx(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.True(t, time.Until(deadline) <= time.Second)
}
