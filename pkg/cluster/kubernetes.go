package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/backoff"
	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

const (
	containerName        = "codespace"
	conflictRetryCount   = 3
	conflictRetryBackoff = 200 * time.Millisecond
)

type Kubernetes struct {
	clientset kubernetes.Interface
	namespace string
	timeout   time.Duration
}

func NewKubernetes(kubeconfig, namespace string, timeout time.Duration) (*Kubernetes, error) {
	restCfg, err := buildRestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, err
	}
	return NewKubernetesWithClient(clientset, namespace, timeout), nil
}

// NewKubernetesWithClient wires an existing clientset, used by tests with
// the fake clientset.
func NewKubernetesWithClient(clientset kubernetes.Interface, namespace string, timeout time.Duration) *Kubernetes {
	return &Kubernetes{
		clientset: clientset,
		namespace: namespace,
		timeout:   timeout,
	}
}

func (c *Kubernetes) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Kubernetes) Allocate(ctx context.Context, params *JobParams) (*JobInfo, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	deployments := c.clientset.AppsV1().Deployments(c.namespace)
	dep, err := deployments.Get(ctx, params.Name, metav1.GetOptions{})
	if err == nil {
		return c.buildInfo(ctx, dep), nil
	}
	if !k8serrors.IsNotFound(err) {
		return nil, commonerrors.NewClusterError(err.Error())
	}

	want, err := c.buildDeployment(params)
	if err != nil {
		return nil, err
	}
	dep, err = deployments.Create(ctx, want, metav1.CreateOptions{})
	if k8serrors.IsAlreadyExists(err) {
		// lost a concurrent allocate, adopt the winner
		dep, err = deployments.Get(ctx, params.Name, metav1.GetOptions{})
	}
	if err != nil {
		return nil, commonerrors.NewClusterError(err.Error())
	}

	_, err = c.clientset.CoreV1().Services(c.namespace).Create(ctx, buildService(params), metav1.CreateOptions{})
	if err != nil && !k8serrors.IsAlreadyExists(err) {
		if delErr := deployments.Delete(ctx, params.Name, metav1.DeleteOptions{}); delErr != nil && !k8serrors.IsNotFound(delErr) {
			klog.ErrorS(delErr, "failed to roll back deployment after service create failure", "name", params.Name)
		}
		return nil, commonerrors.NewClusterError(err.Error())
	}
	return c.buildInfo(ctx, dep), nil
}

func (c *Kubernetes) Submit(ctx context.Context, params *JobParams) (*JobInfo, error) {
	if _, err := c.Allocate(ctx, params); err != nil {
		return nil, err
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	deployments := c.clientset.AppsV1().Deployments(c.namespace)
	err := backoff.ConflictRetry(func() error {
		dep, err := deployments.Get(ctx, params.Name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		replicas := originalReplicas(dep)
		dep.Spec.Replicas = &replicas
		delete(dep.Annotations, SuspendedAnnotation)
		delete(dep.Annotations, OriginalReplicasAnnotation)
		if err := refreshContainer(dep, params); err != nil {
			return err
		}
		_, err = deployments.Update(ctx, dep, metav1.UpdateOptions{})
		return err
	}, conflictRetryCount, conflictRetryBackoff)
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return nil, commonerrors.NewNotFound("codespace", params.Name)
		}
		if commonerrors.IsYatcc(err) {
			return nil, err
		}
		return nil, commonerrors.NewClusterError(err.Error())
	}
	return c.Info(ctx, params.Name)
}

func (c *Kubernetes) Status(ctx context.Context, name string) (JobStatus, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	dep, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return "", commonerrors.NewNotFound("codespace", name)
		}
		return "", commonerrors.NewClusterError(err.Error())
	}
	return deploymentStatus(dep), nil
}

func (c *Kubernetes) Info(ctx context.Context, name string) (*JobInfo, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	dep, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return nil, commonerrors.NewNotFound("codespace", name)
		}
		return nil, commonerrors.NewClusterError(err.Error())
	}
	return c.buildInfo(ctx, dep), nil
}

func (c *Kubernetes) Suspend(ctx context.Context, name string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	deployments := c.clientset.AppsV1().Deployments(c.namespace)
	err := backoff.ConflictRetry(func() error {
		dep, err := deployments.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if dep.Spec.Replicas != nil && *dep.Spec.Replicas == 0 {
			return nil
		}
		original := int32(1)
		if dep.Spec.Replicas != nil && *dep.Spec.Replicas > 0 {
			original = *dep.Spec.Replicas
		}
		if dep.Annotations == nil {
			dep.Annotations = map[string]string{}
		}
		dep.Annotations[SuspendedAnnotation] = "true"
		dep.Annotations[OriginalReplicasAnnotation] = strconv.Itoa(int(original))
		dep.Spec.Replicas = ptr.To(int32(0))
		_, err = deployments.Update(ctx, dep, metav1.UpdateOptions{})
		return err
	}, conflictRetryCount, conflictRetryBackoff)
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return commonerrors.NewNotFound("codespace", name)
		}
		return commonerrors.NewClusterError(err.Error())
	}
	return nil
}

func (c *Kubernetes) Release(ctx context.Context, name string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	err := c.clientset.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return commonerrors.NewClusterError(err.Error())
	}
	err = c.clientset.CoreV1().Services(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return commonerrors.NewClusterError(err.Error())
	}
	return nil
}

func (c *Kubernetes) Logs(ctx context.Context, name string, tailLines int64) (string, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: AppLabel + "=" + name,
	})
	if err != nil {
		return "", commonerrors.NewClusterError(err.Error())
	}
	if len(pods.Items) == 0 {
		return "", commonerrors.NewNotFound("codespace pod", name)
	}
	pod := pickPod(pods.Items)
	opts := &corev1.PodLogOptions{Container: containerName}
	if tailLines > 0 {
		opts.TailLines = &tailLines
	}
	raw, err := c.clientset.CoreV1().Pods(c.namespace).GetLogs(pod.Name, opts).Do(ctx).Raw()
	if err != nil {
		return "", commonerrors.NewClusterError(err.Error())
	}
	return string(raw), nil
}

func (c *Kubernetes) List(ctx context.Context) ([]*JobInfo, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	deps, err := c.clientset.AppsV1().Deployments(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s,%s=%s", ManagedByLabel, ManagedByValue, TypeLabel, TypeValue),
	})
	if err != nil {
		return nil, commonerrors.NewClusterError(err.Error())
	}
	infos := make([]*JobInfo, 0, len(deps.Items))
	for i := range deps.Items {
		dep := &deps.Items[i]
		infos = append(infos, &JobInfo{
			ID:        workloadID(dep),
			Name:      dep.Name,
			UserID:    dep.Labels[UserIDLabel],
			Image:     containerImage(dep),
			Status:    deploymentStatus(dep),
			CreatedAt: dep.CreationTimestamp.Time,
		})
	}
	return infos, nil
}

func (c *Kubernetes) buildInfo(ctx context.Context, dep *appsv1.Deployment) *JobInfo {
	info := &JobInfo{
		ID:         workloadID(dep),
		Name:       dep.Name,
		UserID:     dep.Labels[UserIDLabel],
		Image:      containerImage(dep),
		Status:     deploymentStatus(dep),
		ServiceURL: ServiceURLPending,
		CreatedAt:  dep.CreationTimestamp.Time,
	}
	svc, err := c.clientset.CoreV1().Services(c.namespace).Get(ctx, dep.Name, metav1.GetOptions{})
	if err != nil {
		if !k8serrors.IsNotFound(err) {
			klog.ErrorS(err, "failed to get codespace service", "name", dep.Name)
		}
		return info
	}
	if url := serviceURL(svc); url != "" {
		info.ServiceURL = url
	}
	return info
}

func (c *Kubernetes) buildDeployment(params *JobParams) (*appsv1.Deployment, error) {
	limits := corev1.ResourceList{}
	for name, value := range map[corev1.ResourceName]string{
		corev1.ResourceCPU:              params.Resources.CPU,
		corev1.ResourceMemory:           params.Resources.Memory,
		corev1.ResourceEphemeralStorage: params.Resources.Storage,
	} {
		if value == "" {
			continue
		}
		quantity, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, commonerrors.NewBadRequest(fmt.Sprintf("invalid %s limit %q: %v", name, value, err))
		}
		limits[name] = quantity
	}

	container := corev1.Container{
		Name:  containerName,
		Image: params.Image,
		Env:   buildEnv(params.Env),
		Resources: corev1.ResourceRequirements{
			Limits: limits,
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("250m"),
				corev1.ResourceMemory: resource.MustParse("256Mi"),
			},
		},
	}
	for _, port := range params.Ports {
		container.Ports = append(container.Ports, corev1.ContainerPort{
			Name:          port.Name,
			ContainerPort: port.TargetPort,
			Protocol:      corev1.ProtocolTCP,
		})
	}
	if len(params.Ports) > 0 {
		container.ReadinessProbe = &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromInt32(params.Ports[0].TargetPort),
				},
			},
			InitialDelaySeconds: 5,
			PeriodSeconds:       10,
		}
	}

	var volumes []corev1.Volume
	for _, vol := range params.Volumes {
		volumes = append(volumes, corev1.Volume{
			Name: vol.Name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{
					Path: vol.HostPath,
					Type: ptr.To(corev1.HostPathDirectoryOrCreate),
				},
			},
		})
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      vol.Name,
			MountPath: vol.MountPath,
		})
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.Name,
			Namespace: c.namespace,
			Labels:    managedLabels(params),
			Annotations: map[string]string{
				SuspendedAnnotation:        "true",
				OriginalReplicasAnnotation: "1",
			},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(0)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{AppLabel: params.Name},
			},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RecreateDeploymentStrategyType,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: podLabels(params),
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}, nil
}

func buildService(params *JobParams) *corev1.Service {
	var ports []corev1.ServicePort
	for _, port := range params.Ports {
		ports = append(ports, corev1.ServicePort{
			Name:       port.Name,
			Port:       port.Port,
			TargetPort: intstr.FromInt32(port.TargetPort),
			Protocol:   corev1.ProtocolTCP,
		})
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   params.Name,
			Labels: managedLabels(params),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeLoadBalancer,
			Selector: map[string]string{AppLabel: params.Name},
			Ports:    ports,
		},
	}
}

func managedLabels(params *JobParams) map[string]string {
	return map[string]string{
		ManagedByLabel: ManagedByValue,
		TypeLabel:      TypeValue,
		UserIDLabel:    params.UserID,
	}
}

func podLabels(params *JobParams) map[string]string {
	labels := managedLabels(params)
	labels[AppLabel] = params.Name
	return labels
}

func buildEnv(env map[string]string) []corev1.EnvVar {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	vars := make([]corev1.EnvVar, 0, len(keys))
	for _, key := range keys {
		vars = append(vars, corev1.EnvVar{Name: key, Value: env[key]})
	}
	return vars
}

func refreshContainer(dep *appsv1.Deployment, params *JobParams) error {
	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return commonerrors.NewInternalError(fmt.Sprintf("deployment %s has no containers", dep.Name))
	}
	containers[0].Env = buildEnv(params.Env)
	for name, value := range map[corev1.ResourceName]string{
		corev1.ResourceCPU:              params.Resources.CPU,
		corev1.ResourceMemory:           params.Resources.Memory,
		corev1.ResourceEphemeralStorage: params.Resources.Storage,
	} {
		if value == "" {
			continue
		}
		quantity, err := resource.ParseQuantity(value)
		if err != nil {
			return commonerrors.NewBadRequest(fmt.Sprintf("invalid %s limit %q: %v", name, value, err))
		}
		if containers[0].Resources.Limits == nil {
			containers[0].Resources.Limits = corev1.ResourceList{}
		}
		containers[0].Resources.Limits[name] = quantity
	}
	return nil
}

func originalReplicas(dep *appsv1.Deployment) int32 {
	if raw, ok := dep.Annotations[OriginalReplicasAnnotation]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return int32(n)
		}
	}
	return 1
}

func deploymentStatus(dep *appsv1.Deployment) JobStatus {
	switch {
	case dep.Status.ReadyReplicas >= 1:
		return JobRunning
	case dep.Status.UnavailableReplicas > 0:
		return JobFailed
	case dep.Spec.Replicas != nil && *dep.Spec.Replicas == 0:
		return JobSuspended
	default:
		return JobPending
	}
}

func workloadID(dep *appsv1.Deployment) string {
	if dep.UID != "" {
		return string(dep.UID)
	}
	return dep.Name
}

func containerImage(dep *appsv1.Deployment) string {
	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return ""
	}
	return containers[0].Image
}

func serviceURL(svc *corev1.Service) string {
	ingress := svc.Status.LoadBalancer.Ingress
	if len(ingress) == 0 {
		return ""
	}
	host := ingress[0].IP
	if host == "" {
		host = ingress[0].Hostname
	}
	if host == "" || len(svc.Spec.Ports) == 0 {
		return ""
	}
	port := svc.Spec.Ports[0].Port
	if port == 80 {
		return "http://" + host
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

func pickPod(pods []corev1.Pod) *corev1.Pod {
	for i := range pods {
		if pods[i].Status.Phase == corev1.PodRunning {
			return &pods[i]
		}
	}
	return &pods[0]
}

func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrlconfig.GetConfig()
}
