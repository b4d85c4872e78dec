// Package server wires store, cluster backend, controller and the two
// HTTP surfaces into one process, and runs the quota watcher.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
	ctrlruntime "sigs.k8s.io/controller-runtime"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/apikey"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/backoff"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/cluster"
	commonconfig "github.com/Nickchen-PUSH/YatCC-SE/pkg/config"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/controller"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers"
	commonklog "github.com/Nickchen-PUSH/YatCC-SE/pkg/klog"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/options"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
)

// codespacePorts is the fixed service surface of every codespace: the
// web IDE behind 80, VNC and SSH straight through.
var codespacePorts = []cluster.PortParams{
	{Name: "http", Port: 80, TargetPort: 443},
	{Name: "vnc", Port: 5900, TargetPort: 5900},
	{Name: "ssh", Port: 22, TargetPort: 22},
}

type Server struct {
	opts       *options.Options
	store      *store.Store
	cluster    cluster.Interface
	controller *controller.Controller

	adminServer   *http.Server
	studentServer *http.Server

	ctx      context.Context
	isInited bool
}

// NewServer creates and returns a new Server instance.
func NewServer() (*Server, error) {
	s := &Server{
		opts: &options.Options{},
		ctx:  ctrlruntime.SetupSignalHandler(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	gin.SetMode(gin.ReleaseMode)
	var err error
	if err = s.opts.InitFlags(); err != nil {
		klog.ErrorS(err, "failed to parse flags")
		return err
	}
	if err = commonklog.Init(s.opts.LogfilePath, s.opts.LogFileSize); err != nil {
		klog.ErrorS(err, "failed to init logs")
		return err
	}
	if err = s.initConfig(); err != nil {
		klog.ErrorS(err, "failed to init config")
		return err
	}

	codec, err := s.initCodec()
	if err != nil {
		klog.ErrorS(err, "failed to init api key codec")
		return err
	}
	if s.store, err = store.New(store.Options{
		Network:            commonconfig.GetRedisNetwork(),
		Addr:               commonconfig.GetRedisAddr(),
		StudentsDir:        commonconfig.GetStudentsDir(),
		ArchiveDir:         commonconfig.GetArchiveStudentsDir(),
		DefaultAdminAPIKey: commonconfig.GetDefaultAdminAPIKey(),
	}); err != nil {
		klog.ErrorS(err, "failed to init store")
		return err
	}
	// the bundled redis container may come up after us
	if err = backoff.Retry(func() error {
		return s.store.Ping(s.ctx)
	}, 30*time.Second, 5*time.Second); err != nil {
		klog.ErrorS(err, "store did not become reachable")
		return err
	}
	if s.cluster, err = cluster.New(cluster.Config{
		Mock:       s.opts.MockCluster,
		Kubeconfig: s.opts.KubeConfig,
		Namespace:  commonconfig.GetClusterNamespace(),
		Timeout:    time.Duration(commonconfig.GetClusterTimeoutSecond()) * time.Second,
	}); err != nil {
		klog.ErrorS(err, "failed to init cluster backend")
		return err
	}
	s.controller = controller.New(s.store, s.cluster, codec, controller.Config{
		Image:        commonconfig.GetCodespaceImage(),
		Ports:        codespacePorts,
		CPULimit:     commonconfig.GetCodespaceCPULimit(),
		MemoryLimit:  commonconfig.GetCodespaceMemoryLimit(),
		StorageLimit: commonconfig.GetCodespaceStorageLimit(),
		StudentsDir:  commonconfig.GetStudentsDir(),
	})

	s.adminServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", commonconfig.GetAdminPort()),
		Handler: handlers.NewAdminEngine(s.store, s.controller, commonconfig.GetAdminStaticDir()),
	}
	s.studentServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", commonconfig.GetStudentPort()),
		Handler: handlers.NewStudentEngine(s.store, s.controller, codec, commonconfig.GetStudentStaticDir()),
	}
	s.isInited = true
	return nil
}

func (s *Server) initConfig() error {
	if s.opts.Config == "" {
		klog.Info("no config file given, using built-in defaults")
		return nil
	}
	fullPath, err := filepath.Abs(s.opts.Config)
	if err != nil {
		return err
	}
	if err = commonconfig.LoadConfig(fullPath); err != nil {
		return fmt.Errorf("config path: %s, err: %v", fullPath, err)
	}
	return nil
}

func (s *Server) initCodec() (*apikey.Codec, error) {
	secret := []byte(commonconfig.GetAPIKeySecret())
	if len(secret) == 0 {
		klog.Warning("api key secret is not configured, student tokens will not survive across deployments with different defaults")
		secret = make([]byte, apikey.SecretSize)
	}
	return apikey.New(secret)
}

// Start launches both HTTP servers and the watcher, then waits for a
// termination signal.
func (s *Server) Start() {
	if !s.isInited {
		klog.Errorf("please init the server first")
		return
	}
	klog.Infof("starting yatcc-se server")

	go func() {
		klog.Infof("admin server listen addr: %s", s.adminServer.Addr)
		if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "failed to start admin server")
			os.Exit(-1)
		}
	}()
	go func() {
		klog.Infof("student server listen addr: %s", s.studentServer.Addr)
		if err := s.studentServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "failed to start student server")
			os.Exit(-1)
		}
	}()
	go s.watch()

	<-s.ctx.Done()
	s.Stop()
}

// Stop gracefully shuts down both HTTP servers and closes the store.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	klog.Info("shutting down http servers...")
	if err := s.adminServer.Shutdown(ctx); err != nil {
		klog.ErrorS(err, "failed to shutdown admin server")
	}
	if err := s.studentServer.Shutdown(ctx); err != nil {
		klog.ErrorS(err, "failed to shutdown student server")
	}
	if err := s.store.Close(); err != nil {
		klog.ErrorS(err, "failed to close store")
	}
	klog.Info("yatcc-se server is stopped")
	klog.Flush()
}

// watch runs the periodic accounting sweep and the orphan reconcile. The
// first sweep runs immediately so a restart settles stale records fast.
func (s *Server) watch() {
	interval := time.Duration(commonconfig.GetWatchIntervalSecond()) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	if err := s.controller.WatchAll(s.ctx); err != nil {
		klog.ErrorS(err, "watch sweep failed")
	}
	if err := s.controller.ReconcileOrphans(s.ctx); err != nil {
		klog.ErrorS(err, "orphan reconcile failed")
	}
}
