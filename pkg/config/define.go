package config

const (
	// core
	corePrefix         = "core."
	studentsDir        = corePrefix + "students_dir"
	archiveStudentsDir = corePrefix + "archive_students_dir"
	redisNetwork       = corePrefix + "redis_network"
	redisAddr          = corePrefix + "redis_addr"
	apiKeySecretPath   = corePrefix + "api_key_secret_path"
	defaultAdminAPIKey = corePrefix + "default_admin_api_key"

	// cluster
	clusterPrefix    = "cluster."
	clusterNamespace = clusterPrefix + "namespace"
	clusterTimeout   = clusterPrefix + "timeout_second"
	codespaceImage   = clusterPrefix + "codespace_image"
	codespaceCPU     = clusterPrefix + "codespace_cpu_limit"
	codespaceMemory  = clusterPrefix + "codespace_memory_limit"
	codespaceStorage = clusterPrefix + "codespace_storage_limit"

	// server
	serverPrefix     = "server."
	adminPort        = serverPrefix + "admin_port"
	studentPort      = serverPrefix + "student_port"
	adminStaticDir   = serverPrefix + "admin_static_dir"
	studentStaticDir = serverPrefix + "student_static_dir"
	watchInterval    = serverPrefix + "watch_interval_second"
)
