package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getFromFile(pathKey, name string) string {
	dir := getString(pathKey, "")
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func GetStudentsDir() string {
	return getString(studentsDir, "/srv/yatcc-se/students")
}

func GetArchiveStudentsDir() string {
	return getString(archiveStudentsDir, "/srv/yatcc-se/archive-students")
}

// GetRedisNetwork returns "unix" or "tcp". The deployment default is a
// unix socket shared with the bundled redis container.
func GetRedisNetwork() string {
	return getString(redisNetwork, "unix")
}

func GetRedisAddr() string {
	return getString(redisAddr, "/var/run/yatcc-se/redis.sock")
}

// GetAPIKeySecret returns the raw 32-byte token secret, read from the
// "secret" file under the configured secret path. Empty when unset; the
// caller decides the fallback.
func GetAPIKeySecret() string {
	return getFromFile(apiKeySecretPath, "secret")
}

func GetDefaultAdminAPIKey() string {
	return getString(defaultAdminAPIKey, "SE!@2025")
}

func GetClusterNamespace() string {
	return getString(clusterNamespace, "default")
}

func GetClusterTimeoutSecond() int {
	return getInt(clusterTimeout, 30)
}

func GetCodespaceImage() string {
	return getString(codespaceImage, "registry.yatcc-se.io/codespace:latest")
}

func GetCodespaceCPULimit() string {
	return getString(codespaceCPU, "500m")
}

func GetCodespaceMemoryLimit() string {
	return getString(codespaceMemory, "1Gi")
}

func GetCodespaceStorageLimit() string {
	return getString(codespaceStorage, "5Gi")
}

func GetAdminPort() int {
	return getInt(adminPort, 5001)
}

func GetStudentPort() int {
	return getInt(studentPort, 5002)
}

func GetAdminStaticDir() string {
	return getString(adminStaticDir, "")
}

func GetStudentStaticDir() string {
	return getString(studentStaticDir, "")
}

func GetWatchIntervalSecond() int {
	return getInt(watchInterval, 900)
}
