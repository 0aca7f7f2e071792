package consts

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	HomeDirName    = ".taskd"
	HomeEnv        = "TASKD_HOME"
	ConfigFileName = "config.yaml"
	DataDirName    = "data"
	DBFileName     = "tasks.db"
	TasksFileName  = "tasks.json"

	WorkspaceDirName = "workspace"
)

// HomeDir returns $TASKD_HOME, falling back to ~/.taskd.
func HomeDir() string {
	if dir := strings.TrimSpace(os.Getenv(HomeEnv)); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, HomeDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), ConfigFileName)
}

func DefaultDBPath() string {
	return filepath.Join(HomeDir(), DataDirName, DBFileName)
}

func DefaultTasksFilePath() string {
	return filepath.Join(HomeDir(), DataDirName, TasksFileName)
}

func DefaultWorkspace() string {
	return filepath.Join(HomeDir(), WorkspaceDirName)
}
