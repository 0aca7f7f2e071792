package consts

// Version is overridden at build time via -ldflags "-X ...consts.Version=...".
var Version = "1.0.0"

const AppName = "taskd"

func Generator() string {
	return AppName + "/" + Version
}
