package version

var (
	AppName    = "Rollcall"
	AppVersion = "0.9.0"
)
