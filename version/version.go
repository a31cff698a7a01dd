package version

const (
	ProductName = "virga"
)

var (
	// Version is overridden at link time with -ldflags "-X github.com/uole/virga/version.Version=...".
	Version = "0.1.0"
)
