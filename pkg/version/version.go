package version

import "runtime"

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// Info is what the version endpoints and subcommands report.
type Info struct {
	Build string `json:"build"`
	Go    string `json:"go"`
	OS    string `json:"os"`
	Arch  string `json:"arch"`
}

func Current() Info {
	return Info{Build: Build, Go: runtime.Version(), OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (i Info) String() string {
	return i.Build + " " + i.Go + " " + i.OS + "/" + i.Arch
}
