package version

import (
	"runtime"
	rdebug "runtime/debug"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GitCommit       string
	GitBranch       string
	GitSummary      string
	BuildDate       string
	AppVersion      string
	PostgresVersion = depVersion("lib/pq")
	NATSVersion     = depVersion("nats-io/nats.go")
	GoVersion       = runtime.Version()
)

type Version struct {
	GitCommit       string `json:"git_commit"`
	GitBranch       string `json:"git_branch"`
	GitSummary      string `json:"git_summary"`
	BuildDate       string `json:"build_date"`
	AppVersion      string `json:"app_version"`
	GoVersion       string `json:"go_version"`
	PostgresVersion string `json:"pq_version"`
	NATSVersion     string `json:"nats_version"`
}

func Current() Version {
	return Version{
		GitBranch:       GitBranch,
		GitCommit:       GitCommit,
		GitSummary:      GitSummary,
		BuildDate:       BuildDate,
		AppVersion:      AppVersion,
		GoVersion:       GoVersion,
		PostgresVersion: PostgresVersion,
		NATSVersion:     NATSVersion,
	}
}

func ExportBuildInfoMetric() {
	buildInfo := promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pms_build_info",
			Help: "A metric with a constant '1' value, labeled by branch, commit, summary, builddate, version, Go version from which pms was built.",
		},
		[]string{"branch", "commit", "summary", "builddate", "version", "goversion"},
	)

	buildInfo.WithLabelValues(GitBranch, GitCommit, GitSummary, BuildDate, AppVersion, GoVersion).Set(1)
}

// depVersion returns the module version of the first build dependency whose path contains name.
func depVersion(name string) string {
	buildInfo, ok := rdebug.ReadBuildInfo()
	if !ok {
		return ""
	}

	for _, d := range buildInfo.Deps {
		if strings.Contains(d.Path, name) {
			return d.Version
		}
	}

	return ""
}
