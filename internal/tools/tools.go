// Package tools stages the pinned container runtime binaries the image
// needs: the runtime daemon, the OCI runtime, the CLI front-end and the
// network plugin set. Resolution of what should be present is separated
// from the reconciliation that downloads or removes files, so both can
// be tested without network access.
package tools

import (
	"fmt"
	"path/filepath"

	"github.com/metalbake/metalbake/arch"
)

// Group identifies one independently-fetched artifact group.
type Group string

const (
	GroupContainerd Group = "containerd"
	GroupRunc       Group = "runc"
	GroupNerdctl    Group = "nerdctl"
	GroupCNI        Group = "cni-plugins"
)

// Kind describes the download payload.
type Kind int

const (
	// KindBinary is a raw executable downloaded as-is.
	KindBinary Kind = iota
	// KindTarball is a gzipped tar archive from which only selected
	// members are installed.
	KindTarball
)

// Artifact is the desired state of one artifact group.
type Artifact struct {
	Group Group
	URL   string
	Kind  Kind

	// Probe is the staged path whose presence marks the group as
	// installed.
	Probe string

	// Extract maps archive member names to staged destinations. Only
	// listed members are installed; everything else in the archive is
	// discarded to keep the image small. Empty for KindBinary, whose
	// payload lands directly at Probe.
	Extract map[string]string

	// Removes lists stale paths belonging to superseded tooling that
	// must disappear when this group is (re)installed.
	Removes []string
}

const (
	containerdURL = "https://github.com/containerd/containerd/releases/download/v%[1]s/containerd-%[1]s-linux-%[2]s.tar.gz"
	runcURL       = "https://github.com/opencontainers/runc/releases/download/v%s/runc.%s"
	nerdctlURL    = "https://github.com/containerd/nerdctl/releases/download/v%[1]s/nerdctl-%[1]s-linux-%[2]s.tar.gz"
	cniURL        = "https://github.com/containernetworking/plugins/releases/download/v%[1]s/cni-plugins-linux-%[2]s-v%[1]s.tgz"
)

// cniPlugins is the exact plugin subset installed from the CNI archive.
var cniPlugins = []string{"loopback", "bridge", "host-local", "portmap", "firewall", "tuning"}

// DesiredSet resolves the four artifact groups for the target
// architecture against the pinned versions.
func DesiredSet(target arch.Architecture, versions Versions, stagingDir string) ([]Artifact, error) {
	downloadArch, err := target.DownloadName()
	if err != nil {
		return nil, err
	}

	binDir := filepath.Join(stagingDir, "usr", "local", "bin")
	sbinDir := filepath.Join(stagingDir, "usr", "local", "sbin")
	cniDir := filepath.Join(stagingDir, "opt", "cni", "bin")

	cniExtract := make(map[string]string, len(cniPlugins))
	for _, plugin := range cniPlugins {
		cniExtract[plugin] = filepath.Join(cniDir, plugin)
	}

	return []Artifact{
		{
			Group: GroupContainerd,
			URL:   fmt.Sprintf(containerdURL, versions.Containerd, downloadArch),
			Kind:  KindTarball,
			Probe: filepath.Join(binDir, "containerd"),
			Extract: map[string]string{
				"bin/containerd":              filepath.Join(binDir, "containerd"),
				"bin/containerd-shim-runc-v2": filepath.Join(binDir, "containerd-shim-runc-v2"),
			},
		},
		{
			Group: GroupRunc,
			URL:   fmt.Sprintf(runcURL, versions.Runc, downloadArch),
			Kind:  KindBinary,
			Probe: filepath.Join(sbinDir, "runc"),
		},
		{
			Group: GroupNerdctl,
			URL:   fmt.Sprintf(nerdctlURL, versions.Nerdctl, downloadArch),
			Kind:  KindTarball,
			Probe: filepath.Join(binDir, "nerdctl"),
			Extract: map[string]string{
				"nerdctl": filepath.Join(binDir, "nerdctl"),
			},
			// Leftovers from the CRI front-end a previous configuration
			// staged; they would otherwise ride along in every image.
			Removes: []string{
				filepath.Join(binDir, "crictl"),
				filepath.Join(binDir, "critest"),
			},
		},
		{
			Group:   GroupCNI,
			URL:     fmt.Sprintf(cniURL, versions.CNIPlugins, downloadArch),
			Kind:    KindTarball,
			Probe:   filepath.Join(cniDir, "bridge"),
			Extract: cniExtract,
		},
	}, nil
}
