package envelope

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

// LibraryVersion is stamped on every outbound envelope.
const LibraryVersion = "0.3.0"

// Host identification headers. They are stamped on every moved envelope,
// replacing any copied value with the same key.
const (
	HeaderHostMachineName            = "MT-Host-MachineName"
	HeaderHostProcessName            = "MT-Host-ProcessName"
	HeaderHostProcessID              = "MT-Host-ProcessId"
	HeaderHostRuntimeVersion         = "MT-Host-RuntimeVersion"
	HeaderHostOperatingSystemVersion = "MT-Host-OperatingSystemVersion"
	HeaderHostBusflowVersion         = "MT-Host-BusflowVersion"
)

// HostInfo describes the process that produced an envelope.
type HostInfo struct {
	MachineName     string
	ProcessName     string
	ProcessID       int
	RuntimeVersion  string
	OperatingSystem string
	BusflowVersion  string
}

var currentHost = sync.OnceValue(func() HostInfo {
	machine, err := os.Hostname()
	if err != nil {
		machine = "unknown"
	}
	return HostInfo{
		MachineName:     machine,
		ProcessName:     filepath.Base(os.Args[0]),
		ProcessID:       os.Getpid(),
		RuntimeVersion:  runtime.Version(),
		OperatingSystem: runtime.GOOS + "/" + runtime.GOARCH,
		BusflowVersion:  LibraryVersion,
	}
})

// CurrentHost returns the identification of the running process.
func CurrentHost() HostInfo {
	return currentHost()
}

// HostHeaders returns the host identification header set.
func (h HostInfo) HostHeaders() Headers {
	return Headers{
		HeaderHostMachineName:            h.MachineName,
		HeaderHostProcessName:            h.ProcessName,
		HeaderHostProcessID:              strconv.Itoa(h.ProcessID),
		HeaderHostRuntimeVersion:         h.RuntimeVersion,
		HeaderHostOperatingSystemVersion: h.OperatingSystem,
		HeaderHostBusflowVersion:         h.BusflowVersion,
	}
}

// SetHostHeaders stamps the current host headers onto h.
func SetHostHeaders(h Headers) {
	for k, v := range CurrentHost().HostHeaders() {
		h[k] = v
	}
}
