package config

import "time"

const (
	// IoModeSerial executes all the engine operations of a worker one by one.
	IoModeSerial = "serial"
	// IoModeConcurrent executes each engine operation in its own goroutine.
	IoModeConcurrent = "concurrent"
)

type Worker struct {
	// a number of media workers, zero means one per CPU
	Num      int
	LogLevel string `default:"warn"`
	// pion log scopes to print (ice, dtls, sctp, pc, ...), empty means all
	LogTags    []string
	RtcMinPort uint16 `default:"40000"`
	RtcMaxPort uint16 `default:"49999"`
	IoMode     string `default:"serial"`
	// PEM files of the DTLS certificate, a random one is generated if empty
	DtlsCertificateFile string
	DtlsPrivateKeyFile  string
	HealthInterval      time.Duration `default:"120s"`
	// a lock file guarding the RTC port range on the host
	LockFile     string
	WebRtcServer WebRtcServer
}

// WebRtcServer is a listening resource shared by all
// WebRTC transports of a worker.
// The actual port of the worker N is Port + N.
type WebRtcServer struct {
	Enabled     bool
	ListenIp    string `default:"0.0.0.0"`
	AnnouncedIp string
	Port        int `default:"44444"`
}

func (w *Worker) HasPortRange() bool   { return w.RtcMinPort > 0 && w.RtcMaxPort >= w.RtcMinPort }
func (w *Worker) HasCertificate() bool { return w.DtlsCertificateFile != "" && w.DtlsPrivateKeyFile != "" }
