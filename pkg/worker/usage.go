package worker

import (
	"runtime"
	"time"
)

// Usage holds the resource counters of a worker.
// Memory values belong to the whole process since workers live in it.
type Usage struct {
	Pid        int           `json:"pid"`
	Uptime     time.Duration `json:"uptime"`
	Ops        uint64        `json:"ops"`
	Routers    int           `json:"routers"`
	Transports int           `json:"transports"`
	Producers  int           `json:"producers"`
	Goroutines int           `json:"goroutines"`
	HeapAlloc  uint64        `json:"heapAlloc"`
	Sys        uint64        `json:"sys"`
}

type RouterDump struct {
	Id           string   `json:"id"`
	TransportIds []string `json:"transportIds"`
	ProducerIds  []string `json:"producerIds"`
	// ice/dtls state of each WebRTC transport
	States map[string]string `json:"states,omitempty"`
}

type Dump struct {
	Pid          int          `json:"pid"`
	IoMode       string       `json:"ioMode"`
	WebRtcServer string       `json:"webRtcServer,omitempty"`
	Routers      []RouterDump `json:"routers"`
}

func (w *Worker) usage() Usage {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	u := Usage{
		Pid:        w.pid,
		Uptime:     time.Since(w.started),
		Ops:        w.opCount.Load(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		Sys:        mem.Sys,
	}
	w.routers.ForEach(func(r *Router) {
		u.Routers++
		u.Transports += r.transports.Len()
		u.Producers += r.producers.Len()
	})
	return u
}

func (w *Worker) dump() Dump {
	d := Dump{Pid: w.pid, IoMode: w.conf.IoMode}
	if w.server != nil {
		d.WebRtcServer = w.server.String()
	}
	for _, r := range w.routers.Values() {
		d.Routers = append(d.Routers, r.dump())
	}
	return d
}
