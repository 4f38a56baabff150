// Package procstat samples resource usage of a spawned process for the
// duration of a run.
package procstat

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// sampleInterval is how often the child process is polled.
const sampleInterval = 500 * time.Millisecond

// Usage is the aggregate resource consumption observed over a run.
type Usage struct {
	PeakRSSBytes uint64
	CPUSeconds   float64
}

// Sampler polls a process until stopped and keeps the peak observations.
// Sampling is best-effort: a process that exits mid-poll just ends the
// series.
type Sampler struct {
	log  logrus.FieldLogger
	proc *process.Process

	mu    sync.Mutex
	usage Usage

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler starts sampling the given PID. Returns an error when the
// process cannot be observed at all.
func NewSampler(log logrus.FieldLogger, pid int32) (*Sampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Sampler{
		log:    log.WithField("component", "procstat"),
		proc:   proc,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.loop(ctx)

	return s, nil
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mem, err := s.proc.MemoryInfo(); err == nil && mem.RSS > s.usage.PeakRSSBytes {
		s.usage.PeakRSSBytes = mem.RSS
	}

	if cpu, err := s.proc.Times(); err == nil {
		total := cpu.User + cpu.System
		if total > s.usage.CPUSeconds {
			s.usage.CPUSeconds = total
		}
	}
}

// Stop takes a final sample, stops the loop, and returns the aggregate.
func (s *Sampler) Stop() *Usage {
	s.sample()
	s.cancel()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	usage := s.usage

	return &usage
}
