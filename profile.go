package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// This file is copied and updated from https://github.com/zeromicro/go-zero
// @copyright original authors.

const (
	// MemProfileRate is the memory profiling rate while the profiler runs.
	MemProfileRate = 4096

	timeFormat = "20060102_150405"
)

// Profiler is an active profiling session toggled by SIGUSR2. It writes one
// file per profile kind into dataDir.
type Profiler struct {
	dataDir string
	closers []func()
	stopped uint32
}

// profileKind starts one profile on f and returns the function ending it.
type profileKind struct {
	name  string
	start func(f *os.File) (stop func(), err error)
}

var profileKinds = []profileKind{
	{"cpu", func(f *os.File) (func(), error) {
		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, err
		}
		return pprof.StopCPUProfile, nil
	}},
	{"mem", func(f *os.File) (func(), error) {
		old := runtime.MemProfileRate
		runtime.MemProfileRate = MemProfileRate
		return func() {
			writeLookup("heap", f)
			runtime.MemProfileRate = old
		}, nil
	}},
	{"mutex", func(f *os.File) (func(), error) {
		runtime.SetMutexProfileFraction(1)
		return func() {
			writeLookup("mutex", f)
			runtime.SetMutexProfileFraction(0)
		}, nil
	}},
	{"block", func(f *os.File) (func(), error) {
		runtime.SetBlockProfileRate(1)
		return func() {
			writeLookup("block", f)
			runtime.SetBlockProfileRate(0)
		}, nil
	}},
	{"threadcreate", func(f *os.File) (func(), error) {
		return func() { writeLookup("threadcreate", f) }, nil
	}},
	{"trace", func(f *os.File) (func(), error) {
		if err := trace.Start(f); err != nil {
			return nil, err
		}
		return trace.Stop, nil
	}},
}

// StartProfiler starts every profile kind. Call Stop to flush the files.
func StartProfiler(dataDir string) *Profiler {
	p := &Profiler{dataDir: dataDir}
	for _, k := range profileKinds {
		p.start(k)
	}
	return p
}

func (p *Profiler) start(k profileKind) {
	fn := dumpFile(p.dataDir, k.name, "pprof")
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create %s profile %q: %v", k.name, fn, err)
		return
	}
	stop, err := k.start(f)
	if err != nil {
		f.Close()
		glog.Errorf("pprof: could not start %s profile: %v", k.name, err)
		return
	}

	glog.Infof("pprof: %s profiling enabled, %s", k.name, fn)
	p.closers = append(p.closers, func() {
		stop()
		f.Close()
		glog.Infof("pprof: %s profiling disabled, %s", k.name, fn)
	})
}

// Stop stops the profiles. Only the first call has effect.
func (p *Profiler) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	for _, closer := range p.closers {
		closer()
	}
}

func writeLookup(name string, f *os.File) {
	if prof := pprof.Lookup(name); prof != nil {
		if err := prof.WriteTo(f, 0); err != nil {
			glog.Errorf("pprof: write %s profile error: %v", name, err)
		}
	}
}

func dumpFile(dir, kind, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.%s", kind, time.Now().Format(timeFormat), ext))
}

func dumpGoroutines(dir string) {
	fn := dumpFile(dir, "goroutines", "dump")
	glog.Infof("Got dump goroutine signal, dumping goroutine profile to %s", fn)
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("Failed to dump goroutine profile, error: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("Failed to write goroutine profile to %s, error: %v", fn, err)
	}
}
