package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chat"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/clock"
	"github.com/mqy/minichat/conf"
	"github.com/mqy/minichat/event"
	"github.com/mqy/minichat/ratelimit"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/web"
)

const (
	jwtSecretEnv    = "MINICHAT_JWT_SECRET"
	shutdownTimeout = 10 * time.Second
)

var (
	flagAddr           = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagConfig         = flag.String("config", "", "yaml config file; defaults are used if empty, with the jwt secret read from $"+jwtSecretEnv)
	flagPidFile        = flag.String("pid-file", "minichat.pid", "pid file")
	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")

	flagTrustProxy   = flag.Bool("trust-proxy", false, "take client ip from X-Real-IP/X-Forwarded-For")
	flagSecureCookie = flag.Bool("secure-cookie", false, "set the Secure attribute of the session cookie")
	flagMockAuth     = flag.Bool("mock-auth", false, "trust the x-user cookie, development only")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	cfg, err := loadConfig()
	if err != nil {
		return errorf("config: %v", err)
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		// kept when profiles were written.
		_ = os.Remove(pprofDir)
	}()

	docs, err := store.Open(cfg.Store.Driver, cfg.Store.Source)
	if err != nil {
		return errorf("open %s store error: %v", cfg.Store.Driver, err)
	}
	defer func() {
		if err := docs.Close(); err != nil {
			glog.Errorf("close store error: %v", err)
		}
	}()

	var publisher event.Publisher = event.Nop{}
	if cfg.Kafka.Enabled {
		publisher = event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.MaxBytes)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			glog.Errorf("close publisher error: %v", err)
		}
	}()

	c := clock.Real()
	tokens := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, c)
	svc := chat.NewService(chat.Options{
		Users:         auth.NewUserStore(docs, c, cfg.Auth.BcryptCost),
		Conversations: chatstore.NewStore(docs, c),
		Tokens:        tokens,
		LoginLimiter:  ratelimit.New("login", cfg.Limits.LoginAttempts, cfg.Limits.LoginWindow, c),
		SendLimiter:   ratelimit.New("message", cfg.Limits.Messages, cfg.Limits.MessageWindow, c),
		Events:        publisher,
		Clock:         c,
		MaxBodyBytes:  cfg.Limits.MaxBodyBytes,
	})

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	web.NewServer(svc, newAuthClient(tokens), web.Options{
		TrustProxy:   *flagTrustProxy,
		SecureCookie: *flagSecureCookie,
	}).Register(mux)

	srv := &http.Server{
		Addr:              *flagAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	glog.Infof("minichat server is listening on %s, store: %s, kafka: %v", *flagAddr, cfg.Store.Driver, cfg.Kafka.Enabled)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var prof *Profiler
	defer func() {
		if prof != nil {
			prof.Stop()
		}
	}()

	for {
		select {
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return errorf("serve error: %v", err)
			}
			return 0
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(pprofDir)
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			case syscall.SIGTERM, syscall.SIGINT:
				glog.Infof("received signal `%s` stopping", sig.String())
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				err := srv.Shutdown(ctx)
				cancel()
				if err != nil {
					glog.Errorf("graceful shutdown error: %v", err)
				}
				glog.Info("minichat server exited")
				return 0
			}
		}
	}
}

func newAuthClient(tokens *auth.TokenIssuer) auth.Client {
	if *flagMockAuth {
		glog.Warning("--mock-auth: trusting the x-user cookie, never do this in production")
		return &auth.MockClient{}
	}
	return auth.NewTokenClient(tokens)
}

func loadConfig() (*conf.Config, error) {
	if *flagConfig != "" {
		return conf.Load(*flagConfig)
	}
	cfg := conf.Default()
	cfg.Auth.JWTSecret = os.Getenv(jwtSecretEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagConfig != "" {
		if _, err := os.Stat(*flagConfig); err != nil {
			return errorf("--config: %v", err)
		}
	}
	return 0
}

// validateAddr accepts loopback and private addresses only, the server is
// expected to sit behind a proxy.
func validateAddr(s string) error {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", host)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", host)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if content, err := os.ReadFile(name); err == nil {
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return fmt.Errorf("pid file: bad content: %v", err)
			}
			if processAlive(oldPid) {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: read error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid %d done", pid)
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	defer proc.Release()
	return proc.Signal(syscall.Signal(0)) == nil
}
