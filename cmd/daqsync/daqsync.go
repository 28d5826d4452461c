package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/daqsync"
	"github.com/usnistgov/daqsync/driver"
	"github.com/usnistgov/daqsync/internal/runlog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper returns a viper configuration manager that has read the config
// file: the named file if configFile is set, otherwise config.yaml from
// /etc/daqsync, ~/.daqsync (created empty if needed) or the working directory.
func setupViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DAQSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		return v, nil
	}

	HOME, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error finding User Home Dir: %w", err)
	}
	dotDaqsync := filepath.Join(HOME, ".daqsync")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotDaqsync, filename+suffix); err != nil {
		return nil, err
	}

	v.SetConfigName(filename)
	v.AddConfigPath(filepath.FromSlash("/etc/daqsync"))
	v.AddConfigPath(dotDaqsync)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return v, nil
}

func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

// startLogs directs the problem and update logs to rotating files in
// ~/.daqsync/logs.
func startLogs(banner string) error {
	HOME, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	logdir := filepath.Join(HOME, ".daqsync", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		return err
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		return err
	}
	daqsync.ProblemLogger = startLogger(problemname)
	daqsync.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging session events to %s\n\n", logname)
	daqsync.UpdateLogger.Printf("\n\n\n\n%s", banner)
	return nil
}

// runMessage describes the acquisition graph for the run log.
func runMessage(cfg *daqsync.Config, g *daqsync.TaskGraph) *runlog.RunMessage {
	return &runlog.RunMessage{
		ID:            runlog.NewID(),
		MasterDevice:  cfg.Devices.Master,
		SlaveDevice:   cfg.Devices.Slave,
		MasterAnalog:  g.ChannelCount(daqsync.MasterAnalog),
		SlaveAnalog:   g.ChannelCount(daqsync.SlaveAnalog),
		MasterDigital: g.ChannelCount(daqsync.MasterDigital),
		SlaveDigital:  g.ChannelCount(daqsync.SlaveDigital),
		SampleRate:    g.SampleRate(),
		BufferSize:    g.BufferSize(),
		Start:         time.Now(),
	}
}

// buildSinks opens every output the configuration asks for. It also returns
// the status updater, if any, and the export directory, if any.
func buildSinks(cfg *daqsync.Config, g *daqsync.TaskGraph) (daqsync.MultiSink, *daqsync.ClientUpdater, string, error) {
	var sinks daqsync.MultiSink
	var directory string
	fail := func(err error) (daqsync.MultiSink, *daqsync.ClientUpdater, string, error) {
		sinks.Close()
		return nil, nil, "", err
	}
	if cfg.ExportTarget != "" {
		es, err := daqsync.NewExportSink(cfg.ExportTarget, g)
		if err != nil {
			return fail(err)
		}
		directory = filepath.Dir(es.StateFilename)
		fmt.Printf("Writing data to        %s\n", directory)
		sinks = append(sinks, es)
	}
	if cfg.PublishPort > 0 {
		pub, err := daqsync.NewFramePublisher(cfg.PublishPort, daqsync.FrameBytes(g))
		if err != nil {
			return fail(err)
		}
		fmt.Printf("Publishing frames on   %s\n", pub.Endpoint())
		sinks = append(sinks, pub)
	}
	var updater *daqsync.ClientUpdater
	if cfg.StatusPort > 0 {
		var err error
		if updater, err = daqsync.NewClientUpdater(cfg.StatusPort, time.Second); err != nil {
			return fail(err)
		}
		sinks = append(sinks, updater.SummarySink())
	}
	return sinks, updater, directory, nil
}

// acquire runs one session per the configuration until it ends by itself,
// the user presses enter, or the process is interrupted.
func acquire(cfg *daqsync.Config, recorder *runlog.Recorder) error {
	drv, err := driver.Open(cfg.Driver)
	if err != nil {
		return fmt.Errorf("%w: %w", daqsync.ErrConfiguration, err)
	}
	g, err := daqsync.BuildGraph(cfg, drv)
	if err != nil {
		return err
	}
	sinks, updater, directory, err := buildSinks(cfg, g)
	if err != nil {
		g.Shutdown()
		return err
	}
	var status daqsync.StatusPublisher
	if updater != nil {
		status = updater
		defer updater.Close()
	}

	session := daqsync.NewSession(g, sinks, cfg.StopOnSinkError, status)
	run := runMessage(cfg, g)
	run.Directory = directory
	recorder.RecordRun(run)

	abort := make(chan struct{})
	defer close(abort)
	if cfg.RPCPort > 0 {
		go func() {
			if err := daqsync.RunRPCServer(cfg.RPCPort, session, status, abort); err != nil {
				daqsync.ProblemLogger.Printf("RPC server: %v", err)
			}
		}()
	}

	if err := session.Start(); err != nil {
		run.Error = err.Error()
		recorder.FinishRun(run)
		return err
	}
	fmt.Printf("Acquiring at %v Hz, %d samples per buffer. Press enter or ^C to stop.\n",
		g.SampleRate(), g.BufferSize())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	enter := make(chan struct{})
	go func() {
		// Without a terminal (EOF), only a signal or the session itself ends the run.
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			close(enter)
		}
	}()

	select {
	case <-session.Done():
	case <-enter:
		session.Stop()
	case <-interrupt:
		session.Stop()
	}
	err = session.Wait()
	run.Frames = session.Frames()
	if err != nil {
		run.Error = err.Error()
	}
	recorder.FinishRun(run)
	fmt.Printf("Acquired %d frames.\n", run.Frames)
	return err
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	daqsync.Build.Date = buildDate
	daqsync.Build.Githash = githash
	daqsync.Build.Gitdate = gitdate
	daqsync.Build.Summary = fmt.Sprintf("DAQSYNC version %s (git commit %s of %s)", daqsync.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		daqsync.Build.Host = host
	} else {
		daqsync.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	configFile := flag.String("config", "", "read configuration from this file instead of the search path")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is DAQSYNC version %s\n", daqsync.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Drivers: %v\n", driver.Drivers())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is DAQSYNC version %s (git commit %s)\n", daqsync.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := startLogs(banner); err != nil {
		panic(err)
	}

	v, err := setupViper(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := daqsync.LoadConfig(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	dbAbort := make(chan struct{})
	recorder := runlog.Disconnected()
	if cfg.Database.Enabled {
		activity := &runlog.ActivityMessage{
			ID:        runlog.NewID(),
			Hostname:  daqsync.Build.Host,
			Githash:   githash,
			Version:   daqsync.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     daqsync.StartTime,
		}
		recorder = runlog.Start(cfg.Database.Addr, activity, dbAbort)
		if !recorder.IsConnected() {
			daqsync.ProblemLogger.Printf("run log database at %s unavailable: %v", cfg.Database.Addr, recorder.Err())
		}
	}

	err = acquire(cfg, recorder)
	close(dbAbort)
	recorder.Wait()
	if err != nil {
		kind := daqsync.KindOf(err)
		if kind == nil {
			kind = errors.New("error")
		}
		fmt.Fprintf(os.Stderr, "Acquisition failed (%v): %v\n", kind, err)
		daqsync.ProblemLogger.Printf("acquisition failed: %v", err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}
