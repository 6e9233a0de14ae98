package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gaitlab/emgrecv"
	"github.com/gaitlab/emgrecv/internal/emgdb"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("verbose", false)
	viper.SetDefault("bind", "0.0.0.0")
	viper.SetDefault("port", emgrecv.DefaultPort)
	viper.SetDefault("outdir", "out")
	viper.SetDefault("print_every", "200ms")
	viper.SetDefault("status_every", "2s")
	viper.SetDefault("channel_log", false)
	viper.SetDefault("archive_db", false)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotEmgrecv := filepath.Join(HOME, ".emgrecv")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotEmgrecv, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/emgrecv"))
	viper.AddConfigPath(dotEmgrecv)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	emgrecv.Build.Date = buildDate
	emgrecv.Build.Githash = githash
	emgrecv.Build.Gitdate = gitdate
	emgrecv.Build.Summary = fmt.Sprintf("emgrecv version %s (git commit %s of %s)", emgrecv.Build.Version, emgrecv.Build.Githash, emgrecv.Build.Gitdate)
	if host, err := os.Hostname(); err == nil {
		emgrecv.Build.Host = host
	} else {
		emgrecv.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	pingDB := flag.Bool("pingdb", false, "check the archive database connection and quit")
	bind := flag.String("bind", "", "IP address to bind (overrides config file)")
	port := flag.Int("port", 0, "UDP port to listen on (overrides config file)")
	outdir := flag.String("outdir", "", "output directory for logs (overrides config file)")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is emgrecv version %s\n", emgrecv.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}
	if *pingDB {
		if err := emgdb.PingServer(); err != nil {
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is %s\n", emgrecv.Build.Summary)
	fmt.Print(banner)

	// Start logging problems and updates to 2 rotating log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".emgrecv", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	emgrecv.ProblemLogger = startLogger(problemname)
	emgrecv.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging status updates to %s\n\n", logname)
	emgrecv.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	cfg := emgrecv.Config{
		Bind:        viper.GetString("bind"),
		Port:        viper.GetInt("port"),
		OutDir:      viper.GetString("outdir"),
		PrintEvery:  viper.GetDuration("print_every"),
		StatusEvery: viper.GetDuration("status_every"),
		Verbose:     viper.GetBool("verbose"),
		ChannelLog:  viper.GetBool("channel_log"),
		SessionID:   ulid.Make().String(),
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *outdir != "" {
		cfg.OutDir = *outdir
	}

	abort := make(chan struct{})
	if viper.GetBool("archive_db") {
		session := &emgdb.SessionMessage{
			ID:        cfg.SessionID,
			Hostname:  emgrecv.Build.Host,
			Githash:   githash,
			Version:   emgrecv.Build.Version,
			GoVersion: runtime.Version(),
			Bind:      cfg.Bind,
			Port:      cfg.Port,
			Start:     time.Now(),
		}
		cfg.DB = emgdb.StartConnection(session, abort)
		if cfg.DB.IsConnected() {
			fmt.Println("Archiving records to ClickHouse")
		} else {
			fmt.Println("ClickHouse archive unavailable; continuing without it")
		}
	}

	receiver, err := emgrecv.NewReceiver(cfg)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Listening on %s:%d (session %s)\n", cfg.Bind, cfg.Port, cfg.SessionID)
	fmt.Printf("Logging records to %s\n", filepath.Join(cfg.OutDir, "emg_log.csv"))
	fmt.Printf("Publishing latest to %s\n", receiver.SnapshotPath())
	fmt.Println("Mode: PASSIVE / HEADLESS. Press Ctrl+C to stop.")

	interruptCatcher := make(chan os.Signal, 1)
	signal.Notify(interruptCatcher, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interruptCatcher
		fmt.Println("\nStopping listener...")
		close(abort)
	}()

	if err := receiver.Run(abort); err != nil {
		emgrecv.ProblemLogger.Printf("receive loop failed: %v", err)
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	if cfg.DB != nil {
		cfg.DB.Wait()
	}
	counts := receiver.Counts()
	fmt.Printf("Received %d datagrams (%d rejected). Goodbye.\n",
		counts.Received, counts.DecodeFailures)
}
