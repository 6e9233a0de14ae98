package emgrecv

import (
	"log"
	"os"
	"time"
)

// DefaultPort is the UDP port the receiver binds when none is configured.
const DefaultPort = 5005

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Summary string
	Host    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.2",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log live and status messages to a file
var UpdateLogger *log.Logger

func init() {
	StartTime = time.Now()

	// The emgrecv main program will override these, but at least initialize
	// them with sensible values.
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stdout, "", log.LstdFlags)
}
