package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("snapgcd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runDaemon(os.Args[2:])
	case "once":
		runOnce(os.Args[2:])
	case "checkpoint":
		runCheckpoint(os.Args[2:])
	case "version":
		fmt.Printf("snapgcd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: snapgcd <command> [options]

Commands:
  run         Start the GC daemon (periodic passes + metrics endpoint)
  once        Execute a single GC pass and print its metrics
  checkpoint  Write a catalog checkpoint and compact the journal
  version     Print version information

Run 'snapgcd <command> --help' for more information on a command.`)
}

func commonFlags(fs *flag.FlagSet) (configPath, catalogPath *string, dryRun *bool) {
	configPath = fs.String("config", "", "Path to configuration file")
	catalogPath = fs.String("catalog", "", "Override catalog path")
	dryRun = fs.Bool("dry-run", false, "Report what the pass would do without changing anything")
	return
}
