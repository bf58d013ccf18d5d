package log

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"reprotest/config"
)

// ListLogs lists the available log files for the most recent run.
func ListLogs(cfg *config.Config) {
	logsDir := filepath.Join(cfg.StorePath, "logs")

	fmt.Println("Run logs:")
	fmt.Println("  00 or results - 00_results.log")
	fmt.Println("  01 or debug   - 01_debug.log")
	fmt.Println()
	fmt.Println("Build logs:")

	if _, err := os.Stat(logsDir); err == nil {
		filepath.Walk(logsDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() || !strings.HasSuffix(path, ".log") {
				return nil
			}
			base := filepath.Base(path)
			if base == "00_results.log" || base == "01_debug.log" {
				return nil
			}
			fmt.Printf("  %s\n", strings.TrimSuffix(base, ".log"))
			return nil
		})
	}
}

// ViewLog prints a named log file, using a pager if one is available.
func ViewLog(cfg *config.Config, logName string) {
	logPath := resolveLogPath(cfg, logName)

	if _, err := os.Stat(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		return
	}

	if usePager() {
		viewWithPager(logPath)
		return
	}

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
}

// TailLog shows the last N lines of a log file.
func TailLog(cfg *config.Config, logName string, lines int) {
	logPath := resolveLogPath(cfg, logName)

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		return
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	start := len(allLines) - lines
	if start < 0 {
		start = 0
	}
	for i := start; i < len(allLines); i++ {
		fmt.Println(allLines[i])
	}
}

// GrepLog searches for a substring pattern in a log file.
func GrepLog(cfg *config.Config, logName, pattern string) {
	logPath := resolveLogPath(cfg, logName)

	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.Contains(line, pattern) {
			fmt.Printf("%d: %s\n", lineNum, line)
		}
	}
}

func resolveLogPath(cfg *config.Config, logName string) string {
	switch logName {
	case "00", "results":
		logName = "00_results.log"
	case "01", "debug":
		logName = "01_debug.log"
	default:
		if !strings.HasSuffix(logName, ".log") {
			logName += ".log"
		}
	}
	return filepath.Join(cfg.StorePath, "logs", logName)
}

func usePager() bool {
	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less"
	}
	_, err := exec.LookPath(pager)
	return err == nil
}

func viewWithPager(path string) {
	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less"
	}

	cmd := exec.Command(pager, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Run()
}
