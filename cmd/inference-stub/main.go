// Command inference-stub serves a whisper-server compatible /inference endpoint
// that replays scripted text, for running autotalk's http recognizer without a model.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	text := flag.String("text", "你好。", "Replies separated by '|', cycled per request")
	scriptPath := flag.String("script", "", "File with one reply per line, overrides -text")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated inference latency")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	script := strings.Split(*text, "|")
	if *scriptPath != "" {
		lines, err := readLines(*scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read script: %v\n", err)
			os.Exit(1)
		}
		script = lines
	}

	s := newStub(script, *delay, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", s.handleInference)

	logger.Info("Inference stub listening",
		slog.String("address", *addr),
		slog.Int("replies", len(script)),
	)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
