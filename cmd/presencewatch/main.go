package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/example/presence-service/internal/watch"
)

func main() {
	server := flag.String("server", envOrDefault("PRESENCE_SERVER", "http://localhost:8080"), "presence API base URL")
	window := flag.String("window", "day", "report window (hour, day, 3days, week, month, 6months, year)")
	timeout := flag.Duration("timeout", 25*time.Second, "long-poll timeout per request")
	flag.Parse()

	model := watch.NewModel(watch.NewClient(*server, nil), watch.Options{Window: *window, Timeout: *timeout})
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
