package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"autojs-hub/cmd/console/ui"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:9400", "hub base URL")
	flag.Parse()

	session := ui.NewSession(*server)
	defer session.Close()

	p := tea.NewProgram(ui.NewRootModel(session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "console:", err)
		os.Exit(1)
	}
}
