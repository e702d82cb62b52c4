package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"nostr-lists/internal/app"
	"nostr-lists/internal/lists"
	"nostr-lists/internal/nips"
	"nostr-lists/internal/nostr"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// terminalView writes command output to a terminal or pipe
type terminalView struct {
	out io.Writer
	// hideLists suppresses the summary table for commands that fetch only
	// to find one list
	hideLists bool
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out}
}

func (v *terminalView) Status(level app.Level, message string) {
	switch level {
	case app.LevelSuccess:
		fmt.Fprintln(v.out, successStyle.Render("✓ "+message))
	case app.LevelError:
		fmt.Fprintln(v.out, errorStyle.Render("✗ "+message))
	default:
		fmt.Fprintln(v.out, infoStyle.Render("• "+message))
	}
}

func (v *terminalView) Lists(summaries []lists.Summary) {
	if v.hideLists || len(summaries) == 0 {
		return
	}

	width := len("LIST")
	for _, s := range summaries {
		if w := lipgloss.Width(s.ListID); w > width {
			width = w
		}
	}

	fmt.Fprintln(v.out, headerStyle.Render(fmt.Sprintf("%-*s  %7s  %-9s  %-16s  %s", width, "LIST", "PUBLIC", "PRIVATE", "UPDATED", "EVENT")))
	for _, s := range summaries {
		private := "-"
		if s.Encrypted {
			private = "encrypted"
		}
		updated := time.Unix(s.CreatedAt, 0).Local().Format("2006-01-02 15:04")
		name := s.ListID + strings.Repeat(" ", width-lipgloss.Width(s.ListID))
		fmt.Fprintf(v.out, "%s  %7d  %-9s  %-16s  %s\n", name, s.Public, private, updated, dimStyle.Render(nostr.ShortID(s.EventID)))
	}
}

func (v *terminalView) Revision(rev *lists.Revision) {
	fmt.Fprintln(v.out, headerStyle.Render(rev.ListID))
	writeMembers(v.out, "public", rev.Public)
	if rev.Locked {
		fmt.Fprintln(v.out, dimStyle.Render("private: (encrypted)"))
		return
	}
	writeMembers(v.out, "private", rev.Private)
}

func (v *terminalView) SignedEvent(data []byte) {
	fmt.Fprintln(v.out, string(data))
}

func writeMembers(w io.Writer, label string, members []string) {
	fmt.Fprintf(w, "%s (%d):\n", label, len(members))
	for _, member := range members {
		npub, err := nips.EncodePubkey(member)
		if err != nil {
			fmt.Fprintf(w, "  %s\n", member)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", member, dimStyle.Render(npub))
	}
}

// readMembers turns a flag value into member keys. "@path" reads the keys
// from a file.
func readMembers(value string, readFile func(string) ([]byte, error)) ([]string, []string, error) {
	if strings.HasPrefix(value, "@") {
		data, err := readFile(strings.TrimPrefix(value, "@"))
		if err != nil {
			return nil, nil, err
		}
		value = string(data)
	}
	members, rejected := lists.ParseMembers(value)
	return members, rejected, nil
}
