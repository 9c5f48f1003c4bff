package cmd

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/glimpse-cli/internal/config"
	"github.com/xkilldash9x/glimpse-cli/internal/observability"
	"github.com/xkilldash9x/glimpse-cli/internal/tools"
)

const historyLimit = 50

const shellHelp = `Browser commands:
  launch [url]                 open a browser (replaces any open one)
  status                       show the active session
  screenshot [file]            capture the screen (optionally save a PNG)
  navigate <url>               load a URL
  click <x> <y>                click at pixel coordinates
  type <text>                  type into the focused element
  scroll <up|down> [steps]     scroll the page
  locate <description>         find an element by description
  click-element <description>  find an element and click it
  marked                       screenshot with interactive elements marked (service backend)
  compare <url> <url> [...]    visit each URL and capture it
  health                       check the browser service
  close                        close the browser
  tools                        list the agent tools
Meta commands:
  /help  /info  /history  /clear  /quit`

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive browser session",
		Long:  "Shell keeps one browser session manager alive and runs commands against it until /quit or EOF.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			comps, err := initializeComponents(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer comps.Shutdown(ctx)

			sh := newShell(cmd.InOrStdin(), cmd.OutOrStdout(), comps.Registry, cfg)
			return sh.run(ctx)
		},
	}
}

// shell is a line oriented front end over the tool registry.
type shell struct {
	in      *bufio.Scanner
	out     io.Writer
	reg     *tools.Registry
	cfg     *config.Config
	started time.Time
	history []string

	writeFile func(name string, data []byte, perm os.FileMode) error
}

func newShell(in io.Reader, out io.Writer, reg *tools.Registry, cfg *config.Config) *shell {
	return &shell{
		in:        bufio.NewScanner(in),
		out:       out,
		reg:       reg,
		cfg:       cfg,
		started:   time.Now(),
		writeFile: os.WriteFile,
	}
}

func (s *shell) run(ctx context.Context) error {
	fmt.Fprintln(s.out, "glimpse shell. Type /help for commands, /quit to exit.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "glimpse > ")
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			break
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		if quit := s.execute(ctx, line); quit {
			break
		}
	}
	if err := s.in.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	fmt.Fprintln(s.out, "Goodbye.")
	return nil
}

// execute runs one line and reports whether the shell should exit.
func (s *shell) execute(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		s.remember(line)
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	fields := strings.Fields(rest)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "exit", "quit":
		return true
	case "/help", "help":
		fmt.Fprintln(s.out, shellHelp)
	case "/info":
		s.info()
	case "/history":
		for i, h := range s.history {
			fmt.Fprintf(s.out, "%3d  %s\n", i+1, h)
		}
	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, "History cleared.")
	case "launch":
		args := map[string]any{}
		if rest != "" {
			args["url"] = rest
		}
		s.invoke(ctx, "launch_browser", args)
	case "status":
		s.invoke(ctx, "get_browser_status", nil)
	case "screenshot":
		s.screenshot(ctx, rest)
	case "navigate", "goto":
		s.invoke(ctx, "navigate_to_url", map[string]any{"url": rest})
	case "click":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: click <x> <y>")
			return false
		}
		s.invoke(ctx, "click", map[string]any{"x": fields[0], "y": fields[1]})
	case "type":
		s.invoke(ctx, "type_text", map[string]any{"text": rest})
	case "scroll":
		args := map[string]any{}
		if len(fields) > 0 {
			args["direction"] = fields[0]
		}
		if len(fields) > 1 {
			args["amount"] = fields[1]
		}
		s.invoke(ctx, "scroll", args)
	case "locate":
		s.invoke(ctx, "locate_element", map[string]any{"description": rest})
	case "click-element":
		s.invoke(ctx, "click_element", map[string]any{"description": rest})
	case "marked":
		if res := s.invoke(ctx, "take_marked_screenshot", nil); res.Marked != nil && res.Success {
			for i, el := range res.Marked.Elements {
				fmt.Fprintf(s.out, "  [%d] %v\n", i+1, el)
			}
		}
	case "compare":
		s.invoke(ctx, "compare_pages", map[string]any{"urls": fields})
	case "health":
		s.invoke(ctx, "browser_health", nil)
	case "close":
		s.invoke(ctx, "close_browser", nil)
	case "tools":
		for _, d := range s.reg.Definitions() {
			fmt.Fprintf(s.out, "  %-20s %s\n", d.Name, d.Description)
		}
	default:
		fmt.Fprintf(s.out, "Unknown command %q. Type /help for commands.\n", name)
	}
	return false
}

func (s *shell) remember(line string) {
	s.history = append(s.history, line)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

func (s *shell) invoke(ctx context.Context, tool string, args map[string]any) tools.Result {
	res, err := s.reg.Invoke(ctx, tool, args)
	if err != nil {
		fmt.Fprintf(s.out, "❌ %v\n", err)
		return tools.Result{}
	}
	fmt.Fprintln(s.out, res.Text)
	return res
}

func (s *shell) screenshot(ctx context.Context, file string) {
	res := s.invoke(ctx, "analyze_screen", nil)
	if file == "" || !res.Success || res.Record == nil || res.Record.ScreenshotBase64 == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(*res.Record.ScreenshotBase64)
	if err != nil {
		fmt.Fprintf(s.out, "❌ Failed to decode screenshot: %v\n", err)
		return
	}
	if err := s.writeFile(file, data, 0o644); err != nil {
		fmt.Fprintf(s.out, "❌ Failed to save screenshot: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Saved %s\n", file)
}

func (s *shell) info() {
	b := s.cfg.Browser()
	p := s.cfg.Pointing()
	fmt.Fprintf(s.out, "Version:   %s\n", Version)
	fmt.Fprintf(s.out, "Backend:   %s (headless=%t)\n", b.Backend, b.Headless)
	fmt.Fprintf(s.out, "Viewport:  %dx%d, locale %s\n", b.Viewport.Width, b.Viewport.Height, b.Locale)
	fmt.Fprintf(s.out, "Pointing:  %s\n", p.Provider)
	fmt.Fprintf(s.out, "Uptime:    %s\n", time.Since(s.started).Round(time.Second))
	fmt.Fprintf(s.out, "History:   %d of %d entries\n", len(s.history), historyLimit)
}
