package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"uigen/internal/runtime"
)

const chatHelp = `Commands:
  /help             show this help
  /history          list the conversation so far
  /clear            forget the conversation
  /attach FILE      attach a file to the next message
  /route SPEC       use an explicit route (empty SPEC resets it)
  /stats            show result cache stats
  /clear-cache      drop every cached result
  /exit             leave the chat`

func (c *cli) newChatCommand() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session that keeps history between requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, reg, err := c.newDispatcher()
			if err != nil {
				return err
			}
			s := &chatSession{
				d:        d,
				out:      c.out,
				progress: !quiet,
				attach:   c.loadAttachments,
				now:      time.Now,
			}
			if reg != nil {
				s.metrics = reg
			}
			fmt.Fprintf(c.out, "Workspace: %s\n", c.workspace)
			return s.run(cmd.Context(), c.in)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide progress lines")
	return cmd
}

type chatSession struct {
	d        *runtime.Dispatcher
	out      io.Writer
	metrics  prometheus.Gatherer
	progress bool
	attach   func(paths []string) ([]runtime.Attachment, error)
	now      func() time.Time

	history []runtime.Message
	pending []runtime.Attachment
	route   string
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Commands: /help, /history, /stats, /exit")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for {
		fmt.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := s.command(line)
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", red("error:"), err)
			}
			if done {
				return nil
			}
			continue
		}
		if err := s.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(s.out, "%s %v\n", red("error:"), err)
		}
	}
}

func (s *chatSession) turn(ctx context.Context, line string) error {
	req := runtime.Request{
		UserRequest: line,
		History:     s.history,
		Attachments: s.pending,
		Route:       s.route,
	}
	var onProgress runtime.ProgressFunc
	if s.progress {
		onProgress = progressPrinter(s.out)
	}
	resp, err := s.d.Execute(ctx, req, onProgress)
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, "assistant> ")
	printResponse(s.out, resp)
	if s.metrics != nil {
		if err := printMetrics(s.out, s.metrics); err != nil {
			return err
		}
	}

	now := s.now()
	s.history = append(s.history,
		runtime.Message{ID: uuid.NewString(), Role: runtime.RoleUser, Content: line, Attachments: s.pending, CreatedAt: now},
		runtime.Message{ID: uuid.NewString(), Role: runtime.RoleAssistant, Content: resp.Content, CreatedAt: now},
	)
	s.pending = nil
	return nil
}

func (s *chatSession) command(line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/history":
		if len(s.history) == 0 {
			fmt.Fprintln(s.out, gray("(empty)"))
		}
		for _, m := range s.history {
			fmt.Fprintf(s.out, "%s> %s\n", m.Role, firstLine(m.Content))
		}
	case "/clear":
		s.history = nil
		s.pending = nil
		fmt.Fprintln(s.out, "history cleared")
	case "/attach":
		if arg == "" {
			return false, fmt.Errorf("/attach needs a file path")
		}
		atts, err := s.attach([]string{arg})
		if err != nil {
			return false, err
		}
		s.pending = append(s.pending, atts...)
		for _, a := range atts {
			fmt.Fprintf(s.out, "attached %s (%s)\n", a.Name, a.Kind)
		}
	case "/route":
		if arg != "" {
			if _, err := runtime.ParseRoute(arg); err != nil {
				return false, err
			}
		}
		s.route = arg
		if arg == "" {
			fmt.Fprintln(s.out, "route reset")
		} else {
			fmt.Fprintf(s.out, "route: %s\n", arg)
		}
	case "/stats":
		printCacheStats(s.out, s.d.CacheStats())
	case "/clear-cache":
		s.d.ClearCache()
		fmt.Fprintln(s.out, "cache cleared")
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
