package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

const sessionHelp = `Commands:
  <text>                 send a message
  /attach <path>         attach a file to the next message
  /edit <n> <text>       replace message n of the active path
  /regen                 regenerate the last assistant message
  /branch <message-id>   switch to the branch holding a message
  /result <call-id> <v>  answer a pending tool call (v is JSON or text)
  /history               print the active path
  /tree                  print every branch
  /quit                  leave`

// session drives a thread from text commands.
type session struct {
	rt      *thread.Runtime
	printer *Printer
	view    *liveView
	prompt  bool
	pending []thread.Blob
}

func newSession(rt *thread.Runtime, p *Printer) *session {
	return &session{rt: rt, printer: p, view: newLiveView(rt, p)}
}

func (s *session) Close() {
	s.view.Close()
}

// Run executes lines from in until EOF or /quit. Command errors are printed
// and do not end the session.
func (s *session) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if s.prompt {
			fmt.Fprint(s.printer.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, err := s.Exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintln(s.printer.out, s.printer.style(s.printer.errorStyle, "error: "+err.Error()))
		}
		if quit {
			return nil
		}
	}
}

// Exec runs one command line and waits for the run it starts, if any.
func (s *session) Exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.send(ctx, line)
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.printer.out, sessionHelp)
	case "/attach":
		if rest == "" {
			return false, fmt.Errorf("usage: /attach <path>")
		}
		s.pending = append(s.pending, thread.Blob{Path: rest})
		fmt.Fprintf(s.printer.out, "attached %s\n", rest)
	case "/edit":
		return false, s.edit(ctx, rest)
	case "/regen":
		return false, s.regenerate(ctx)
	case "/branch":
		if err := s.rt.SelectBranch(rest); err != nil {
			return false, err
		}
		s.history()
	case "/result":
		return false, s.result(ctx, rest)
	case "/history":
		s.history()
	case "/tree":
		s.printer.Tree(s.rt.Snapshot().Tree)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

func (s *session) send(ctx context.Context, text string) error {
	blobs := s.pending
	s.pending = nil
	if err := s.rt.Send(ctx, text, thread.WithAttachments(blobs...)); err != nil {
		return err
	}
	return s.wait(ctx)
}

func (s *session) edit(ctx context.Context, args string) error {
	num, text, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(num)
	if err != nil {
		return fmt.Errorf("usage: /edit <n> <text>")
	}
	target, ok := s.rt.Snapshot().Message(n - 1)
	if !ok {
		return fmt.Errorf("%w: no message %d on the active path", chat.ErrInvalidTarget, n)
	}

	blobs := s.pending
	s.pending = nil
	if err := s.rt.Edit(ctx, target.ID, text, thread.WithAttachments(blobs...)); err != nil {
		return err
	}
	if !target.IsUser() {
		s.history()
		return nil
	}
	return s.wait(ctx)
}

func (s *session) regenerate(ctx context.Context) error {
	snap := s.rt.Snapshot()
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if m := snap.Messages[i]; m.IsAssistant() {
			if err := s.rt.Regenerate(ctx, m.ID); err != nil {
				return err
			}
			return s.wait(ctx)
		}
	}
	return fmt.Errorf("%w: no assistant message to regenerate", chat.ErrInvalidTarget)
}

func (s *session) result(ctx context.Context, args string) error {
	id, raw, _ := strings.Cut(args, " ")
	if id == "" {
		return fmt.Errorf("usage: /result <call-id> <value>")
	}
	var value any = raw
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		value = decoded
	}
	if err := s.rt.AddToolResult(ctx, id, value, false); err != nil {
		return err
	}
	fmt.Fprintf(s.printer.out, "result recorded for %s\n", id)
	return nil
}

// wait blocks until the run settles. An interrupt cancels the run and keeps
// its partial output.
func (s *session) wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := s.rt.Wait(sigCtx)
	if sigCtx.Err() != nil {
		s.rt.Cancel()
		err = s.rt.Wait(context.Background())
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	s.view.Settle()
	return err
}

func (s *session) history() {
	snap := s.rt.Snapshot()
	for i, m := range snap.Messages {
		info, _ := snap.BranchInfo(i)
		fmt.Fprintf(s.printer.out, "%d. ", i+1)
		s.printer.Message(m, info)
	}
}
