// Package cli runs line oriented consoles: interactive prompt on a terminal,
// batch over stdin otherwise.
package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
	"github.com/temoto/powermeter/log2"
)

type Executor func(line string)
type Completer func(d prompt.Document) []prompt.Suggest

func MainLoop(log *log2.Log, tag string, exec Executor, complete Completer) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		s := <-signalCh
		log.Infof("%s signal=%v", tag, s)
		log.Flush()
		os.Exit(1)
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(prompt.Executor(exec), prompt.Completer(complete),
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		).Run()
		return
	}
	if err := RunBatch(os.Stdin, exec); err != nil {
		log.Fatal(err)
	}
}

// RunBatch executes every non-empty line of r.
func RunBatch(r io.Reader, exec Executor) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			exec(line)
		}
	}
	return s.Err()
}
