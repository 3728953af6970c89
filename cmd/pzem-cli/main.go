package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/hardware/pzem"
	"github.com/temoto/powermeter/helpers/cli"
	"github.com/temoto/powermeter/log2"
)

const usage = `syntax: commands separated by whitespace
(main)
- read       read all quantities
- addr       read configured slave address
- setaddr=N  write slave address, 1..247, decimal or 0xNN
- reset      reset energy counter
- sN         pause N milliseconds

(meta)
- log=yes  enable debug logging
- log=no   disable debug logging
- loop=N   repeat N times all commands on this line
`

var log = log2.NewStderr(log2.LDebug)

type command func(d *pzem.Driver) error

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	devicePath := cmdline.String("device", "/dev/ttyUSB0", "")
	address := cmdline.Uint("address", uint(pzem.AddrGeneral), "slave address, 248 = any single device on the bus")
	timeout := cmdline.Duration("timeout", pzem.DefaultTimeout, "")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	u := pzem.NewFileUart()
	if err := u.Open(*devicePath, pzem.DefaultBaud); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	defer u.Close()
	d := pzem.NewDriver(log.Clone(log2.LError), u, uint8(*address))
	d.SetTimeout(*timeout)

	cli.MainLoop(log, "pzem-cli", newExecutor(d), newCompleter())
}

func newCompleter() cli.Completer {
	suggests := []prompt.Suggest{
		{Text: "read", Description: "read all quantities"},
		{Text: "addr", Description: "read slave address"},
		{Text: "setaddr=", Description: "write slave address"},
		{Text: "reset", Description: "reset energy counter"},
		{Text: "sN", Description: "pause for N ms"},
		{Text: "loop=N", Description: "repeat line N times"},
		{Text: "log=yes", Description: "enable debug logging"},
		{Text: "help"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(d *pzem.Driver) cli.Executor {
	return func(line string) {
		cmds, loopn, err := parseLine(line)
		if err != nil {
			log.Error(errors.ErrorStack(err))
			return
		}
		for i := uint(0); i < loopn; i++ {
			for _, c := range cmds {
				if err := c(d); err != nil {
					log.Error(errors.ErrorStack(err))
					return
				}
			}
		}
	}
}

func parseLine(line string) ([]command, uint, error) {
	words := strings.Fields(line)
	loopn := uint(0)
	cmds := make([]command, 0, len(words))
	for _, word := range words {
		if strings.HasPrefix(word, "loop=") {
			if loopn != 0 {
				return nil, 0, errors.Errorf("multiple loop commands, expected at most one")
			}
			i, err := strconv.ParseUint(word[5:], 10, 32)
			if err != nil {
				return nil, 0, errors.Annotatef(err, "word=%s", word)
			}
			loopn = uint(i)
			continue
		}
		c, err := parseCommand(word)
		if err != nil {
			return nil, 0, err
		}
		cmds = append(cmds, c)
	}
	if loopn == 0 {
		loopn = 1
	}
	return cmds, loopn, nil
}

func parseCommand(word string) (command, error) {
	switch {
	case word == "help":
		return func(*pzem.Driver) error { log.Info(usage); return nil }, nil
	case word == "log=yes":
		return func(d *pzem.Driver) error { d.Log.SetLevel(log2.LDebug); return nil }, nil
	case word == "log=no":
		return func(d *pzem.Driver) error { d.Log.SetLevel(log2.LError); return nil }, nil
	case word == "read":
		return doRead, nil
	case word == "addr":
		return doAddr, nil
	case word == "reset":
		return func(d *pzem.Driver) error {
			if err := d.ResetEnergy(); err != nil {
				return err
			}
			log.Infof("energy reset ok")
			return nil
		}, nil
	case strings.HasPrefix(word, "setaddr="):
		n, err := strconv.ParseUint(word[8:], 0, 8)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return func(d *pzem.Driver) error {
			if err := d.SetAddress(uint8(n)); err != nil {
				return err
			}
			log.Infof("address set 0x%02x", n)
			return nil
		}, nil
	case len(word) > 1 && word[0] == 's':
		ms, err := strconv.ParseUint(word[1:], 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "word=%s", word)
		}
		return func(*pzem.Driver) error { time.Sleep(time.Duration(ms) * time.Millisecond); return nil }, nil
	}
	return nil, errors.NotValidf("command=%s", word)
}

func doRead(d *pzem.Driver) error {
	v, err := d.ReadValues()
	if err != nil {
		return err
	}
	q := v.Quantities()
	log.Infof("U=%.1fV I=%.3fA P=%.1fW E=%.3fkWh f=%.1fHz pf=%.2f alarm=%t",
		q.Voltage, q.Current, q.Power, q.Energy, q.Frequency, q.PowerFactor, v.Alarm != 0)
	return nil
}

func doAddr(d *pzem.Driver) error {
	a, err := d.ReadAddress()
	if err != nil {
		return err
	}
	log.Infof("address=0x%02x (%d)", a, a)
	return nil
}
