// Package cmd is an interactive line client for the echo server.
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fzft/go-uthread-io/deps/linenoise"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

var (
	CliVersion = "0.1.0"

	CliKeepAliveInterval = 15
	CliDefaultTimeout    = 5 * time.Second
	CliHisFileEnv        = "UTHREADCLI_HISTFILE"
	CliHisFileDefault    = ".uthreadcli_history"
)

type CliConfig struct {
	hostIp   string
	hostPort int
	timeout  time.Duration
	prompt   string
}

type Cli struct {
	config *CliConfig
	conn   net.Conn
	out    io.Writer
	errOut io.Writer
	line   *linenoise.LineNoise
}

func NewCli(hostIp string, hostPort int, timeout time.Duration) *Cli {
	if timeout <= 0 {
		timeout = CliDefaultTimeout
	}
	cli := &Cli{
		config: &CliConfig{hostIp: hostIp, hostPort: hostPort, timeout: timeout},
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	cli.refreshPrompt()
	return cli
}

func (cli *Cli) Version(gitSHA1, gitDirty string) string {
	version := CliVersion
	// Add git commit and working tree status when available
	if sha1Int, err := strconv.ParseUint(gitSHA1, 16, 64); err == nil && sha1Int != 0 {
		version = fmt.Sprintf("%s (git:%s", version, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			version = fmt.Sprintf("%s-dirty", version)
		}
		version = fmt.Sprintf("%s)", version)
	}
	return version
}

func (cli *Cli) Usage(gitSHA1, gitDirty string, err bool) {
	out := cli.out
	if err {
		out = cli.errOut
	}
	fmt.Fprintf(out, `uthread-cli %s

Usage: uthread -cli [-addr host:port]
  Lines typed at the prompt are sent to the server and its echo is printed.
  When stdin is not a terminal every input line is sent in turn (pipe mode).

`, cli.Version(gitSHA1, gitDirty))
	cli.help(out)
}

// Run starts the REPL when in is a terminal and pipe mode otherwise.
func (cli *Cli) Run(in *os.File) error {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return cli.repl()
	}
	return cli.pipe(in)
}

func (cli *Cli) repl() error {
	cli.line = linenoise.New()
	defer cli.line.Close()

	historyFile := getDotfilePath(CliHisFileEnv, CliHisFileDefault)
	if historyFile != "" {
		// a missing history file is normal on first use
		_ = cli.line.HistoryLoad(historyFile)
	}

	_ = cli.connect(CCQuiet)
	for {
		prompt := cli.config.prompt
		if cli.conn == nil {
			prompt = "not connected> "
		}
		line, err := cli.line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cli.line.AppendHistory(line)
		if historyFile != "" {
			_ = cli.line.HistorySave(historyFile)
		}
		if quit := cli.eval(line); quit {
			break
		}
	}
	cli.disconnect()
	return nil
}

// pipe sends every non-empty line of r and prints the replies.
func (cli *Cli) pipe(r io.Reader) error {
	if err := cli.connect(0); err != nil {
		return err
	}
	defer cli.disconnect()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply, err := cli.send(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(cli.out, reply)
	}
	return scanner.Err()
}

// eval runs one interactive line and reports whether the client should quit.
func (cli *Cli) eval(line string) bool {
	argv, argc := cli.splitArgs(line)
	if argc == 0 {
		return false
	}

	if doc, ok := lookupCommand(strings.ToLower(argv[0]), argc); ok {
		switch doc.name {
		case "quit", "exit":
			return true
		case "help":
			cli.help(cli.out)
		case "clear":
			if cli.line != nil {
				_ = cli.line.ClearScreen()
			}
		case "connect":
			port, err := strconv.Atoi(argv[2])
			if err != nil {
				fmt.Fprintln(cli.errOut, "Invalid port number")
				return false
			}
			cli.config.hostIp = argv[1]
			cli.config.hostPort = port
			cli.refreshPrompt()
			_ = cli.connect(CCForce)
		}
		return false
	}

	if err := cli.connect(CCQuiet); err != nil {
		fmt.Fprintf(cli.errOut, "(error) %s\n", err)
		return false
	}
	start := time.Now()
	reply, err := cli.send(line)
	if err != nil {
		fmt.Fprintf(cli.errOut, "(error) %s\n", err)
		return false
	}
	fmt.Fprintf(cli.out, "%q (%.2fms)\n", reply, float64(time.Since(start).Microseconds())/1000)
	return false
}

func (cli *Cli) splitArgs(line string) ([]string, int) {
	argv := strings.Fields(line)
	return argv, len(argv)
}

func (cli *Cli) help(out io.Writer) {
	for _, c := range cliCommands {
		usage := c.name
		if c.params != "" {
			usage += " " + c.params
		}
		fmt.Fprintf(out, "  %-22s %s\n", usage, c.summary)
	}
}

func (cli *Cli) refreshPrompt() {
	cli.config.prompt = fmt.Sprintf("%s> ", net.JoinHostPort(cli.config.hostIp, strconv.Itoa(cli.config.hostPort)))
}

func getDotfilePath(envOverride, dotFilename string) string {
	var dotPath string

	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		dotPath = path
	} else {
		home := os.Getenv("HOME")
		if home != "" {
			dotPath = fmt.Sprintf("%s/%s", home, dotFilename)
		}
	}
	return dotPath
}
