package cmd

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer stands in for the fiber server: it writes every line back.
func echoServer(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadBytes('\n')
					if err != nil {
						return
					}
					if _, err := c.Write(line); err != nil {
						return
					}
				}
			}(c)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func newTestCli(host string, port int) (*Cli, *bytes.Buffer, *bytes.Buffer) {
	cli := NewCli(host, port, time.Second)
	var out, errOut bytes.Buffer
	cli.out = &out
	cli.errOut = &errOut
	return cli, &out, &errOut
}

func TestPipeMode(t *testing.T) {
	host, port := echoServer(t)
	cli, out, _ := newTestCli(host, port)

	err := cli.pipe(strings.NewReader("hello\n\nworld\n"))

	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", out.String())
	assert.Nil(t, cli.conn)
}

func TestPipeModeWithoutServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cli, _, errOut := newTestCli("127.0.0.1", port)
	assert.Error(t, cli.pipe(strings.NewReader("hello\n")))
	assert.Contains(t, errOut.String(), "Could not connect")
}

func TestEval(t *testing.T) {
	host, port := echoServer(t)
	cli, out, errOut := newTestCli("127.0.0.1", 1)

	assert.False(t, cli.eval("   "))
	assert.False(t, cli.eval("connect "+host+" notaport"))
	assert.Contains(t, errOut.String(), "Invalid port number")

	assert.False(t, cli.eval("connect "+host+" "+strconv.Itoa(port)))
	require.NotNil(t, cli.conn)
	assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port))+"> ", cli.config.prompt)

	assert.False(t, cli.eval("ping pong"))
	assert.Contains(t, out.String(), `"ping pong"`)

	out.Reset()
	assert.False(t, cli.eval("help"))
	assert.Contains(t, out.String(), "connect <host> <port>")

	assert.True(t, cli.eval("QUIT"))
	assert.True(t, cli.eval("exit"))
	cli.disconnect()
}

func TestLookupCommandChecksArity(t *testing.T) {
	_, ok := lookupCommand("connect", 3)
	assert.True(t, ok)
	_, ok = lookupCommand("connect", 1)
	assert.False(t, ok, "a bare connect is sent to the server")
	_, ok = lookupCommand("ping", 1)
	assert.False(t, ok)
}

func TestVersion(t *testing.T) {
	cli := NewCli("127.0.0.1", 8080, 0)
	assert.Equal(t, CliVersion, cli.Version("unknown", "unknown"))
	assert.Equal(t, CliVersion+" (git:abc123)", cli.Version("abc123", "0"))
	assert.Equal(t, CliVersion+" (git:abc123-dirty)", cli.Version("abc123", "1"))
}

func TestGetDotfilePath(t *testing.T) {
	t.Setenv("HOME", "/home/someone")
	t.Setenv(CliHisFileEnv, "")
	assert.Equal(t, "/home/someone/"+CliHisFileDefault, getDotfilePath(CliHisFileEnv, CliHisFileDefault))

	t.Setenv(CliHisFileEnv, "/tmp/history")
	assert.Equal(t, "/tmp/history", getDotfilePath(CliHisFileEnv, CliHisFileDefault))

	t.Setenv(CliHisFileEnv, "/dev/null")
	assert.Equal(t, "", getDotfilePath(CliHisFileEnv, CliHisFileDefault))
}
