package cmd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

type CliConnectFlag int

const (
	CCForce CliConnectFlag = 1 << iota // Re-connect if already connected.
	CCQuiet                            // Don't show non-error messages.
)

var errNotConnected = errors.New("not connected")

// connect dials the server unless a connection is already open.
func (cli *Cli) connect(flag CliConnectFlag) error {
	if cli.conn != nil && flag&CCForce == 0 {
		return nil
	}
	if cli.conn != nil {
		_ = cli.conn.Close()
		cli.conn = nil
	}

	addr := net.JoinHostPort(cli.config.hostIp, fmt.Sprint(cli.config.hostPort))
	conn, err := net.DialTimeout("tcp", addr, cli.config.timeout)
	if err != nil {
		if flag&CCQuiet == 0 {
			fmt.Fprintf(cli.errOut, "Could not connect to %s: %s\n", addr, err)
		}
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetKeepAlivePeriod(time.Duration(CliKeepAliveInterval) * time.Second); err != nil {
			fmt.Fprintf(cli.errOut, "Failed to set SO_KEEPALIVE: %s\n", err)
		}
	}
	cli.conn = conn
	cli.refreshPrompt()
	return nil
}

// send writes one line and reads back its echo.
func (cli *Cli) send(line string) (string, error) {
	if cli.conn == nil {
		return "", errNotConnected
	}
	msg := []byte(line + "\n")
	if err := cli.conn.SetDeadline(time.Now().Add(cli.config.timeout)); err != nil {
		return "", err
	}
	if _, err := cli.conn.Write(msg); err != nil {
		cli.disconnect()
		return "", err
	}
	reply := make([]byte, len(msg))
	if _, err := io.ReadFull(cli.conn, reply); err != nil {
		cli.disconnect()
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", fmt.Errorf("server closed the connection: %w", err)
		}
		return "", err
	}
	return string(reply[:len(reply)-1]), nil
}

func (cli *Cli) disconnect() {
	if cli.conn != nil {
		_ = cli.conn.Close()
		cli.conn = nil
	}
	cli.refreshPrompt()
}
