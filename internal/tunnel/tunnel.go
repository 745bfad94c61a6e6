// Package tunnel opens SSH port forwards through a bastion host so that
// private infrastructure is reachable on a local port.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

// ErrInvalidTunnelInput is returned when the bastion host can't be used.
var ErrInvalidTunnelInput = errors.New("invalid tunnel input")

const (
	// KeyFileName is the private key file written under ~/.ssh.
	KeyFileName = "ymir-tunnel"
	// BastionUser is the login user on bastion hosts.
	BastionUser = "ec2-user"
)

// BastionHost is the jump host a tunnel goes through.
type BastionHost struct {
	Endpoint   string
	PrivateKey string
}

// Opener starts ssh tunnels.
type Opener struct {
	fs         afero.Fs
	homeDir    string
	starter    ProcessStarter
	logger     *slog.Logger
	cleanupKey bool
}

// Option customises an Opener.
type Option func(*Opener)

// WithKeyCleanup removes the private key file when the tunnel is stopped.
func WithKeyCleanup() Option {
	return func(o *Opener) {
		o.cleanupKey = true
	}
}

// WithLogger sets the logger used for key diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Opener) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOpener creates an Opener that keeps keys under homeDir/.ssh.
func NewOpener(fs afero.Fs, homeDir string, starter ProcessStarter, opts ...Option) *Opener {
	o := &Opener{
		fs:      fs,
		homeDir: homeDir,
		starter: starter,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// KeyPath returns where the bastion private key is written.
func (o *Opener) KeyPath() string {
	return filepath.Join(o.homeDir, ".ssh", KeyFileName)
}

// OpenBastionTunnel forwards localPort to remoteHost:remotePort through the
// bastion host. It returns as soon as ssh is started; use WaitForPort when
// the caller needs the forward to be ready.
func (o *Opener) OpenBastionTunnel(host BastionHost, localPort int, remoteHost string, remotePort int) (Process, error) {
	if err := validate(host, localPort, remoteHost, remotePort); err != nil {
		return nil, err
	}

	keyPath, err := o.writeKey(host.PrivateKey)
	if err != nil {
		return nil, err
	}

	args := Args(host.Endpoint, keyPath, localPort, remoteHost, remotePort)
	o.logger.Debug("opening tunnel", "command", "ssh "+strings.Join(args, " "))

	proc, err := o.starter.Start("ssh", args...)
	if err != nil {
		return nil, fmt.Errorf("open tunnel to %s: %w", host.Endpoint, err)
	}
	if o.cleanupKey {
		return &cleanupProcess{Process: proc, fs: o.fs, keyPath: keyPath}, nil
	}
	return proc, nil
}

func validate(host BastionHost, localPort int, remoteHost string, remotePort int) error {
	switch {
	case strings.TrimSpace(host.Endpoint) == "":
		return fmt.Errorf("%w: bastion host has no endpoint", ErrInvalidTunnelInput)
	case strings.TrimSpace(host.PrivateKey) == "":
		return fmt.Errorf("%w: bastion host has no private key", ErrInvalidTunnelInput)
	case strings.TrimSpace(remoteHost) == "":
		return fmt.Errorf("%w: remote host is required", ErrInvalidTunnelInput)
	case localPort <= 0 || localPort > 65535:
		return fmt.Errorf("%w: invalid local port %d", ErrInvalidTunnelInput, localPort)
	case remotePort <= 0 || remotePort > 65535:
		return fmt.Errorf("%w: invalid remote port %d", ErrInvalidTunnelInput, remotePort)
	}
	return nil
}

// Args returns the ssh arguments for a local forward through endpoint.
func Args(endpoint, keyPath string, localPort int, remoteHost string, remotePort int) []string {
	return []string{
		BastionUser + "@" + endpoint,
		"-i", keyPath,
		"-o", "LogLevel=error",
		"-L", fmt.Sprintf("%d:%s:%d", localPort, remoteHost, remotePort),
		"-N",
	}
}

func (o *Opener) writeKey(privateKey string) (string, error) {
	sshDir := filepath.Join(o.homeDir, ".ssh")
	exists, err := afero.DirExists(o.fs, sshDir)
	if err != nil {
		return "", fmt.Errorf("checking %s: %w", sshDir, err)
	}
	if !exists {
		if err := o.fs.MkdirAll(sshDir, 0o700); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", sshDir, err)
		}
	}

	if !strings.HasSuffix(privateKey, "\n") {
		privateKey += "\n"
	}
	o.logFingerprint(privateKey)

	keyPath := o.KeyPath()
	if err := afero.WriteFile(o.fs, keyPath, []byte(privateKey), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", keyPath, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := o.fs.Chmod(keyPath, 0o600); err != nil {
		return "", fmt.Errorf("chmod %s: %w", keyPath, err)
	}
	return keyPath, nil
}

func (o *Opener) logFingerprint(privateKey string) {
	signer, err := ssh.ParsePrivateKey([]byte(privateKey))
	if err != nil {
		o.logger.Warn("bastion private key could not be parsed", "error", err)
		return
	}
	o.logger.Debug("bastion private key", "type", signer.PublicKey().Type(), "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
}

// cleanupProcess removes the key file once the tunnel is stopped or the
// ssh child exits on its own.
type cleanupProcess struct {
	Process
	fs      afero.Fs
	keyPath string

	once      sync.Once
	removeErr error
}

func (p *cleanupProcess) Wait() error {
	err := p.Process.Wait()
	if rerr := p.removeKey(); rerr != nil && err == nil {
		return rerr
	}
	return err
}

func (p *cleanupProcess) Stop() error {
	if err := p.Process.Stop(); err != nil {
		return err
	}
	return p.removeKey()
}

func (p *cleanupProcess) removeKey() error {
	p.once.Do(func() {
		if err := p.fs.Remove(p.keyPath); err != nil {
			if ok, _ := afero.Exists(p.fs, p.keyPath); ok {
				p.removeErr = fmt.Errorf("remove %s: %w", p.keyPath, err)
			}
		}
	})
	return p.removeErr
}

// WaitForPort blocks until something accepts connections on the local port
// or ctx is done.
func WaitForPort(ctx context.Context, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialer := net.Dialer{Timeout: interval}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for port %d: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}
