package session

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	defaultUser        = "ubuntu"
	defaultDialTimeout = 10 * time.Second
	defaultDialRetries = 20
	defaultDialDelay   = 3 * time.Second
)

type SSHConfig struct {
	User        string
	DialTimeout time.Duration
	DialRetries uint
	DialDelay   time.Duration
}

type sshSession struct {
	cfg    SSHConfig
	dial   func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
	client *ssh.Client
}

// NewSSH returns a Session speaking SSH with key authentication. Host key
// verification is skipped: the node is ephemeral and its key was generated
// moments ago by the backend.
func NewSSH(cfg SSHConfig) Session {
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DialRetries == 0 {
		cfg.DialRetries = defaultDialRetries
	}
	if cfg.DialDelay == 0 {
		cfg.DialDelay = defaultDialDelay
	}

	return &sshSession{cfg: cfg, dial: ssh.Dial}
}

func (s *sshSession) Connect(ctx context.Context, addr, keyPath string) error {
	material, err := ioutil.ReadFile(keyPath)

	if err != nil {
		return &ConnectivityError{Addr: addr, Err: errors.Wrap(err, "read private key")}
	}

	signer, err := ssh.ParsePrivateKey(material)

	if err != nil {
		return &ConnectivityError{Addr: addr, Err: errors.Wrap(err, "parse private key")}
	}

	config := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.DialTimeout,
	}

	target := addr + ":22"

	// sshd comes up some time after the instance reports running
	err = retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			client, err := s.dial("tcp", target, config)

			if err != nil {
				return err
			}

			s.client = client
			return nil
		},
		retry.Attempts(s.cfg.DialRetries),
		retry.Delay(s.cfg.DialDelay),
		retry.MaxDelay(10*s.cfg.DialDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Debugf("ssh dial %s attempt %d", target, n+1)
		}),
	)

	if err != nil {
		return &ConnectivityError{Addr: addr, Err: err}
	}

	return nil
}

func (s *sshSession) Execute(ctx context.Context, command string) (string, error) {
	if s.client == nil {
		return "", errors.New("session not connected")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	sess, err := s.client.NewSession()

	if err != nil {
		return "", errors.Wrap(err, "open ssh session")
	}

	defer sess.Close()

	log.Debugf("remote> %s", command)

	output, err := sess.CombinedOutput(command)

	if err != nil {
		if exit, ok := err.(*ssh.ExitError); ok {
			return string(output), &RemoteExecutionError{
				Command: command,
				Output:  string(output),
				Status:  exit.ExitStatus(),
				Err:     err,
			}
		}

		return string(output), errors.Wrap(err, "run remote command")
	}

	return string(output), nil
}

// SendFile pushes a local file through an scp sink on the remote side. A
// remotePath ending in "/" keeps the local file name.
func (s *sshSession) SendFile(ctx context.Context, localPath, remotePath string) error {
	if s.client == nil {
		return errors.New("session not connected")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.Open(localPath)

	if err != nil {
		return errors.Wrap(err, "open local file")
	}

	defer file.Close()

	stat, err := file.Stat()

	if err != nil {
		return errors.Wrap(err, "stat local file")
	}

	dir := path.Dir(remotePath)
	name := path.Base(remotePath)

	if strings.HasSuffix(remotePath, "/") {
		dir = strings.TrimSuffix(remotePath, "/")
		name = path.Base(localPath)
	}

	sess, err := s.client.NewSession()

	if err != nil {
		return errors.Wrap(err, "open ssh session")
	}

	defer sess.Close()

	stdin, err := sess.StdinPipe()

	if err != nil {
		return errors.Wrap(err, "open scp pipe")
	}

	copyErr := make(chan error, 1)

	go func() {
		defer stdin.Close()

		if _, err := fmt.Fprintf(stdin, "C0644 %d %s\n", stat.Size(), name); err != nil {
			copyErr <- err
			return
		}

		if _, err := io.Copy(stdin, file); err != nil {
			copyErr <- err
			return
		}

		_, err := fmt.Fprint(stdin, "\x00")
		copyErr <- err
	}()

	if err := sess.Run("/usr/bin/scp -qt " + dir); err != nil {
		return errors.Wrapf(err, "scp %s to %s", localPath, dir)
	}

	if err := <-copyErr; err != nil {
		return errors.Wrap(err, "stream file content")
	}

	return nil
}

func (s *sshSession) Close() error {
	if s.client == nil {
		return nil
	}

	err := s.client.Close()
	s.client = nil
	return err
}
