package source

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bianoble/flacm/internal/staging"
)

// Sftp fetches a tree over SSH. Locations take the form
// //[user@]host[:port]/path.
type Sftp struct {
	User         string
	IdentityFile string
	// KnownHosts enables host key verification when set.
	KnownHosts string
	Timeout    time.Duration
	Log        zerolog.Logger
}

// Fetch downloads the remote item into destDir/<basename>, retrying once
// on failure.
func (s Sftp) Fetch(ctx context.Context, location, destDir string) error {
	u, err := url.Parse("sftp:" + location)
	if err != nil || u.Host == "" {
		return &SourceError{
			Source:    "sftp:" + location,
			Operation: "fetch",
			Err:       fmt.Errorf("%w '%s'", ErrInvalidLocator, location),
			Hint:      "expected sftp://[user@]host[:port]/path",
		}
	}

	err = retryOnce(func() error { return s.fetch(ctx, u, destDir) })
	if err != nil {
		return &SourceError{
			Source:    u.Redacted(),
			Operation: "fetch",
			Err:       err,
			Hint:      "check SSH credentials and host key",
		}
	}
	return nil
}

func (s Sftp) fetch(ctx context.Context, u *url.URL, destDir string) error {
	cfg, err := s.clientConfig(u)
	if err != nil {
		return err
	}

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "22")
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("starting sftp session: %w", err)
	}
	defer client.Close()

	remote := path.Clean(u.Path)
	return s.download(ctx, client, remote, filepath.Join(destDir, path.Base(remote)))
}

func (s Sftp) clientConfig(u *url.URL) (*ssh.ClientConfig, error) {
	user := s.User
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	if user == "" {
		user = "root"
	}

	var auth []ssh.AuthMethod
	if s.IdentityFile != "" {
		keyBytes, err := os.ReadFile(s.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if s.KnownHosts != "" {
		cb, err := knownhosts.New(s.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		s.Log.Warn().Str("host", u.Hostname()).Msg("host key not verified; set ssh.known_hosts")
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // operator opt-out
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.Timeout,
	}, nil
}

// download walks remote and mirrors it under local, recreating symlinks.
func (s Sftp) download(ctx context.Context, client *sftp.Client, remote, local string) error {
	walker := client.Walk(remote)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("walking %s: %w", walker.Path(), err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(remote, walker.Path())
		if err != nil {
			return err
		}
		target := filepath.Join(local, rel)
		info := walker.Stat()

		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()|0700); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case info.Mode()&os.ModeSymlink != 0:
			link, err := client.ReadLink(walker.Path())
			if err != nil {
				return fmt.Errorf("reading link %s: %w", walker.Path(), err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.RemoveAll(target)
			if err := os.Symlink(link, target); err != nil {
				return fmt.Errorf("creating link %s: %w", target, err)
			}
		case info.Mode().IsRegular():
			if err := s.downloadFile(client, walker.Path(), target, info.Mode().Perm()); err != nil {
				return err
			}
		default:
			s.Log.Debug().Str("path", walker.Path()).Msg("skipping irregular remote file")
		}
	}
	return nil
}

func (s Sftp) downloadFile(client *sftp.Client, remote, local string, perm os.FileMode) error {
	f, err := client.Open(remote)
	if err != nil {
		return fmt.Errorf("opening remote file %s: %w", remote, err)
	}
	defer f.Close()

	if err := staging.WriteFileAtomic(local, f, perm); err != nil {
		return fmt.Errorf("downloading %s: %w", remote, err)
	}
	s.Log.Debug().Str("remote", remote).Str("local", local).Msg("downloaded")
	return nil
}
