// Package auth provides the SSH key-pair credentials used for fetch and push.
package auth

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// ErrCredentials marks every failure to produce credentials for a remote.
var ErrCredentials = errors.New("credentials unavailable")

const (
	// DefaultUsername is used when the remote URL carries none.
	DefaultUsername = "git"

	defaultKeyName = "id_ed25519"
)

// SSHKeyProvider supplies public-key authentication for SSH remotes. Empty
// key paths default to ~/.ssh/id_ed25519 and its .pub companion. Paths are
// resolved on every call so a key installed after startup is picked up.
type SSHKeyProvider struct {
	// PrivateKeyFile is the path to the private key.
	PrivateKeyFile string

	// PublicKeyFile is the path to the public key. It must match the
	// private key.
	PublicKeyFile string

	// PassphraseFile holds the passphrase of an encrypted private key.
	PassphraseFile string

	// KnownHostsFile verifies server host keys. When empty the known_hosts
	// files go-git finds by default are used.
	KnownHostsFile string

	// InsecureIgnoreHostKey accepts any server host key.
	InsecureIgnoreHostKey bool

	homeDir func() (string, error)
}

// NewSSHKeyProvider creates a provider for the given key pair. Either path
// may be empty to use the default.
func NewSSHKeyProvider(privateKeyFile, publicKeyFile string) *SSHKeyProvider {
	return &SSHKeyProvider{
		PrivateKeyFile: privateKeyFile,
		PublicKeyFile:  publicKeyFile,
		homeDir:        homeDir,
	}
}

// WithPassphraseFile sets the file holding the private key passphrase.
func (p *SSHKeyProvider) WithPassphraseFile(path string) *SSHKeyProvider {
	p.PassphraseFile = path
	return p
}

// WithKnownHostsFile sets the known_hosts file used to verify servers.
func (p *SSHKeyProvider) WithKnownHostsFile(path string) *SSHKeyProvider {
	p.KnownHostsFile = path
	return p
}

// WithInsecureIgnoreHostKey disables host key verification.
func (p *SSHKeyProvider) WithInsecureIgnoreHostKey(insecure bool) *SSHKeyProvider {
	p.InsecureIgnoreHostKey = insecure
	return p
}

// Method returns the auth method for remoteURL. Remotes reached without SSH
// need no credentials and get a nil method. Every error wraps ErrCredentials.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *SSHKeyProvider) Method(remoteURL, username string) (transport.AuthMethod, error) {
	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid remote URL %q: %w", ErrCredentials, remoteURL, err)
	}
	if ep.Protocol != "ssh" {
		return nil, nil
	}

	if username == "" {
		username = ep.User
	}
	if username == "" {
		username = DefaultUsername
	}

	privateKey, publicKey, err := p.keyPaths()
	if err != nil {
		return nil, err
	}

	passphrase, err := p.passphrase()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(privateKey); err != nil {
		return nil, fmt.Errorf("%w: private key %s: %w", ErrCredentials, privateKey, err)
	}
	auth, err := ssh.NewPublicKeysFromFile(username, privateKey, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load private key %s: %w", ErrCredentials, privateKey, err)
	}

	if err := checkPublicKey(publicKey, auth.Signer.PublicKey()); err != nil {
		return nil, err
	}

	callback, err := p.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	if callback != nil {
		auth.HostKeyCallback = callback
	}
	return auth, nil
}

// keyPaths resolves the private and public key paths, applying defaults
// below the home directory.
func (p *SSHKeyProvider) keyPaths() (string, string, error) {
	privateKey, publicKey := p.PrivateKeyFile, p.PublicKeyFile

	if privateKey == "" {
		lookup := p.homeDir
		if lookup == nil {
			lookup = homeDir
		}
		home, err := lookup()
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrCredentials, err)
		}
		privateKey = filepath.Join(home, ".ssh", defaultKeyName)
	}
	if publicKey == "" {
		publicKey = privateKey + ".pub"
	}
	return privateKey, publicKey, nil
}

func (p *SSHKeyProvider) passphrase() (string, error) {
	if p.PassphraseFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(p.PassphraseFile)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read passphrase file: %w", ErrCredentials, err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (p *SSHKeyProvider) hostKeyCallback() (gossh.HostKeyCallback, error) {
	if p.InsecureIgnoreHostKey {
		return gossh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly requested
	}
	if p.KnownHostsFile == "" {
		return nil, nil
	}
	callback, err := ssh.NewKnownHostsCallback(p.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load known hosts %s: %w", ErrCredentials, p.KnownHostsFile, err)
	}
	return callback, nil
}

// checkPublicKey verifies that the public key file exists and belongs to the
// loaded private key.
func checkPublicKey(path string, want gossh.PublicKey) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: public key %s: %w", ErrCredentials, path, err)
	}

	got, _, _, _, err := gossh.ParseAuthorizedKey(b)
	if err != nil {
		return fmt.Errorf("%w: failed to parse public key %s: %w", ErrCredentials, path, err)
	}
	if !bytes.Equal(got.Marshal(), want.Marshal()) {
		return fmt.Errorf("%w: public key %s does not match the private key", ErrCredentials, path)
	}
	return nil
}

// homeDir returns $HOME, falling back to the user database.
func homeDir() (string, error) {
	if home := os.Getenv("HOME"); home != "" {
		return home, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	if u.HomeDir == "" {
		return "", errors.New("failed to determine home directory: user has none")
	}
	return u.HomeDir, nil
}
