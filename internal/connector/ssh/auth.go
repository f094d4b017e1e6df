package ssh

import (
	"bytes"
	"fmt"
	"os"

	gossh "golang.org/x/crypto/ssh"

	"github.com/eugenetaranov/trs/internal/connector"
)

// authMethods converts credentials to SSH auth methods.
func authMethods(auth connector.Auth) ([]gossh.AuthMethod, error) {
	switch a := auth.(type) {
	case connector.PasswordAuth:
		// Some servers only offer keyboard-interactive for passwords
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = a.Password
			}
			return answers, nil
		}
		return []gossh.AuthMethod{
			gossh.Password(a.Password),
			gossh.KeyboardInteractive(answer),
		}, nil

	case connector.KeyAuth:
		signer, err := loadSigner(a)
		if err != nil {
			return nil, err
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, nil

	default:
		return nil, fmt.Errorf("unsupported auth method %T", auth)
	}
}

// loadSigner reads the private key, decrypting it with the passphrase if
// one is set, and checks it against the public key when a path is given.
func loadSigner(a connector.KeyAuth) (gossh.Signer, error) {
	pem, err := os.ReadFile(a.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer gossh.Signer
	if a.Passphrase != "" {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(pem, []byte(a.Passphrase))
	} else {
		signer, err = gossh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if a.PublicKeyPath == "" {
		return signer, nil
	}

	data, err := os.ReadFile(a.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	pub, _, _, _, err := gossh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	if !bytes.Equal(pub.Marshal(), signer.PublicKey().Marshal()) {
		return nil, fmt.Errorf("public key %s does not match private key", a.PublicKeyPath)
	}

	return signer, nil
}
