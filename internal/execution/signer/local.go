package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "SPOUT_PRIVATE_KEY"
	EnvPrivateKeyFile       = "SPOUT_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "SPOUT_KEYSTORE_PATH"
	EnvKeystorePassword     = "SPOUT_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "SPOUT_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"

	defaultKeyFile = "spout/key.hex"
)

// LocalSigner holds an in-process secp256k1 key for the vault owner.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

// keyMaterial lists every key location visible to the process. At most one
// is used; the first non-empty field in declaration order wins.
type keyMaterial struct {
	hex          string
	file         string
	keystore     string
	password     string
	passwordFile string
}

func materialFromEnv() keyMaterial {
	m := keyMaterial{
		hex:          strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		file:         strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		keystore:     strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		password:     strings.TrimSpace(os.Getenv(EnvKeystorePassword)),
		passwordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
	if m.file == "" {
		m.file = existingDefaultKeyFile()
	}
	return m
}

// restrict keeps only the locations the key source allows.
func (m keyMaterial) restrict(source string) (keyMaterial, error) {
	switch source {
	case "", KeySourceAuto:
		return m, nil
	case KeySourceEnv:
		return keyMaterial{hex: m.hex}, nil
	case KeySourceFile:
		return keyMaterial{file: m.file}, nil
	case KeySourceKeystore:
		return keyMaterial{keystore: m.keystore, password: m.password, passwordFile: m.passwordFile}, nil
	default:
		return keyMaterial{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
	}
}

func (m keyMaterial) load() (*ecdsa.PrivateKey, error) {
	switch {
	case m.hex != "":
		return parseHexKey(m.hex)
	case m.file != "":
		buf, err := os.ReadFile(m.file)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	case m.keystore != "":
		return m.decryptKeystore()
	}
	return nil, fmt.Errorf("missing signing key: write a hex key to %s or set %s, %s or %s", defaultKeyPath(), EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

func (m keyMaterial) decryptKeystore() (*ecdsa.PrivateKey, error) {
	password := m.password
	if password == "" && m.passwordFile != "" {
		buf, err := os.ReadFile(m.passwordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if password == "" {
		return nil, errors.New("keystore password is required")
	}
	blob, err := os.ReadFile(m.keystore)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(blob, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

// NewLocalSignerFromEnv loads the owner key from the locations allowed by
// source (auto, env, file or keystore).
func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	m, err := materialFromEnv().restrict(strings.ToLower(strings.TrimSpace(source)))
	if err != nil {
		return nil, err
	}
	pk, err := m.load()
	if err != nil {
		return nil, err
	}
	return newLocalSigner(pk)
}

func newLocalSigner(pk *ecdsa.PrivateKey) (*LocalSigner, error) {
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, errors.New("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func defaultKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return filepath.Join("~", ".config", defaultKeyFile)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultKeyFile)
}

// existingDefaultKeyFile returns the default key path only when a regular
// file exists there.
func existingDefaultKeyFile() string {
	path := defaultKeyPath()
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
