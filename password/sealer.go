package password

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSealKeyLen         = 16
	saltLength            = 16
	cipherID              = "xchacha20poly1305"
	kdfID                 = "argon2id"
)

var (
	// ErrSealKeyTooShort is returned when the configured seal key is too weak to derive from.
	ErrSealKeyTooShort = errors.New("seal key must be at least 16 bytes")
	// ErrSealedFormat is returned when a sealed value cannot be parsed.
	ErrSealedFormat = errors.New("invalid sealed password format")
	// ErrSealedAuth is returned when a sealed value fails authentication (wrong key or tampering).
	ErrSealedAuth = errors.New("sealed password authentication failed")
)

// Config holds key-derivation parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultConfig returns derivation parameters tuned for infrequent sealing.
func DefaultConfig() Config {
	return Config{
		Memory:      19 * 1024,
		Time:        2,
		Parallelism: 1,
	}
}

// Sealer encrypts and decrypts retained passwords with a key derived from a
// long-lived seal key.
type Sealer struct {
	key    []byte
	config Config
}

// NewSealer validates cfg and returns a Sealer bound to sealKey.
func NewSealer(sealKey []byte, cfg Config) (*Sealer, error) {
	if len(sealKey) < minSealKeyLen {
		return nil, ErrSealKeyTooShort
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	key := make([]byte, len(sealKey))
	copy(key, sealKey)
	return &Sealer{key: key, config: cfg}, nil
}

// Seal encrypts plaintext into the encoded sealed form.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(s.derive(salt, s.config))
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), salt)

	return fmt.Sprintf(
		"$%s$%s$m=%d,t=%d,p=%d$%s$%s",
		cipherID,
		kdfID,
		s.config.Memory,
		s.config.Time,
		s.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sealed),
	), nil
}

// Open decrypts a value produced by Seal. The parameters embedded in the value
// are used, so values sealed under older parameters stay readable.
func (s *Sealer) Open(encoded string) (string, error) {
	parsed, err := parseSealed(encoded)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(s.derive(parsed.salt, parsed.params))
	if err != nil {
		return "", err
	}
	if len(parsed.payload) < aead.NonceSize()+aead.Overhead() {
		return "", ErrSealedFormat
	}

	nonce, ciphertext := parsed.payload[:aead.NonceSize()], parsed.payload[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, parsed.salt)
	if err != nil {
		return "", ErrSealedAuth
	}
	return string(plaintext), nil
}

// NeedsReseal reports whether encoded was produced with weaker parameters than
// the Sealer's current configuration.
func (s *Sealer) NeedsReseal(encoded string) (bool, error) {
	parsed, err := parseSealed(encoded)
	if err != nil {
		return false, err
	}
	return s.config.Memory > parsed.params.Memory ||
		s.config.Time > parsed.params.Time ||
		s.config.Parallelism > parsed.params.Parallelism, nil
}

func (s *Sealer) derive(salt []byte, cfg Config) []byte {
	return argon2.IDKey(s.key, salt, cfg.Time, cfg.Memory, cfg.Parallelism, chacha20poly1305.KeySize)
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("parallelism must be >= 1")
	}
	return nil
}

type parsedSealed struct {
	params  Config
	salt    []byte
	payload []byte
}

func parseSealed(encoded string) (*parsedSealed, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrSealedFormat
	}
	if parts[1] != cipherID || parts[2] != kdfID {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrSealedFormat)
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) != saltLength {
		return nil, fmt.Errorf("%w: invalid salt", ErrSealedFormat)
	}

	payload, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(payload) == 0 {
		return nil, fmt.Errorf("%w: invalid payload", ErrSealedFormat)
	}

	return &parsedSealed{params: *params, salt: salt, payload: payload}, nil
}

func parseParams(part string) (*Config, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, fmt.Errorf("%w: invalid parameter format", ErrSealedFormat)
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             Config
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: invalid parameter entry", ErrSealedFormat)
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, fmt.Errorf("%w: invalid memory parameter", ErrSealedFormat)
			}
			params.Memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, fmt.Errorf("%w: invalid time parameter", ErrSealedFormat)
			}
			params.Time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, fmt.Errorf("%w: invalid parallelism parameter", ErrSealedFormat)
			}
			params.Parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, fmt.Errorf("%w: unsupported parameter", ErrSealedFormat)
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, fmt.Errorf("%w: missing parameters", ErrSealedFormat)
	}

	return &params, nil
}
