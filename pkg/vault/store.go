// Package vault acquires tenant service-account passwords from an external
// secret vault CLI.
//
// The store is the only process-wide mutable state besides the configuration
// snapshot. Lookups are cached; cache hits never invoke the external binary.
package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"importbot/pkg/logx"
)

var (
	// ErrNotFound means the vault has no entry for the tenant. Ticket-scoped:
	// the orchestrator posts setup instructions and moves on.
	ErrNotFound = errors.New("vault: entry not found")

	// ErrUnavailable means the vault tool itself failed. Fatal: the whole run
	// halts rather than misreporting every ticket as missing credentials.
	ErrUnavailable = errors.New("vault: tool unavailable")
)

const cliTimeout = 30 * time.Second

// Runner executes the vault binary. Injected so tests never shell out.
type Runner func(ctx context.Context, binary string, args ...string) (stdout, stderr string, err error)

// Store resolves and caches tenant passwords.
type Store struct {
	binary        string
	vaultName     string
	emailTemplate string
	run           Runner

	mu    sync.RWMutex
	cache map[string]string
}

// NewStore creates a credential store backed by the given vault CLI.
func NewStore(binary, vaultName, emailTemplate string) *Store {
	return &Store{
		binary:        binary,
		vaultName:     vaultName,
		emailTemplate: emailTemplate,
		run:           execRunner,
		cache:         make(map[string]string),
	}
}

// WithRunner replaces the subprocess runner. Test hook.
func (s *Store) WithRunner(r Runner) *Store {
	s.run = r
	return s
}

// LookupKey returns the vault item name for a tenant: the rendered
// service-account email.
func (s *Store) LookupKey(tenant string) string {
	return fmt.Sprintf(s.emailTemplate, tenant)
}

// Get returns the password for a tenant. Errors are ErrNotFound,
// ErrUnavailable, or a context error.
func (s *Store) Get(ctx context.Context, tenant string) (string, error) {
	s.mu.RLock()
	pw, ok := s.cache[tenant]
	s.mu.RUnlock()
	if ok {
		return pw, nil
	}

	pw, err := s.fetch(ctx, tenant)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[tenant] = pw
	s.mu.Unlock()
	return pw, nil
}

// PreloadAll eagerly resolves every tenant, stopping on the first
// vault-unavailable error. Missing entries are skipped silently; they are
// reported ticket by ticket during processing.
func (s *Store) PreloadAll(ctx context.Context, tenants []string) error {
	for _, t := range tenants {
		if _, err := s.Get(ctx, t); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, tenant string) (string, error) {
	key := s.LookupKey(tenant)
	args := []string{"item", "get", key, "--vault", s.vaultName, "--fields", "password", "--reveal"}

	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	logx.Debug("vault lookup", zap.String("tenant", tenant), zap.String("item", key))

	stdout, stderr, err := s.run(ctx, s.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		if isNotFound(stderr) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v: %s", ErrUnavailable, err, strings.TrimSpace(stderr))
	}

	pw := strings.TrimSpace(stdout)
	if pw == "" {
		return "", ErrNotFound
	}
	return pw, nil
}

// isNotFound distinguishes a missing entry from a broken tool. Only a
// non-zero exit whose stderr names a missing item is ticket-scoped.
func isNotFound(stderr string) bool {
	msg := strings.ToLower(stderr)
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "isn't an item") ||
		strings.Contains(msg, "no item")
}

func execRunner(ctx context.Context, binary string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.String(), errb.String(), err
}
