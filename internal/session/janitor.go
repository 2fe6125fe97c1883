package session

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// dirPrefix names current credential directories. Ids carrying it are
// refused: the legacy <root>/<tenant> directory of "session-x" would be
// the current directory of "x".
const dirPrefix = "session-"

// ValidateTenant rejects ids that cannot be used as a credential directory name.
func ValidateTenant(tenant string) error {
	if !tenantPattern.MatchString(tenant) || strings.HasPrefix(strings.ToLower(tenant), dirPrefix) {
		return errors.Wrapf(ErrInvalidTenant, "%q", tenant)
	}
	return nil
}

// CredentialLayout knows where the adapter's credential store keeps each
// tenant's material. Dir is the current layout; Legacy lists layouts
// written by earlier releases that are still cleaned up.
type CredentialLayout struct {
	Root string
}

func (l CredentialLayout) Dir(tenant string) string {
	return filepath.Join(l.Root, dirPrefix+tenant)
}

func (l CredentialLayout) Legacy(tenant string) []string {
	return []string{
		filepath.Join(l.Root, tenant),
		filepath.Join(l.Root, ".wwebjs_auth", dirPrefix+tenant),
	}
}

// Paths lists the current directory followed by the legacy ones.
func (l CredentialLayout) Paths(tenant string) []string {
	return append([]string{l.Dir(tenant)}, l.Legacy(tenant)...)
}

// overlaps reports whether any directory of a is, contains or sits inside
// a directory of b. Names are compared case-insensitively.
func overlaps(a, b []string) bool {
	for _, x := range a {
		x = strings.ToLower(filepath.Clean(x))
		for _, y := range b {
			y = strings.ToLower(filepath.Clean(y))
			if x == y || strings.HasPrefix(x, y+string(filepath.Separator)) || strings.HasPrefix(y, x+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

// Remove deletes every credential directory of tenant that exists and
// returns the removed paths. Nothing to remove is not an error.
func (l CredentialLayout) Remove(tenant string) ([]string, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	removed := []string{}
	for _, dir := range l.Paths(tenant) {
		if _, err := os.Lstat(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, errors.Wrapf(err, "stat %s", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, errors.Wrapf(err, "remove %s", dir)
		}
		removed = append(removed, dir)
	}
	return removed, nil
}

// Janitor deletes on-disk credentials in coordination with the Registry so
// that no file is removed while an adapter for the tenant is registered.
type Janitor struct {
	layout   CredentialLayout
	registry *Registry
	logger   *zap.Logger
}

func NewJanitor(layout CredentialLayout, registry *Registry, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.L()
	}
	return &Janitor{layout: layout, registry: registry, logger: logger}
}

func (j *Janitor) Layout() CredentialLayout { return j.layout }

// DeleteCredentials removes the tenant's credential directories. It refuses
// while any adapter whose store shares one of those directories is
// registered or still closing.
func (j *Janitor) DeleteCredentials(tenant string) ([]string, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	release, err := j.registry.reserve(tenant)
	if err != nil {
		return nil, err
	}
	defer release()
	return j.deleteReserved(tenant)
}

// ForceReset logs the tenant out if a session exists, then deletes its
// credentials.
func (j *Janitor) ForceReset(ctx context.Context, tenant string) ([]string, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	release, err := j.registry.reserve(tenant)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := j.registry.Logout(ctx, tenant); err != nil && !errors.Is(err, ErrNoSession) {
		j.logger.Info("session: logout during force reset failed", append(tenantFields(tenant), zap.Error(err))...)
	}
	return j.deleteReserved(tenant)
}

func (j *Janitor) deleteReserved(tenant string) ([]string, error) {
	paths := j.layout.Paths(tenant)
	for _, holder := range j.registry.holders() {
		if overlaps(paths, j.layout.Paths(holder)) {
			j.logger.Info("session: credentials in use",
				append(tenantFields(tenant), zap.String("holder", holder))...)
			return nil, ErrSessionActive
		}
	}
	removed, err := j.layout.Remove(tenant)
	if err != nil {
		j.logger.Error("session: credential removal failed", append(tenantFields(tenant), zap.Error(err))...)
		return removed, err
	}
	j.logger.Info("session: credentials removed", append(tenantFields(tenant), zap.Strings("paths", removed))...)
	return removed, nil
}
