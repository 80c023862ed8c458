// Package statedir locates and provisions the per-configuration-set
// state directory: a friendly-named, hash-addressed directory under the
// scheduler's state root holding the check marker, per-task state
// blobs, and a conf/ directory of symlinks back to the live
// configuration files for debugging.
package statedir

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/hrygo/fate/internal/animalname"
	"github.com/hrygo/fate/internal/obslog"
)

// fs is the filesystem Resolve operates over. It's a package variable
// rather than a Resolve parameter so every other exported function here
// keeps its existing signature; swap it in a test via a plain
// assignment if a directory needs to be faked rather than created for
// real. afero.Fs has no Symlink method (not every backend can support
// one), so conf/ symlinks still go through the os package directly via
// afero.Linker's SymlinkIfPossible.
var fs = afero.NewOsFs()

// fateNamespace seeds the deterministic UUIDs RunID derives, so the same
// configuration set always maps to the same identifier across machines.
var fateNamespace = uuid.Must(uuid.FromBytes([]byte{
	0xfa, 0x7e, 0x5c, 0x4e, 0xd0, 0x6e, 0x49, 0x71,
	0xbb, 0x32, 0x5c, 0x68, 0x65, 0x64, 0x75, 0x6c,
}))

// RunID derives a stable UUID v5 identifier for a configuration set,
// for tagging debug dumps and logs with something more globally unique
// than the directory's own MD5 signature.
func RunID(confPaths []string) string {
	return uuid.NewSHA1(fateNamespace, []byte(Signature(confPaths))).String()
}

// Signature computes the deterministic hex digest of a set of
// configuration file paths: the sorted, OS-path-list-separated join of
// the paths as given (not made absolute), MD5-hashed. Only this hash identifies a state
// directory; any friendly name tag is advisory.
func Signature(confPaths []string) string {
	sorted := append([]string(nil), confPaths...)
	sort.Strings(sorted)
	joined := strings.Join(sorted, string(os.PathListSeparator))
	sum := md5.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// Resolve locates (creating and migrating as needed) the state
// directory for a given set of configuration file paths under stateRoot.
// When it creates a fresh directory it also creates state/conf/ with a
// symlink to each configured path, for operators inspecting the directory
// by hand; an existing or migrated directory's conf/ is left as it is.
func Resolve(stateRoot string, confPaths []string, logger *obslog.Logger) (string, error) {
	if logger == nil {
		logger = obslog.Default()
	}

	digest := Signature(confPaths)
	tag := animalname.For(digest)
	target := filepath.Join(stateRoot, fmt.Sprintf("%s-%s", tag, digest))

	if _, err := fs.Stat(target); err == nil {
		return target, nil
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "unable to stat state directory %s", target)
	}

	entries, err := afero.ReadDir(fs, stateRoot)
	if err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "unable to list state root %s", stateRoot)
	}

	var matches []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if tagOf(entry.Name()) == digest {
			matches = append(matches, entry.Name())
		}
	}

	switch len(matches) {
	case 0:
		confDir := filepath.Join(target, "conf")
		if err := fs.MkdirAll(confDir, 0o755); err != nil {
			return "", errors.Wrapf(err, "unable to create state directory %s", target)
		}
		if err := linkConfFiles(confDir, confPaths); err != nil {
			return "", err
		}
	case 1:
		stale := filepath.Join(stateRoot, matches[0])
		logger.Debug("migrating stale state directory", "stale", stale, "target", target)
		if err := fs.Rename(stale, target); err != nil {
			return "", errors.Wrapf(err, "unable to migrate stale state directory %s", stale)
		}
	default:
		logger.Warn("ignoring additional stale state directories", "stale", matches[1:])
		stale := filepath.Join(stateRoot, matches[0])
		if err := fs.Rename(stale, target); err != nil {
			return "", errors.Wrapf(err, "unable to migrate stale state directory %s", stale)
		}
	}

	return target, nil
}

// tagOf extracts the hash suffix from a "<tag>-<hash>" directory name.
func tagOf(dirname string) string {
	idx := strings.LastIndex(dirname, "-")
	if idx < 0 {
		return ""
	}
	return dirname[idx+1:]
}

func linkConfFiles(confDir string, confPaths []string) error {
	linker, ok := fs.(afero.Linker)
	if !ok {
		return errors.Errorf("filesystem backend does not support symlinks")
	}

	for _, path := range confPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return errors.Wrapf(err, "unable to resolve conf path %s", path)
		}
		link := filepath.Join(confDir, filepath.Base(abs))
		if err := linker.SymlinkIfPossible(abs, link); err != nil && !os.IsExist(err) {
			return errors.Wrapf(err, "unable to symlink %s", link)
		}
	}
	return nil
}

// TaskStatePath returns the path to the persisted state blob for a
// named task within a resolved state directory.
func TaskStatePath(stateDir, taskName string) string {
	return filepath.Join(stateDir, taskName+".state")
}

// WriteStateAtomic persists data to path via write-temp-then-rename, so
// a reader never observes a partially-written state blob.
func WriteStateAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return errors.Wrapf(err, "unable to create temp state file in %s", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "unable to write temp state file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "unable to close temp state file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "unable to rename temp state file to %s", path)
	}
	return nil
}
