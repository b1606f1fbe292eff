// Package ident allocates collision-free public identifiers for files and
// albums under concurrent load.
//
// Allocation combines a process-local "on-hold" set with a persistent
// uniqueness check. The on-hold set closes the window between two
// concurrent requests drawing the same random string before either has
// inserted a row; the persistent check closes the window against
// identifiers that already exist. A reservation is released when the
// owning request finishes, whether or not a row was committed.
package ident

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/store/models"
)

// alphabet is the character set for public identifiers.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultMaxTries bounds the retry loop before giving up with
// models.ErrIdentifierExhausted.
const DefaultMaxTries = 3

// CheckMode selects how persistent uniqueness is verified.
type CheckMode int

const (
	// CheckDatabase queries the relevant table. This is the recommended
	// default: it matches any extension sharing the identifier, so
	// thumbnail names (keyed by identifier alone) collide correctly.
	CheckDatabase CheckMode = iota

	// CheckFilesystem stats the uploads directory for the exact
	// identifier+extension. Cheaper, but blind to other extensions.
	CheckFilesystem
)

// Checker is the persistent side of the uniqueness check.
type Checker interface {
	FileIdentifierInUse(ctx context.Context, identifier string) (bool, error)
	AlbumIdentifierInUse(ctx context.Context, identifier string) (bool, error)
}

// Allocator issues unique identifiers backed by an on-hold set.
type Allocator struct {
	checker  Checker
	paths    *paths.Paths
	mode     CheckMode
	maxTries int

	mu     sync.Mutex
	onHold map[string]struct{}
}

// New creates an Allocator. paths may be nil when mode is CheckDatabase.
func New(checker Checker, p *paths.Paths, mode CheckMode) *Allocator {
	return &Allocator{
		checker:  checker,
		paths:    p,
		mode:     mode,
		maxTries: DefaultMaxTries,
		onHold:   make(map[string]struct{}),
	}
}

// Release returns an identifier reservation to the pool. It is idempotent
// and must always run when the owning request completes; callers defer it
// immediately after a successful reservation.
type Release func()

// ReserveFile allocates an unused file identifier of the given length.
// extension is only consulted in CheckFilesystem mode.
func (a *Allocator) ReserveFile(ctx context.Context, length int, extension string) (string, Release, error) {
	return a.reserve(ctx, length, func(candidate string) (bool, error) {
		if a.mode == CheckFilesystem {
			return a.fileOnDisk(candidate + extension)
		}
		return a.checker.FileIdentifierInUse(ctx, candidate)
	})
}

// ReserveAlbum allocates an unused album identifier of the given length.
func (a *Allocator) ReserveAlbum(ctx context.Context, length int) (string, Release, error) {
	return a.reserve(ctx, length, func(candidate string) (bool, error) {
		return a.checker.AlbumIdentifierInUse(ctx, candidate)
	})
}

// reserve runs the draw/hold/check loop. Collisions are broken by retry,
// never by overwriting an existing hold.
func (a *Allocator) reserve(ctx context.Context, length int, inUse func(string) (bool, error)) (string, Release, error) {
	for try := 0; try < a.maxTries; try++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		candidate, err := randomString(length)
		if err != nil {
			return "", nil, err
		}

		if !a.hold(candidate) {
			continue
		}

		taken, err := inUse(candidate)
		if err != nil {
			a.release(candidate)
			return "", nil, err
		}
		if taken {
			a.release(candidate)
			continue
		}

		var once sync.Once
		release := func() {
			once.Do(func() { a.release(candidate) })
		}
		return candidate, release, nil
	}
	return "", nil, models.ErrIdentifierExhausted
}

// hold inserts candidate into the on-hold set; false if already held.
func (a *Allocator) hold(candidate string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, held := a.onHold[candidate]; held {
		return false
	}
	a.onHold[candidate] = struct{}{}
	return true
}

func (a *Allocator) release(candidate string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.onHold, candidate)
}

// HeldCount returns the number of live reservations. Outside of in-flight
// requests this is zero.
func (a *Allocator) HeldCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.onHold)
}

// fileOnDisk implements the filesystem check. A stat error other than
// "not exist" is a real failure, not a free identifier.
func (a *Allocator) fileOnDisk(name string) (bool, error) {
	path, err := a.paths.UploadPath(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// randomString draws length characters from the identifier alphabet using
// crypto/rand.
func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid identifier length %d", length)
	}
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to draw random identifier: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
