// Package id provides identifier types and generation for the notebook backend.
//
// Server-minted identifiers (sessions, requests, initializations) are prefixed
// ULIDs so they sort by creation time and read well in logs. Cell identifiers
// are assigned by the editing client and treated as opaque. File identifiers
// are derived deterministically from the workspace-relative path so repeated
// listings of the same tree agree.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// SessionID identifies a running kernel session bound to one notebook path
type SessionID string

// CellID identifies a cell; stable across edits and notebook renames
type CellID string

// RequestID correlates an asynchronous response with the call that caused it
type RequestID string

// FileID identifies a file descriptor within the workspace root
type FileID string

// InitializationID identifies one kernel start of a session
type InitializationID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	SessionPrefix        = "s"
	RequestPrefix        = "req"
	InitializationPrefix = "init"
)

// fileNamespace scopes UUIDv5 file ids so they never collide with other v5 users
var fileNamespace = uuid.MustParse("6f1c7a8e-3b7d-5d2c-9a51-2c4e8f0b7d13")

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for tests that need deterministic ids.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewInitializationID generates a new kernel initialization ID
func NewInitializationID() InitializationID {
	return InitializationID(Default().GenerateWithPrefix(InitializationPrefix))
}

// FileIDForPath derives the file id for a workspace-relative, slash-separated path.
func FileIDForPath(relPath string) FileID {
	return FileID(uuid.NewSHA1(fileNamespace, []byte(relPath)).String())
}

// ============================================================================
// Conversion and Validation
// ============================================================================

func (id SessionID) String() string        { return string(id) }
func (id CellID) String() string           { return string(id) }
func (id RequestID) String() string        { return string(id) }
func (id FileID) String() string           { return string(id) }
func (id InitializationID) String() string { return string(id) }

// IsZero reports whether the id is empty
func (id SessionID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// IsZero reports whether the id is empty
func (id CellID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// IsZero reports whether the id is empty
func (id RequestID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// IsZero reports whether the id is empty
func (id InitializationID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string, accepting an optional "prefix_" head.
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}
