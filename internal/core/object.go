package core

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ObjectType identifies the kind of payload an Object carries.
type ObjectType string

const (
	ObjectTypeBlob   ObjectType = "blob"
	ObjectTypeTree   ObjectType = "tree"
	ObjectTypeCommit ObjectType = "commit"
)

// Object is the generic on-disk shape: a typed, hashed byte payload.
// Serialized form is "<kind> <size>\0" followed by the payload; the
// object's Hash is the SHA-1 of that entire byte sequence.
type Object struct {
	Type ObjectType
	Data []byte
	Hash Hash
}

// Header returns the canonical "<kind> <size>\0" prefix for this object.
func Header(kind ObjectType, size int) []byte {
	return []byte(fmt.Sprintf("%s %d\x00", kind, size))
}

// Serialize returns the exact bytes whose SHA-1 is the object's Hash.
func Serialize(kind ObjectType, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+16)
	buf = append(buf, Header(kind, len(payload))...)
	buf = append(buf, payload...)
	return buf
}

// Identity is an author or committer record: name, email, and the
// moment in time expressed as unix seconds plus a timezone offset in
// minutes east of UTC.
type Identity struct {
	Name      string
	Email     string
	When      time.Time
	TZOffsetM int // minutes east of UTC; derived from When's Location if zero
}

// offsetMinutes returns the identity's timezone offset in minutes east
// of UTC, computing it from When's Location when TZOffsetM was not set
// explicitly.
func (id Identity) offsetMinutes() int {
	if id.TZOffsetM != 0 {
		return id.TZOffsetM
	}
	_, offsetSec := id.When.Zone()
	return offsetSec / 60
}

func formatTZ(offsetMinutes int) string {
	sign := "+"
	if offsetMinutes < 0 {
		sign = "-"
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("%s%02d%02d", sign, offsetMinutes/60, offsetMinutes%60)
}

func parseTZ(s string) (int, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("invalid timezone offset %q", s)
	}
	hh, err := strconv.Atoi(s[1:3])
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, err
	}
	total := hh*60 + mm
	if s[0] == '-' {
		total = -total
	}
	return total, nil
}

func (id Identity) encode() string {
	return fmt.Sprintf("%s <%s> %d %s", id.Name, id.Email, id.When.Unix(), formatTZ(id.offsetMinutes()))
}

// Commit represents a snapshot anchor: one tree, zero or one parent
// (multi-parent merge commits are out of scope per spec Non-goals),
// author/committer identities and a free-form message.
type Commit struct {
	Tree      Hash
	Parent    Hash // zero means "no parent"
	Author    Identity
	Committer Identity
	Message   string
}

// EncodeCommit serializes a commit into the canonical line-oriented form:
//
//	tree <hex>
//	[parent <hex>]
//	author <name> <email> <unix> <tz>
//	committer <name> <email> <unix> <tz>
//	<blank line>
//	<message>
func EncodeCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree.String())
	if !c.Parent.IsZero() {
		fmt.Fprintf(&buf, "parent %s\n", c.Parent.String())
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.encode())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.encode())
	fmt.Fprintf(&buf, "\n%s\n", c.Message)
	return buf.Bytes()
}

// DecodeCommit parses a commit encoded by EncodeCommit. It tolerates
// extra headers it doesn't recognize (they are skipped) but requires
// tree, author and committer to be present; parent is optional. The
// message preserves interior blank lines.
func DecodeCommit(data []byte) (*Commit, error) {
	text := string(data)
	headerPart, message, found := strings.Cut(text, "\n\n")
	if !found {
		return nil, fmt.Errorf("%w: missing header/message separator", ErrInvalidCommit)
	}
	message = strings.TrimSuffix(message, "\n")

	commit := &Commit{}
	var haveAuthor, haveCommitter bool
	for _, line := range strings.Split(headerPart, "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "tree":
			h, err := ParseHash(value)
			if err != nil {
				return nil, fmt.Errorf("invalid tree hash: %w", err)
			}
			commit.Tree = h
		case "parent":
			h, err := ParseHash(value)
			if err != nil {
				return nil, fmt.Errorf("invalid parent hash: %w", err)
			}
			commit.Parent = h
		case "author":
			id, err := decodeIdentity(value)
			if err != nil {
				return nil, fmt.Errorf("invalid author: %w", err)
			}
			commit.Author = id
			haveAuthor = true
		case "committer":
			id, err := decodeIdentity(value)
			if err != nil {
				return nil, fmt.Errorf("invalid committer: %w", err)
			}
			commit.Committer = id
			haveCommitter = true
		}
	}

	if commit.Tree.IsZero() {
		return nil, fmt.Errorf("%w: missing tree", ErrInvalidCommit)
	}
	if !haveAuthor || !haveCommitter {
		return nil, fmt.Errorf("%w: missing author or committer", ErrInvalidCommit)
	}
	commit.Message = message
	return commit, nil
}

// decodeIdentity parses "Name <email> unixseconds +tzoffset".
func decodeIdentity(s string) (Identity, error) {
	emailStart := strings.IndexByte(s, '<')
	emailEnd := strings.IndexByte(s, '>')
	if emailStart == -1 || emailEnd == -1 || emailEnd < emailStart {
		return Identity{}, fmt.Errorf("missing email in %q", s)
	}

	name := strings.TrimSpace(s[:emailStart])
	email := s[emailStart+1 : emailEnd]

	rest := strings.TrimSpace(s[emailEnd+1:])
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return Identity{}, fmt.Errorf("expected timestamp and timezone in %q", s)
	}

	unixSec, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	tz, err := parseTZ(fields[1])
	if err != nil {
		return Identity{}, err
	}

	loc := time.FixedZone("", tz*60)
	return Identity{
		Name:      name,
		Email:     email,
		When:      time.Unix(unixSec, 0).In(loc),
		TZOffsetM: tz,
	}, nil
}

// TreeEntry is one (mode, name, child) triple inside a Tree. Name is a
// single path component and must never contain '/' or '\0'.
type TreeEntry struct {
	Mode uint32
	Name string
	Hash Hash
	Kind ObjectType // ObjectTypeBlob or ObjectTypeTree
}

// Tree is an ordered listing of directory entries, always kept sorted
// by Name for canonical encoding.
type Tree struct {
	Entries []TreeEntry
}

// ModeRegularFile is the permission-bits-plus-regular-file-marker mode
// for an ordinary (non-executable) tracked file.
const ModeRegularFile uint32 = 0100644

// ModeExecutableFile is the mode for a tracked file with any exec bit set.
const ModeExecutableFile uint32 = 0100755

// ModeTree is the mode for a nested tree (directory) entry.
const ModeTree uint32 = 040000

// EncodeTree sorts entries by name and serializes them as
// "<octal-mode> <name>\0<20-byte-hash>" records concatenated together.
// It rejects entries whose name contains '/' or '\0'.
func EncodeTree(t *Tree) ([]byte, error) {
	entries := make([]TreeEntry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var buf bytes.Buffer
	for _, e := range entries {
		if strings.ContainsAny(e.Name, "/\x00") {
			return nil, fmt.Errorf("%w: tree entry name %q contains '/' or NUL", ErrInvalidObject, e.Name)
		}
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(e.Hash[:])
	}
	return buf.Bytes(), nil
}

// DecodeTree parses a tree encoded by EncodeTree. Entry kind is derived
// from the mode (040000 => Tree, everything else => Blob).
func DecodeTree(data []byte) (*Tree, error) {
	tree := &Tree{Entries: make([]TreeEntry, 0)}

	for len(data) > 0 {
		nullIdx := bytes.IndexByte(data, 0)
		if nullIdx == -1 || nullIdx+21 > len(data) {
			return nil, fmt.Errorf("%w: truncated tree entry", ErrInvalidObject)
		}

		header := data[:nullIdx]
		modeStr, name, ok := bytes.Cut(header, []byte(" "))
		if !ok {
			return nil, fmt.Errorf("%w: malformed tree entry header", ErrInvalidObject)
		}

		mode, err := strconv.ParseUint(string(modeStr), 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad mode %q", ErrInvalidObject, modeStr)
		}

		entry := TreeEntry{Mode: uint32(mode), Name: string(name)}
		copy(entry.Hash[:], data[nullIdx+1:nullIdx+21])
		if entry.Mode == ModeTree {
			entry.Kind = ObjectTypeTree
		} else {
			entry.Kind = ObjectTypeBlob
		}

		tree.Entries = append(tree.Entries, entry)
		data = data[nullIdx+21:]
	}

	return tree, nil
}
