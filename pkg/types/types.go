package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned when a textual path cannot be parsed
var ErrInvalidPath = errors.New("invalid path")

// PathArg identifies one step in a hierarchical path. Key is empty for
// plain containers and carries the list key for keyed entries.
type PathArg struct {
	Name string `json:"name" yaml:"name"`
	Key  string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Arg is a shorthand for a PathArg without key
func Arg(name string) PathArg {
	return PathArg{Name: name}
}

// KeyedArg is a shorthand for a keyed PathArg
func KeyedArg(name, key string) PathArg {
	return PathArg{Name: name, Key: key}
}

// ParsePathArg parses "name" or "name=key"
func ParsePathArg(s string) (PathArg, error) {
	if s == "" || strings.Contains(s, "/") {
		return PathArg{}, fmt.Errorf("%w: bad segment %q", ErrInvalidPath, s)
	}
	name, key, _ := strings.Cut(s, "=")
	if name == "" {
		return PathArg{}, fmt.Errorf("%w: empty name in segment %q", ErrInvalidPath, s)
	}
	return PathArg{Name: name, Key: key}, nil
}

// IsZero reports whether the argument is unset
func (a PathArg) IsZero() bool {
	return a.Name == "" && a.Key == ""
}

func (a PathArg) String() string {
	if a.Key == "" {
		return a.Name
	}
	return a.Name + "=" + a.Key
}

// Less orders arguments by name, then key
func (a PathArg) Less(b PathArg) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Key < b.Key
}

// Path is an absolute or shard-relative hierarchical address. The empty
// path denotes the root.
type Path []PathArg

// ParsePath parses paths of the form "/a/b=1/c". Both "" and "/" parse
// to the root path.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidPath, s)
	}
	segments := strings.Split(strings.TrimSuffix(s[1:], "/"), "/")
	path := make(Path, 0, len(segments))
	for _, seg := range segments {
		arg, err := ParsePathArg(seg)
		if err != nil {
			return nil, err
		}
		path = append(path, arg)
	}
	return path, nil
}

// MustParsePath is like ParsePath but panics on malformed input
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, arg := range p {
		b.WriteByte('/')
		b.WriteString(arg.String())
	}
	return b.String()
}

// IsEmpty reports whether p is the root path
func (p Path) IsEmpty() bool {
	return len(p) == 0
}

// Append returns a new path with args appended; p is never modified
func (p Path) Append(args ...PathArg) Path {
	out := make(Path, 0, len(p)+len(args))
	out = append(out, p...)
	return append(out, args...)
}

// Concat returns p followed by other
func (p Path) Concat(other Path) Path {
	return p.Append(other...)
}

// Parent returns the path without its last argument. The parent of the
// root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the final argument, or the zero PathArg for the root
func (p Path) Last() PathArg {
	if len(p) == 0 {
		return PathArg{}
	}
	return p[len(p)-1]
}

// Equal reports structural equality
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether p is a prefix of other (inclusive)
func (p Path) Contains(other Path) bool {
	if len(p) > len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// RelativeTo strips prefix from p. It reports false when prefix does not
// contain p.
func (p Path) RelativeTo(prefix Path) (Path, bool) {
	if !prefix.Contains(p) {
		return nil, false
	}
	return p[len(prefix):len(p):len(p)], true
}

// DatastoreType names one of the logical datastores
type DatastoreType string

const (
	Config      DatastoreType = "config"
	Operational DatastoreType = "operational"
)

// DatastoreTypes lists every supported datastore kind
var DatastoreTypes = []DatastoreType{Config, Operational}

// ParseDatastoreType validates a textual datastore kind
func ParseDatastoreType(s string) (DatastoreType, error) {
	switch DatastoreType(s) {
	case Config, Operational:
		return DatastoreType(s), nil
	default:
		return "", fmt.Errorf("unknown datastore type: %q", s)
	}
}

// ShardID identifies a shard by datastore kind and the path of its root
type ShardID struct {
	Datastore DatastoreType `json:"datastore" yaml:"datastore"`
	Path      Path          `json:"path" yaml:"path"`
}

// NewShardID builds a shard identifier
func NewShardID(datastore DatastoreType, path Path) ShardID {
	return ShardID{Datastore: datastore, Path: path}
}

// ParseShardID parses "config:/a/b"
func ParseShardID(s string) (ShardID, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ShardID{}, fmt.Errorf("invalid shard id %q: missing datastore", s)
	}
	ds, err := ParseDatastoreType(kind)
	if err != nil {
		return ShardID{}, err
	}
	path, err := ParsePath(rest)
	if err != nil {
		return ShardID{}, err
	}
	return ShardID{Datastore: ds, Path: path}, nil
}

func (id ShardID) String() string {
	return string(id.Datastore) + ":" + id.Path.String()
}

// Equal reports whether both identifiers name the same shard
func (id ShardID) Equal(other ShardID) bool {
	return id.Datastore == other.Datastore && id.Path.Equal(other.Path)
}

// Contains reports whether other lies at or under id
func (id ShardID) Contains(other ShardID) bool {
	return id.Datastore == other.Datastore && id.Path.Contains(other.Path)
}

// ContainsPath reports whether path lies at or under the shard root
func (id ShardID) ContainsPath(path Path) bool {
	return id.Path.Contains(path)
}
