package manager

import (
	"context"
	"fmt"

	"github.com/cuemby/canopy/pkg/types"
	"gopkg.in/yaml.v3"
)

// Command operations
const (
	OpWrite  = "write"
	OpMerge  = "merge"
	OpDelete = "delete"
)

// Command is one change in a batch applied as a single transaction
type Command struct {
	Op        string              `yaml:"op" json:"op"`
	Datastore types.DatastoreType `yaml:"datastore,omitempty" json:"datastore,omitempty"`
	Path      string              `yaml:"path" json:"path"`
	Value     any                 `yaml:"value,omitempty" json:"value,omitempty"`
}

// Document is the file format read by ParseCommands
type Document struct {
	Commands []Command `yaml:"commands" json:"commands"`
}

// ParseCommands decodes a YAML document of commands. Commands without a
// datastore target the config datastore.
func ParseCommands(data []byte) ([]Command, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse commands: %w", err)
	}
	for i := range doc.Commands {
		if doc.Commands[i].Datastore == "" {
			doc.Commands[i].Datastore = types.Config
		}
	}
	return doc.Commands, nil
}

// Apply runs cmds in one transaction and waits for it to commit
func (m *Manager) Apply(ctx context.Context, cmds []Command) error {
	tx := m.NewWriteOnlyTransaction()
	for i, cmd := range cmds {
		if err := m.applyCommand(tx, cmd); err != nil {
			tx.Cancel()
			return fmt.Errorf("command %d (%s %s): %w", i, cmd.Op, cmd.Path, err)
		}
	}
	return tx.Commit().Wait(ctx)
}

func (m *Manager) applyCommand(tx *Transaction, cmd Command) error {
	kind, err := types.ParseDatastoreType(string(cmd.Datastore))
	if err != nil {
		return err
	}
	path, err := types.ParsePath(cmd.Path)
	if err != nil {
		return err
	}
	if path.IsEmpty() {
		return fmt.Errorf("%w: commands cannot target the datastore root", types.ErrInvalidPath)
	}

	switch cmd.Op {
	case OpWrite, OpMerge:
		node, err := types.FromValue(path.Last(), cmd.Value)
		if err != nil {
			return err
		}
		if cmd.Op == OpWrite {
			return tx.Put(kind, path, node)
		}
		return tx.Merge(kind, path, node)

	case OpDelete:
		return tx.Delete(kind, path)

	default:
		return fmt.Errorf("unknown command op: %s", cmd.Op)
	}
}
