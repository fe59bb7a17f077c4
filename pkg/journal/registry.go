package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"bulwark/pkg/bulwark"
)

// Definition describes one configured journal entry.
type Definition struct {
	// Name is the stable configured journal instance identifier.
	Name string
	// Kind identifies which builder should construct this journal.
	Kind string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Options stores journal-kind-specific settings.
	Options map[string]string
}

// BuilderFunc builds one journal from one configured definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (bulwark.Journal, error)

// Descriptor binds one journal kind token to its builder.
type Descriptor struct {
	// Kind is the journal kind token from configuration (for example "sqlite").
	Kind string
	// Builder constructs one journal for this kind.
	Builder BuilderFunc
}

// Registry maps journal kinds to journal builders.
type Registry struct {
	builders map[string]BuilderFunc
	kinds    []string
}

// NewRegistry creates one immutable journal registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	kinds := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Kind == "" {
			return nil, fmt.Errorf("new registry: empty descriptor kind")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry kind %s: nil builder", descriptor.Kind)
		}
		if _, exists := builders[descriptor.Kind]; exists {
			return nil, fmt.Errorf("new registry kind %s: duplicate", descriptor.Kind)
		}

		builders[descriptor.Kind] = descriptor.Builder
		kinds = append(kinds, descriptor.Kind)
	}
	sort.Strings(kinds)

	return &Registry{
		builders: builders,
		kinds:    kinds,
	}, nil
}

// Kinds returns all registered journal kinds in deterministic sorted order.
func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}

	kinds := make([]string, len(r.kinds))
	copy(kinds, r.kinds)

	return kinds
}

// BuildEnabled builds all enabled journal definitions and combines them into
// one journal. A single enabled definition yields its journal directly;
// several are combined with a Tee. Journals built before a failure are
// closed again.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) (bulwark.Journal, error) {
	if r == nil {
		return nil, fmt.Errorf("build journals: nil registry")
	}

	journals := make([]bulwark.Journal, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			closeAll(journals)
			return nil, fmt.Errorf("build journal: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			closeAll(journals)
			return nil, fmt.Errorf("build journal %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Kind == "" {
			closeAll(journals)
			return nil, fmt.Errorf("build journal %s: empty kind", definition.Name)
		}

		builder, exists := r.builders[definition.Kind]
		if !exists {
			closeAll(journals)
			return nil, fmt.Errorf("build journal %s kind %s: unsupported kind", definition.Name, definition.Kind)
		}

		built, err := builder(ctx, definition, logger)
		if err != nil {
			closeAll(journals)
			return nil, fmt.Errorf("build journal %s kind %s: %w", definition.Name, definition.Kind, err)
		}
		if built == nil {
			closeAll(journals)
			return nil, fmt.Errorf("build journal %s kind %s: nil journal", definition.Name, definition.Kind)
		}

		journals = append(journals, built)
	}

	if len(journals) == 0 {
		return nil, fmt.Errorf("build journals: no enabled definitions")
	}
	if len(journals) == 1 {
		return journals[0], nil
	}

	return NewTee(journals...), nil
}

func closeAll(journals []bulwark.Journal) {
	for _, journal := range journals {
		journal.Close()
	}
}
